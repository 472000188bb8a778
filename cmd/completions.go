// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// elvishCompletionTemplate is a hand-rolled stub: cobra has no native
// elvish generator, so reups emits a minimal `set edit:completion:arg-
// completer` stanza that shells out to reups itself for candidates,
// mirroring the shape cobra's own bash/zsh/fish generators produce.
const elvishCompletionTemplate = `
set edit:completion:arg-completer[reups] = [@words]{
    var n = (count $words)
    reups __complete $@words[1:(- $n 1)] 2>/dev/null | each {|line|
        put $line
    }
}
`

func initCompletions(root *cobra.Command) {
	completionsCmd := &cobra.Command{
		Use:       "completions SHELL",
		Short:     "generate a shell-completion script",
		ValidArgs: []string{"bash", "zsh", "fish", "elvish"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(os.Stdout)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			case "elvish":
				_, err := fmt.Fprint(os.Stdout, elvishCompletionTemplate)
				return err
			default:
				return fmt.Errorf("completions: unknown shell %q", args[0])
			}
		},
	}
	root.AddCommand(completionsCmd)
}
