// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// prepFunction is the shell glue emitted by `reups prep`: a wrapper
// function that evals the export line produced by setup so the
// mutations land in the calling shell.
const prepFunction = `reups() {
  eval "$(command reups setup "$@")"
}
`

func initPrep(root *cobra.Command) {
	prepCmd := &cobra.Command{
		Use:   "prep",
		Short: "print a shell snippet defining a wrapper function around setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(prepFunction)
			return nil
		},
	}
	root.AddCommand(prepCmd)
}
