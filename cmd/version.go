// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/natelust/reups/internal/version"
)

func initVersion(root *cobra.Command) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			writeVersionOutput(os.Stdout)
		},
	}
	root.AddCommand(versionCmd)
}

func writeVersionOutput(out io.Writer) {
	fmt.Fprintln(out, "Version: "+version.Version)
	if version.Vcs != "" {
		fmt.Fprintln(out, "Build Commit: "+version.Vcs)
	}
	if version.Timestamp != "" {
		fmt.Fprintln(out, "Build Timestamp: "+version.Timestamp)
	}
	fmt.Fprintln(out, "Go Version: "+version.GoVersion)
}
