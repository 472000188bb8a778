// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package cmd assembles the reups cobra command tree: a root
// *cobra.Command built once, with one init*(root) call per subcommand.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/natelust/reups/internal/envbind"
	"github.com/natelust/reups/internal/logging"

	"github.com/sirupsen/logrus"
)

type rootFlagsT struct {
	verboseCount int
	database     string
	noUser       bool
	noSys        bool
}

var globalFlags rootFlagsT

var log *logrus.Logger

// RootCommand is the top-level reups cobra command.
var RootCommand = newRootCommand()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "reups",
		Short: "reups: a dynamic-environment package manager",
		Long:  "reups computes and emits the shell-environment mutations needed to activate a product together with its resolved dependencies.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := envbind.CheckEnvironmentVariables(cmd); err != nil {
				return err
			}
			log = logging.New(globalFlags.verboseCount, "text")
			return nil
		},
	}

	fs := root.PersistentFlags()
	fs.CountVarP(&globalFlags.verboseCount, "verbose", "v", "increase log verbosity (repeatable)")
	addDatabaseFlag(fs, &globalFlags.database)
	addNoUserFlag(fs, &globalFlags.noUser)
	addNoSysFlag(fs, &globalFlags.noSys)

	initSetup(root)
	initPrep(root)
	initList(root)
	initCompletions(root)
	initEnv(root)
	initDeclare(root)
	initVersion(root)

	return root
}

// Execute runs the root command and maps any error to a process exit
// code via exitCodeFor.
func Execute() {
	if err := RootCommand.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}
