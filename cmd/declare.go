// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/natelust/reups/internal/declarepipeline"
)

type declareFlagsT struct {
	productDir string
	tag        string
	source     string
	ident      string
	relative   bool
}

func initDeclare(root *cobra.Command) {
	var fl declareFlagsT

	declareCmd := &cobra.Command{
		Use:   "declare PRODUCT VERSION -r PATH",
		Short: "declare a new (product, version, tag, identity) tuple in a writable backend",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fl.productDir == "" {
				return fmt.Errorf("declare: -r PATH is required")
			}

			db, err := buildDatabase(log)
			if err != nil {
				return err
			}

			req := declarepipeline.Request{
				Product:    args[0],
				Version:    args[1],
				ProductDir: fl.productDir,
				Tag:        fl.tag,
				Identity:   fl.ident,
				Relative:   fl.relative,
				Target:     fl.source,
			}
			return declarepipeline.Run(db, req)
		},
	}

	fs := declareCmd.Flags()
	addProductDirFlag(fs, &fl.productDir)
	addTagFlagSingle(fs, &fl.tag)
	addSourceNameFlag(fs, &fl.source)
	addIdentFlag(fs, &fl.ident)
	addRelativeFlag(fs, &fl.relative)

	root.AddCommand(declareCmd)
}
