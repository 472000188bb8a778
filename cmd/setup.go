// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/natelust/reups/internal/activate"
	"github.com/natelust/reups/internal/depgraph"
	"github.com/natelust/reups/internal/overlay"
	"github.com/natelust/reups/internal/storeerr"
	"github.com/natelust/reups/internal/table"
)

type setupFlagsT struct {
	just     bool
	fromPath string
	keep     bool
	tags     repeatedStringFlag
	inexact  bool
}

func initSetup(root *cobra.Command) {
	var fl setupFlagsT

	setupCmd := &cobra.Command{
		Use:   "setup [PRODUCT]",
		Short: "emit the environment mutations to activate a product and its dependencies",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fl.fromPath != "" && len(args) != 0 {
				return fmt.Errorf("setup: PRODUCT must be absent when -r is given")
			}
			if fl.fromPath == "" && len(args) != 1 {
				return fmt.Errorf("setup: PRODUCT is required unless -r is given")
			}

			db, err := buildDatabase(log)
			if err != nil {
				return err
			}

			rendered, err := runSetup(db, args, fl, strings.Join(append([]string{"reups"}, os.Args[1:]...), " "))
			if err != nil {
				return err
			}
			fmt.Print(rendered)
			return nil
		},
	}

	fs := setupCmd.Flags()
	addJustFlag(fs, &fl.just)
	addFromPathFlag(fs, &fl.fromPath)
	addKeepFlag(fs, &fl.keep)
	addTagFlag(fs, &fl.tags)
	addInexactFlag(fs, &fl.inexact)

	root.AddCommand(setupCmd)
}

// runSetup runs one activation end-to-end: resolve the root, build the
// dependency graph (unless -j), walk it in topological order, and
// serialize the resulting shadow environment.
func runSetup(db *overlay.Database, args []string, fl setupFlagsT, invokingCmd string) (string, error) {
	mode := depgraph.Exact
	if fl.inexact {
		mode = depgraph.Inexact
	}

	tags := append([]string{}, fl.tags.v...)
	tags = append(tags, "current")

	var (
		root        string
		rootVersion string
		rootTbl     *table.Table
		rootFlavor  string
		rootLoc     string
	)

	g := depgraph.New()

	if fl.fromPath != "" {
		abs, err := filepath.Abs(fl.fromPath)
		if err != nil {
			return "", storeerr.MalformedPath("cannot resolve table path %s: %v", fl.fromPath, err)
		}
		raw, err := os.ReadFile(abs)
		if err != nil {
			return "", storeerr.Io(err, "reading table file %s", abs)
		}
		productDir := filepath.Dir(filepath.Dir(abs))
		root = strings.TrimSuffix(filepath.Base(abs), ".table")
		rootVersion = "LOCAL:" + abs
		rootTbl = table.Parse(string(raw), productDir)
		mode = depgraph.Inexact

		g.AddOrUpdateProduct(root, depgraph.Required)
		if !fl.just {
			if err := g.AddTable(db, root, rootTbl, mode, depgraph.Required, tags, true); err != nil && !storeerr.IsNotFound(err) {
				return "", err
			}
		} else {
			g.MarkProcessed(root)
		}
	} else {
		root = args[0]
		g.AddOrUpdateProduct(root, depgraph.Required)
		if fl.just {
			tbl, version, loc, ok := db.TableFromTag(root, tags)
			if !ok {
				return "", storeerr.NotFound("no table for %s via tags %v", root, tags)
			}
			rootTbl, rootVersion, rootLoc = tbl, version, loc
			g.MarkProcessed(root)
		} else {
			if err := g.AddProductByTag(db, root, tags, mode, depgraph.Required, true); err != nil && !storeerr.IsNotFound(err) {
				return "", err
			}
			tbl, version, loc, ok := db.TableFromTag(root, tags)
			if !ok {
				return "", storeerr.NotFound("no table for %s via tags %v", root, tags)
			}
			rootTbl, rootVersion, rootLoc = tbl, version, loc
		}
		flavors := db.FlavorsFromVersion(root, rootVersion)
		if len(flavors) > 0 {
			rootFlavor = flavors[0]
		}
	}

	topo, err := g.TopoOrder()
	if err != nil {
		return "", err
	}

	var fallbackTags []string
	if mode == depgraph.Inexact {
		fallbackTags = tags
	}
	nodes, err := activate.BuildNodes(db, g, topo, root, rootVersion, rootTbl, rootFlavor, rootLoc, fallbackTags, log)
	if err != nil {
		return "", err
	}

	eng := activate.NewEngine()
	eng.Activate(nodes, activate.Options{Keep: fl.keep})
	eng.AppendHistory(invokingCmd)
	return eng.Render(), nil
}
