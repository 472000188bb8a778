// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/natelust/reups/internal/overlay"
	"github.com/natelust/reups/internal/presentation"
)

type listFlagsT struct {
	short    bool
	long     bool
	tags     repeatedStringFlag
	onlyTags bool
	onlyVers bool
	sources  bool
}

func initList(root *cobra.Command) {
	var fl listFlagsT

	listCmd := &cobra.Command{
		Use:   "list [PRODUCT]",
		Short: "list database contents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := buildDatabase(log)
			if err != nil {
				return err
			}
			return runList(db, fl, args, os.Stdout)
		},
	}

	fs := listCmd.Flags()
	addShortFlag(fs, &fl.short)
	addLongFlag(fs, &fl.long)
	addTagFlag(fs, &fl.tags)
	addOnlyTagsFlag(fs, &fl.onlyTags)
	addOnlyVersFlag(fs, &fl.onlyVers)
	addSourcesFlag(fs, &fl.sources)

	root.AddCommand(listCmd)
}

// runList renders one `reups list` invocation to w.
func runList(db *overlay.Database, fl listFlagsT, args []string, w io.Writer) error {
	if fl.short && fl.long {
		return fmt.Errorf("list: -s and -l are mutually exclusive")
	}
	if (fl.onlyTags && fl.onlyVers) || (fl.onlyTags && fl.sources) || (fl.onlyVers && fl.sources) {
		return fmt.Errorf("list: --onlyTags, --onlyVers, and --sources are mutually exclusive")
	}

	if fl.sources {
		var ids, locs []string
		for _, b := range db.Backends() {
			ids = append(ids, b.ID())
			locs = append(locs, b.Location())
		}
		presentation.Sources(w, ids, locs)
		return nil
	}

	products := db.AllProducts()
	if len(args) == 1 {
		products = filterProduct(products, args[0])
	}
	if len(fl.tags.v) > 0 {
		products = filterByTags(db, products, fl.tags.v)
	}

	if fl.onlyVers {
		versionsByProduct := map[string][]string{}
		for _, p := range products {
			versionsByProduct[p] = db.ProductVersions(p)
		}
		presentation.OnlyVersions(w, products, versionsByProduct)
		return nil
	}

	if fl.onlyTags {
		tagsByProduct := map[string][]string{}
		for _, p := range products {
			tagsByProduct[p] = db.ProductTags(p)
		}
		presentation.OnlyTags(w, products, tagsByProduct)
		return nil
	}

	if fl.short {
		presentation.Short(w, products)
		return nil
	}

	if fl.long {
		var rows []presentation.LongRow
		for _, p := range products {
			for _, v := range db.ProductVersions(p) {
				rowTags := tagsForVersion(db, p, v)
				if len(fl.tags.v) > 0 && !intersects(rowTags, fl.tags.v) {
					continue
				}
				flavor := ""
				if fs := db.FlavorsFromVersion(p, v); len(fs) > 0 {
					flavor = fs[0]
				}
				prodDir := ""
				for _, b := range db.Backends() {
					if loc, ok := b.LocationFor(p, v); ok {
						prodDir = loc
						break
					}
				}
				rows = append(rows, presentation.LongRow{
					Row:        presentation.Row{Product: p, Version: v, Tags: rowTags},
					Flavor:     flavor,
					ProductDir: prodDir,
				})
			}
		}
		presentation.Long(w, rows)
		return nil
	}

	var rows []presentation.Row
	for _, p := range products {
		for _, v := range db.ProductVersions(p) {
			rowTags := tagsForVersion(db, p, v)
			if len(fl.tags.v) > 0 && !intersects(rowTags, fl.tags.v) {
				continue
			}
			rows = append(rows, presentation.Row{Product: p, Version: v, Tags: rowTags})
		}
	}
	presentation.Full(w, rows)
	return nil
}

// filterByTags restricts products to those carrying at least one of the
// requested tags in some backend.
func filterByTags(db *overlay.Database, products, tags []string) []string {
	var out []string
	for _, p := range products {
		if len(db.VersionsFromTag(p, tags)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func filterProduct(products []string, want string) []string {
	for _, p := range products {
		if p == want {
			return []string{p}
		}
	}
	return nil
}

// tagsForVersion returns the subset of product's tags that resolve to
// version in at least one backend.
func tagsForVersion(db *overlay.Database, product, version string) []string {
	var out []string
	for _, t := range db.ProductTags(product) {
		for _, v := range db.VersionsFromTag(product, []string{t}) {
			if v == version {
				out = append(out, t)
				break
			}
		}
	}
	return out
}
