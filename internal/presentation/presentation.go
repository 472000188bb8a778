// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package presentation renders `list` command output with tablewriter:
// a thin table-building layer over concrete row types.
package presentation

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Row is one (product, version, tags) triple for the full listing.
type Row struct {
	Product string
	Version string
	Tags    []string
}

// Full renders the product listing sorted by product then version: the
// "current" tag is highlighted, and versions with no tags render an
// empty bracket list.
func Full(w io.Writer, rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Product != rows[j].Product {
			return rows[i].Product < rows[j].Product
		}
		return rows[i].Version < rows[j].Version
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PRODUCT", "VERSION", "TAGS"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	for _, r := range rows {
		table.Append([]string{r.Product, r.Version, formatTags(r.Tags)})
	}
	table.Render()
}

func formatTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	rendered := make([]string, len(tags))
	for i, t := range tags {
		if t == "current" {
			rendered[i] = "*current*"
		} else {
			rendered[i] = t
		}
	}
	return "[" + strings.Join(rendered, ", ") + "]"
}

// Short renders `reups list -s`: just the product names, one per line.
func Short(w io.Writer, products []string) {
	sorted := make([]string, len(products))
	copy(sorted, products)
	sort.Strings(sorted)
	for _, p := range sorted {
		fmt.Fprintln(w, p)
	}
}

// LongRow extends Row with the per-version flavor and product directory
// shown by `reups list -l`.
type LongRow struct {
	Row
	Flavor     string
	ProductDir string
}

// Long renders `reups list -l`: the full listing plus flavor and product
// directory columns.
func Long(w io.Writer, rows []LongRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Product != rows[j].Product {
			return rows[i].Product < rows[j].Product
		}
		return rows[i].Version < rows[j].Version
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PRODUCT", "VERSION", "FLAVOR", "TAGS", "PROD_DIR"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)

	for _, r := range rows {
		table.Append([]string{r.Product, r.Version, r.Flavor, formatTags(r.Tags), r.ProductDir})
	}
	table.Render()
}

// OnlyVersions renders `reups list --onlyVers`: one line per product,
// `P  [v, v, ...]`, with versions in the order they're given.
func OnlyVersions(w io.Writer, products []string, versionsByProduct map[string][]string) {
	for _, p := range products {
		fmt.Fprintf(w, "%s  [%s]\n", p, strings.Join(versionsByProduct[p], ", "))
	}
}

// OnlyTags renders `reups list --onlyTags`: one line per product listing
// its known tags.
func OnlyTags(w io.Writer, products []string, tagsByProduct map[string][]string) {
	for _, p := range products {
		fmt.Fprintf(w, "%s  [%s]\n", p, strings.Join(tagsByProduct[p], ", "))
	}
}

// Sources renders `reups list --sources`: the backends in priority order.
func Sources(w io.Writer, ids, locations []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"PRIORITY", "SOURCE", "LOCATION"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i, id := range ids {
		table.Append([]string{fmt.Sprintf("%d", i), id, locations[i]})
	}
	table.Render()
}
