// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package depgraph implements the dependency graph: directed
// product nodes labeled Required or Optional, edges weighted by the raw
// version string recorded in the dependant's table, and a topological
// walk that yields dependency leaves before the products that need them.
package depgraph

import (
	"fmt"
	"sort"

	"github.com/natelust/reups/internal/storeerr"
	"github.com/natelust/reups/internal/table"
)

// Label is a node's required/optional classification.
type Label int

const (
	Optional Label = iota
	Required
)

// Mode selects the exact or inexact dependency set of a table.
type Mode int

const (
	Exact Mode = iota
	Inexact
)

type edge struct {
	to      string
	version string
}

// Graph is a directed dependency graph over product names.
type Graph struct {
	labels    map[string]Label
	out       map[string][]edge // dependant -> dependencies
	order     []string          // insertion order of nodes
	processed map[string]bool
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		labels:    map[string]Label{},
		out:       map[string][]edge{},
		processed: map[string]bool{},
	}
}

// AddOrUpdateProduct creates the node for name or promotes it from
// Optional to Required. The reverse promotion never occurs.
func (g *Graph) AddOrUpdateProduct(name string, label Label) {
	existing, ok := g.labels[name]
	if !ok {
		g.labels[name] = label
		g.order = append(g.order, name)
		return
	}
	if existing == Optional && label == Required {
		g.labels[name] = Required
	}
}

// HasNode reports whether name has been added to the graph.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.labels[name]
	return ok
}

// Label returns the label of a node, if present.
func (g *Graph) Label(name string) (Label, bool) {
	l, ok := g.labels[name]
	return l, ok
}

// ConnectProducts adds a directed edge from -> to, weighted by
// versionLiteral. Both nodes must already exist.
func (g *Graph) ConnectProducts(from, to, versionLiteral string) error {
	if !g.HasNode(from) {
		return storeerr.NotFound("connect_products: unknown node %s", from)
	}
	if !g.HasNode(to) {
		return storeerr.NotFound("connect_products: unknown node %s", to)
	}
	g.out[from] = append(g.out[from], edge{to: to, version: versionLiteral})
	return nil
}

// MarkProcessed records that name is being or has been expanded, so
// recursive construction never descends into it again; this is what
// breaks dependency cycles.
func (g *Graph) MarkProcessed(name string) { g.processed[name] = true }

// Processed reports whether name has already been (or is being) expanded.
func (g *Graph) Processed(name string) bool { return g.processed[name] }

// TableLookup resolves a (product, tags, mode) or (product, version,
// mode) to a table, for AddProductByTag/AddProductByVersion. It is
// implemented by the database overlay.
type TableLookup interface {
	TableByVersion(product, version string) (*table.Table, bool)
	TableByTags(product string, tags []string) (*table.Table, string, bool)
}

// AddProductByVersion resolves product's table by exact version and
// delegates to AddTable.
func (g *Graph) AddProductByVersion(lookup TableLookup, product, version string, mode Mode, label Label, recurse bool) error {
	tbl, ok := lookup.TableByVersion(product, version)
	if !ok {
		g.AddOrUpdateProduct(product, label)
		g.MarkProcessed(product)
		return storeerr.NotFound("no table for %s %s", product, version)
	}
	return g.AddTable(lookup, product, tbl, mode, label, nil, recurse)
}

// AddProductByTag resolves product's table through lookup.TableByTags,
// which decides the order in which tags are tried, and delegates to
// AddTable.
func (g *Graph) AddProductByTag(lookup TableLookup, product string, tags []string, mode Mode, label Label, recurse bool) error {
	tbl, _, ok := lookup.TableByTags(product, tags)
	if !ok {
		g.AddOrUpdateProduct(product, label)
		g.MarkProcessed(product)
		return storeerr.NotFound("no table for %s via tags %v", product, tags)
	}
	return g.AddTable(lookup, product, tbl, mode, label, tags, recurse)
}

// AddTable adds the root node for product, selects the exact or inexact
// dependency set per mode, and for each dependency adds/promotes the
// node, connects the edge, and (when recurse is true) recurses: exact
// mode always recurses by literal version; inexact mode recurses by tag
// only when a tag list was supplied.
func (g *Graph) AddTable(lookup TableLookup, product string, tbl *table.Table, mode Mode, label Label, tags []string, recurse bool) error {
	g.AddOrUpdateProduct(product, label)
	g.MarkProcessed(product)

	deps := tbl.Exact
	if mode == Inexact {
		deps = tbl.Inexact
	}

	if err := g.addDeps(lookup, product, deps.Required, Required, mode, tags, recurse); err != nil {
		return err
	}
	if err := g.addDeps(lookup, product, deps.Optional, Optional, mode, tags, recurse); err != nil {
		return err
	}
	return nil
}

func (g *Graph) addDeps(lookup TableLookup, product string, deps map[string]string, label Label, mode Mode, tags []string, recurse bool) error {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, depName := range names {
		versionLiteral := deps[depName]
		g.AddOrUpdateProduct(depName, label)
		if err := g.ConnectProducts(product, depName, versionLiteral); err != nil {
			return err
		}
		if g.Processed(depName) || !recurse {
			continue
		}
		// A dependency with no resolvable table is not fatal here: the
		// node stays in the graph and activation decides what a missing
		// Required table means.
		switch mode {
		case Exact:
			if err := g.AddProductByVersion(lookup, depName, versionLiteral, mode, label, recurse); err != nil && !storeerr.IsNotFound(err) {
				return err
			}
		case Inexact:
			if len(tags) > 0 {
				if err := g.AddProductByTag(lookup, depName, tags, mode, label, recurse); err != nil && !storeerr.IsNotFound(err) {
					return err
				}
			}
		}
	}
	return nil
}

// ResolvedVersion implements edge-weight selection for activation:
// among the edge weights pointing at dep from its dependants, the
// lexicographically maximum non-empty literal wins; if all are empty the
// caller must fall back to tag resolution.
func (g *Graph) ResolvedVersion(dep string) (string, bool) {
	var best string
	found := false
	for _, dependant := range g.order {
		for _, e := range g.out[dependant] {
			if e.to != dep {
				continue
			}
			if e.version == "" {
				continue
			}
			if !found || e.version > best {
				best = e.version
				found = true
			}
		}
	}
	return best, found
}

// TopoOrder returns nodes in topological order: dependency leaves first,
// the root (the first node added) last.
func (g *Graph) TopoOrder() ([]string, error) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var out []string

	var visit func(n string) error
	visit = func(n string) error {
		switch color[n] {
		case black:
			return nil
		case gray:
			return fmt.Errorf("dependency cycle detected at %s", n)
		}
		color[n] = gray
		deps := g.out[n]
		depNames := make([]string, len(deps))
		for i, e := range deps {
			depNames[i] = e.to
		}
		sort.Strings(depNames)
		for _, d := range depNames {
			if err := visit(d); err != nil {
				return err
			}
		}
		color[n] = black
		out = append(out, n)
		return nil
	}

	for _, n := range g.order {
		if err := visit(n); err != nil {
			return nil, err
		}
	}

	// visit appends a node only after all of its dependencies, so out is
	// already leaves-first / root-last.
	return out, nil
}
