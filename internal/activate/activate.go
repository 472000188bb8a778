// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package activate implements the activation engine: folding a
// resolved dependency graph and the database into an ordered set of
// environment-variable mutations, plus SETUP_* and *_DIR bookkeeping,
// with idempotent re-activation.
package activate

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/natelust/reups/internal/depgraph"
	"github.com/natelust/reups/internal/overlay"
	"github.com/natelust/reups/internal/table"
)

// Unset is the sentinel value recorded in the shadow map for a variable
// being dismantled.
const Unset = "UNSET"

// ProductNode carries everything the materialization routine needs for
// one graph node.
type ProductNode struct {
	Product  string
	Version  string
	Table    *table.Table
	Flavor   string
	Location string // owning backend's directory
}

// Options controls one activation run.
type Options struct {
	Keep    bool
	Unsetup bool
}

// Engine folds graph nodes into a shadow environment map.
type Engine struct {
	shadow   map[string]string
	realEnv  map[string]string
	priorDir map[string]string // DIR_KEY -> prior value, captured from realEnv before mutation
	order    []string          // emission order of shadow keys
	seen     map[string]bool
}

// NewEngine seeds the engine from the current process environment. All
// mutations land in the shadow map; the real environment is never
// touched.
func NewEngine() *Engine {
	e := &Engine{
		shadow:   map[string]string{},
		realEnv:  map[string]string{},
		priorDir: map[string]string{},
		seen:     map[string]bool{},
	}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			e.realEnv[kv[:i]] = kv[i+1:]
		}
	}
	return e
}

// DirKey computes the PRODUCT_DIR variable name for product.
func DirKey(product string) string {
	return normalizeKey(product) + "_DIR"
}

// SetupKey computes the SETUP_PRODUCT variable name for product.
func SetupKey(product string) string {
	return "SETUP_" + normalizeKey(product)
}

func normalizeKey(product string) string {
	return strings.ToUpper(strings.ReplaceAll(product, " ", "_"))
}

func platformDefaultFlavor() string {
	if runtime.GOOS == "darwin" {
		return "Darwin64"
	}
	return "Linux64"
}

// stripUpsDB removes a trailing "ups_db" path segment from a backend
// location.
func stripUpsDB(loc string) string {
	loc = strings.TrimSuffix(loc, "/")
	loc = strings.TrimSuffix(loc, "ups_db")
	return strings.TrimSuffix(loc, "/")
}

// setupPayload assembles the SETUP_* bookkeeping value. The parts join
// with plain spaces; Render applies the backslash-space escaping when
// the shadow map is serialized for the shell.
func setupPayload(product, version, flavor, location string) string {
	if flavor == "" {
		flavor = platformDefaultFlavor()
	}
	locDisplay := stripUpsDB(location)
	if locDisplay == "" {
		locDisplay = `\(none\)`
	}
	parts := []string{product, version, "-f", flavor, "-Z", locDisplay}
	return strings.Join(parts, " ")
}

func (e *Engine) setVar(key, value string) {
	if !e.seen[key] {
		e.seen[key] = true
		e.order = append(e.order, key)
	}
	e.shadow[key] = value
}

// Materialize folds one node's bindings and env directives into the
// shadow map.
func (e *Engine) Materialize(node ProductNode, opts Options) {
	dirKey := DirKey(node.Product)
	setupKey := SetupKey(node.Product)

	if opts.Keep {
		if _, ok := e.shadow[dirKey]; ok {
			return
		}
		if _, ok := e.realEnv[dirKey]; ok {
			return
		}
	}

	if prior, ok := e.realEnv[dirKey]; ok {
		e.priorDir[dirKey] = prior
	}

	switch {
	case opts.Unsetup:
		e.setVar(dirKey, Unset)
		e.setVar(setupKey, Unset)
	case node.Table != nil:
		e.setVar(dirKey, node.Table.ProductDir)
		e.setVar(setupKey, setupPayload(node.Product, node.Version, node.Flavor, node.Location))
	}

	if node.Table == nil {
		return
	}

	varNames := make([]string, 0, len(node.Table.EnvVar))
	for v := range node.Table.EnvVar {
		varNames = append(varNames, v)
	}
	sort.Strings(varNames)

	for _, varName := range varNames {
		directive := node.Table.EnvVar[varName]
		existing := e.existingValue(varName)

		if prior, ok := e.priorDir[dirKey]; ok {
			existing = surgicallyRemove(existing, prior)
		}

		if opts.Unsetup {
			continue
		}

		var newVal string
		switch directive.Action {
		case table.Prepend:
			newVal = joinNonEmpty(directive.Payload, existing)
		case table.Append:
			newVal = joinNonEmpty(existing, directive.Payload)
		case table.Set:
			newVal = directive.Payload
		}
		e.setVar(varName, newVal)
	}
}

// joinNonEmpty joins a and b with ':' unless one side is empty, so a
// prepend into a previously empty variable yields exactly the payload
// rather than "payload:".
func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + ":" + b
}

func (e *Engine) existingValue(varName string) string {
	if v, ok := e.shadow[varName]; ok {
		return v
	}
	if v, ok := e.realEnv[varName]; ok {
		return v
	}
	return ""
}

// surgicallyRemove removes the contiguous substring of existing that
// starts at the first occurrence of prior and runs up to and including
// the next ':' or the end of the string. This prevents prepend/append
// variables from growing on re-activation.
func surgicallyRemove(existing, prior string) string {
	if prior == "" {
		return existing
	}
	idx := strings.Index(existing, prior)
	if idx < 0 {
		return existing
	}
	end := idx + len(prior)
	if colon := strings.IndexByte(existing[end:], ':'); colon >= 0 {
		end += colon + 1
	} else {
		end = len(existing)
	}
	return existing[:idx] + existing[end:]
}

// Activate materializes nodes in order. Callers pass the root first and
// dependencies after it, as BuildNodes produces.
func (e *Engine) Activate(nodes []ProductNode, opts Options) {
	for _, n := range nodes {
		e.Materialize(n, opts)
	}
}

// CanonicalizeCommand rewrites the invoking command string for history
// bookkeeping: any token that follows a -r flag is resolved to an
// absolute path, so a relative `setup -r ./ups/foo.table` replayed from
// another directory still names the same file.
func CanonicalizeCommand(invokingCmd string) string {
	tokens := strings.Fields(invokingCmd)
	for i := 0; i < len(tokens)-1; i++ {
		if tokens[i] != "-r" && tokens[i] != "--from-path" {
			continue
		}
		if abs, err := filepath.Abs(tokens[i+1]); err == nil {
			tokens[i+1] = abs
		}
		i++
	}
	return strings.Join(tokens, " ")
}

// AppendHistory appends invokingCmd to REUPS_HISTORY, pipe-separated
// from any existing history and quoted so embedded spaces survive shell
// evaluation. Path arguments following -r
// are canonicalized before insertion.
func (e *Engine) AppendHistory(invokingCmd string) {
	invokingCmd = CanonicalizeCommand(invokingCmd)
	const key = "REUPS_HISTORY"
	existing := e.existingValue(key)
	quoted := fmt.Sprintf("%q", invokingCmd)
	if existing == "" {
		e.setVar(key, quoted)
		return
	}
	e.setVar(key, existing+"|"+quoted)
}

// Render serializes the shadow map into the shell output record: an
// `export K=V K=V ...` line, with UNSET-valued keys moved to a trailing
// `; unset K K ...` segment, and values containing spaces backslash-space
// escaped.
func (e *Engine) Render() string {
	var exports []string
	var unsets []string
	for _, k := range e.order {
		v := e.shadow[k]
		if v == Unset {
			unsets = append(unsets, k)
			continue
		}
		exports = append(exports, k+"="+escapeValue(v))
	}

	var b strings.Builder
	b.WriteString("export ")
	b.WriteString(strings.Join(exports, " "))
	if len(unsets) > 0 {
		b.WriteString("; unset ")
		b.WriteString(strings.Join(unsets, " "))
	}
	b.WriteString("\n")
	return b.String()
}

func escapeValue(v string) string {
	return strings.ReplaceAll(v, " ", `\ `)
}

// BuildNodes resolves each product in a topological node list (from
// depgraph.Graph.TopoOrder, leaves-first / root-last) into ProductNodes
// using db, returning them reordered root-first so Activate materializes
// the root before its dependencies, while still resolving each node's
// chosen version via the graph's edge-weight selection.
//
// A node that cannot be resolved to a table is handled per its graph
// label: an Optional node is skipped silently; a Required node fails activation unless
// SETUP_{PRODUCT} is already set in the real process environment, in
// which case BuildNodes warns via log (if non-nil) and continues,
// leaving the already-active product's bindings untouched.
func BuildNodes(db *overlay.Database, g *depgraph.Graph, topo []string, root string, rootVersion string, rootTbl *table.Table, rootFlavor, rootLoc string, tags []string, log *logrus.Logger) ([]ProductNode, error) {
	nodes := make([]ProductNode, 0, len(topo))
	rootNode := ProductNode{Product: root, Version: rootVersion, Table: rootTbl, Flavor: rootFlavor, Location: rootLoc}
	nodes = append(nodes, rootNode)

	for i := len(topo) - 1; i >= 0; i-- {
		p := topo[i]
		if p == root {
			continue
		}
		version, ok := g.ResolvedVersion(p)
		var tbl *table.Table
		var loc string
		if ok {
			tbl, loc, ok = db.TableFromVersion(p, version)
		} else if len(tags) > 0 && db != nil {
			// All edge weights pointing at p are empty literals: resolve
			// by the tag list instead.
			tbl, version, loc, ok = db.TableFromTag(p, tags)
		}
		if !ok {
			label, _ := g.Label(p)
			if label == depgraph.Required {
				if _, present := os.LookupEnv(SetupKey(p)); !present {
					return nil, fmt.Errorf("activate: required dependency %s has no resolvable table and no existing %s in the environment", p, SetupKey(p))
				}
				if log != nil {
					log.Warnf("required dependency %s has no resolvable table; %s already set in the environment, continuing", p, SetupKey(p))
				}
			}
			continue
		}
		flavors := db.FlavorsFromVersion(p, version)
		flavor := ""
		if len(flavors) > 0 {
			flavor = flavors[0]
		}
		nodes = append(nodes, ProductNode{Product: p, Version: version, Table: tbl, Flavor: flavor, Location: loc})
	}
	return nodes, nil
}
