// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package table implements the table-file parser: extraction
// of required/optional dependencies in exact and inexact modes, and of
// environment-variable directives.
package table

import (
	"regexp"
	"strings"
)

// Action is the kind of mutation an environment directive applies.
type Action int

const (
	Prepend Action = iota
	Append
	Set
)

func (a Action) String() string {
	switch a {
	case Prepend:
		return "prepend"
	case Append:
		return "append"
	case Set:
		return "set"
	default:
		return "unknown"
	}
}

// EnvDirective is one parsed envPrepend/envAppend/envSet (or path*)
// directive.
type EnvDirective struct {
	Action  Action
	Payload string
}

// Deps holds the required and optional dependency maps for one mode
// (exact or inexact).
type Deps struct {
	Required map[string]string
	Optional map[string]string
}

func newDeps() Deps {
	return Deps{Required: map[string]string{}, Optional: map[string]string{}}
}

// Table is the parsed representation of one product's table file.
type Table struct {
	ProductDir string
	Exact      Deps
	Inexact    Deps
	EnvVar     map[string]EnvDirective
}

var (
	// the leading 's' of "setupRequired"/"setupOptional" is deliberately
	// not part of the match; any directive name ending this way (e.g. a
	// future "unsetupRequired") is picked up the same way the legacy tool
	// did.
	exactDirective   = regexp.MustCompile(`etup(Required|Optional)\(\s*([A-Za-z_][\w.+-]*)\s+-j\s+(\S+?)\s*\)`)
	inexactDirective = regexp.MustCompile(`etup(Required|Optional)\(\s*([A-Za-z_][\w.+-]*)(?:\s+(\S[^\s)]*))?[^\)]*\)`)
	anyEnvDirective  = regexp.MustCompile(`env(Prepend|Append|Set)\(\s*([A-Za-z_]\w*)\s*,\s*([^)]*)\)|path(Prepend|Append)\(\s*([A-Za-z_]\w*)\s*,\s*([^)]*)\)`)
)

// Parse extracts dependencies and environment directives from the text of
// a table file. Malformed table files never fail to parse: unrecognized content simply yields no matches for
// that directive kind.
func Parse(text string, productDir string) *Table {
	cleaned := stripComments(text)

	t := &Table{
		ProductDir: productDir,
		Exact:      newDeps(),
		Inexact:    newDeps(),
		EnvVar:     map[string]EnvDirective{},
	}

	for _, m := range exactDirective.FindAllStringSubmatch(cleaned, -1) {
		kind, product, version := m[1], m[2], m[3]
		assignDep(t.Exact, kind, product, version)
	}

	for _, m := range inexactDirective.FindAllStringSubmatch(cleaned, -1) {
		kind, product, hint := m[1], m[2], m[3]
		if strings.HasPrefix(hint, "-") {
			hint = ""
		}
		assignDep(t.Inexact, kind, product, hint)
	}

	for _, m := range anyEnvDirective.FindAllStringSubmatch(cleaned, -1) {
		var kind, varName, payload string
		if m[1] != "" {
			kind, varName, payload = m[1], m[2], m[3]
		} else {
			kind, varName, payload = m[4], m[5], m[6]
		}
		action := Prepend
		switch kind {
		case "Append":
			action = Append
		case "Set":
			action = Set
		}
		t.EnvVar[varName] = EnvDirective{Action: action, Payload: resolveProductDir(strings.TrimSpace(payload), productDir)}
	}

	return t
}

func assignDep(d Deps, kind, product, version string) {
	if kind == "Required" {
		d.Required[product] = version
	} else {
		d.Optional[product] = version
	}
}

func resolveProductDir(payload, productDir string) string {
	return strings.ReplaceAll(payload, "${PRODUCT_DIR}", productDir)
}

// stripComments removes everything from the first '#' on each line
// onward, so that directives appearing only in a comment are never
// matched.
func stripComments(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			lines[i] = line[:idx]
		}
	}
	return strings.Join(lines, "\n")
}
