// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package overlay implements the multi-source product database: an
// ordered union of store.Backend instances presenting a single
// read/write API, with deterministic backend naming and insertion order.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/natelust/reups/internal/config"
	"github.com/natelust/reups/internal/logging"
	"github.com/natelust/reups/internal/store"
	"github.com/natelust/reups/internal/store/jsondb"
	"github.com/natelust/reups/internal/store/posixstore"
	"github.com/natelust/reups/internal/storeerr"
	"github.com/natelust/reups/internal/table"

	"github.com/sirupsen/logrus"
)

type tableCacheEntry struct {
	tbl *table.Table
	loc string
}

// Database is the overlay over one or more store.Backend instances.
type Database struct {
	backends []store.Backend
	log      *logrus.Logger

	tableCache map[string]tableCacheEntry
}

// Builder assembles a Database from the four optional source classes in
// a fixed, deterministic insertion order.
type Builder struct {
	settings      config.Settings
	log           *logrus.Logger
	identityRegex *regexp.Regexp
}

// NewBuilder returns a Builder seeded with settings.
func NewBuilder(settings config.Settings, log *logrus.Logger) *Builder {
	if log == nil {
		log = logging.New(0, "text")
	}
	return &Builder{settings: settings, log: log}
}

// WithIdentityRegex sets the regex used to extract directory-store
// identities; nil disables identity extraction.
func (b *Builder) WithIdentityRegex(re *regexp.Regexp) *Builder {
	b.identityRegex = re
	return b
}

// Build constructs the Database, ingesting backends in a deterministic
// order: EUPS_PATH directory stores, the user directory store,
// REUPS_PATH single-file stores, the user single-file store, then any
// explicitly supplied extra paths.
func (b *Builder) Build() (*Database, error) {
	db := &Database{log: b.log, tableCache: map[string]tableCacheEntry{}}

	if !b.settings.NoSys {
		for _, loc := range config.EupsPathEntries() {
			name := fmt.Sprintf("posix_system_%s", parentDirName(loc))
			s, err := posixstore.New(name, loc, b.identityRegex)
			if err != nil {
				return nil, err
			}
			db.backends = append(db.backends, s)
		}
	}

	if !b.settings.NoUser {
		if loc, ok := config.UserPosixDBPath(b.settings.Home); ok {
			s, err := posixstore.New("posix_user", loc, b.identityRegex)
			if err != nil {
				return nil, err
			}
			db.backends = append(db.backends, s)
		}
	}

	if !b.settings.NoSys {
		for _, loc := range config.ReupsPathEntries() {
			name := fmt.Sprintf("json_system_%s", parentDirName(loc))
			s, err := jsondb.New(name, loc)
			if err != nil {
				return nil, err
			}
			db.backends = append(db.backends, s)
		}
	}

	if !b.settings.NoUser {
		if loc, ok := config.UserJSONDBPath(b.settings.Home); ok {
			s, err := jsondb.New("json_user", loc)
			if err != nil {
				return nil, err
			}
			db.backends = append(db.backends, s)
		}
	}

	for i, extra := range b.settings.ExtraPaths {
		name := fmt.Sprintf("Extra_%d", i)
		if strings.HasSuffix(extra, ".json") {
			s, err := jsondb.New(name, extra)
			if err != nil {
				return nil, err
			}
			db.backends = append(db.backends, s)
		} else {
			s, err := posixstore.New(name, extra, b.identityRegex)
			if err != nil {
				return nil, err
			}
			db.backends = append(db.backends, s)
		}
	}

	return db, nil
}

func parentDirName(location string) string {
	return filepath.Base(filepath.Dir(location))
}

// Backends returns the backends in insertion/priority order.
func (db *Database) Backends() []store.Backend { return db.backends }

// Backend returns the backend with the given id, if present.
func (db *Database) Backend(id string) (store.Backend, bool) {
	for _, b := range db.backends {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// AllProducts returns the union of product names across every backend, in
// first-seen insertion order.
func (db *Database) AllProducts() []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range db.backends {
		for _, p := range b.Products() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// ProductVersions returns the union of versions of product across every
// backend.
func (db *Database) ProductVersions(product string) []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range db.backends {
		versions, ok := b.Versions(product)
		if !ok {
			continue
		}
		for _, v := range versions {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

// ProductTags returns the union of tags of product across every backend.
func (db *Database) ProductTags(product string) []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range db.backends {
		tags, ok := b.Tags(product)
		if !ok {
			continue
		}
		for _, t := range tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// FlavorsFromVersion returns the union of flavor strings recorded for
// (product, version) across every backend.
func (db *Database) FlavorsFromVersion(product, version string) []string {
	seen := map[string]bool{}
	var out []string
	for _, b := range db.backends {
		f, ok := b.Flavor(product, version)
		if !ok || f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// VersionsFromTag resolves tags to versions: tags are iterated
// in caller-supplied order (outer), backends in insertion order (inner).
func (db *Database) VersionsFromTag(product string, tags []string) []string {
	var out []string
	for _, tag := range tags {
		for _, b := range db.backends {
			if v, ok := b.VersionFor(product, tag); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

// TableFromVersion resolves the table for (product, version), returning
// the table and the owning backend's location. When multiple backends
// carry the same tuple, the first-inserted backend wins, a
// warning is emitted, and the result is cached.
func (db *Database) TableFromVersion(product, version string) (*table.Table, string, bool) {
	key := product + "\x00" + version
	if cached, ok := db.tableCache[key]; ok {
		return cached.tbl, cached.loc, true
	}

	var matches []store.Backend
	for _, b := range db.backends {
		if _, ok := b.Versions(product); !ok {
			continue
		}
		if _, ok := b.Flavor(product, version); ok {
			matches = append(matches, b)
		}
	}
	if len(matches) == 0 {
		return nil, "", false
	}
	if len(matches) > 1 && db.log != nil {
		db.log.Warnf("ambiguous table for %s %s across %d backends; using %s", product, version, len(matches), matches[0].ID())
	}
	winner := matches[0]
	tbl, ok := winner.Table(product, version)
	if !ok {
		return nil, "", false
	}
	// The location reported here is the owning backend's directory, which
	// activation strips of its trailing ups_db segment for the -Z field of
	// SETUP_* payloads.
	loc := winner.Location()
	db.tableCache[key] = tableCacheEntry{tbl: tbl, loc: loc}
	return tbl, loc, true
}

// TableFromTag collects versions via
// VersionsFromTag, then try them in *reverse* collection order, returning
// the first table that resolves.
func (db *Database) TableFromTag(product string, tags []string) (*table.Table, string, string, bool) {
	versions := db.VersionsFromTag(product, tags)
	for i := len(versions) - 1; i >= 0; i-- {
		if tbl, loc, ok := db.TableFromVersion(product, versions[i]); ok {
			return tbl, versions[i], loc, true
		}
	}
	return nil, "", "", false
}

// TableByVersion implements depgraph.TableLookup.
func (db *Database) TableByVersion(product, version string) (*table.Table, bool) {
	tbl, _, ok := db.TableFromVersion(product, version)
	return tbl, ok
}

// TableByTags implements depgraph.TableLookup.
func (db *Database) TableByTags(product string, tags []string) (*table.Table, string, bool) {
	tbl, version, _, ok := db.TableFromTag(product, tags)
	return tbl, version, ok
}

// DatabasePathFromVersion returns the location of the backend that would
// win TableFromVersion's tie-break for (product, version).
func (db *Database) DatabasePathFromVersion(product, version string) (string, bool) {
	for _, b := range db.backends {
		if _, ok := b.Flavor(product, version); ok {
			return b.Location(), true
		}
	}
	return "", false
}

// ResolveIdentity finds the backend carrying (product, identity), and
// returns its resolved version plus the owning backend.
func (db *Database) ResolveIdentity(product, identity string) (string, store.Backend, bool) {
	for _, b := range db.backends {
		if b.HasIdentity(product, identity) {
			if v, ok := b.VersionForIdent(product, identity); ok {
				return v, b, true
			}
		}
	}
	return "", nil, false
}

// TableFromIdentity resolves a table through the identity index: if any
// backend reports (product, identity), resolve to that backend's version
// and refetch the table by version.
func (db *Database) TableFromIdentity(product, identity string) (*table.Table, string, string, bool) {
	version, _, ok := db.ResolveIdentity(product, identity)
	if !ok {
		return nil, "", "", false
	}
	tbl, loc, ok := db.TableFromVersion(product, version)
	if !ok {
		return nil, "", "", false
	}
	return tbl, version, loc, true
}

// WritableBackends returns the subset of backends that currently accept
// writes.
func (db *Database) WritableBackends() []store.Backend {
	var out []store.Backend
	for _, b := range db.backends {
		if b.Writable() {
			out = append(out, b)
		}
	}
	return out
}

// SelectTarget picks the backend a declare writes to: the explicitly
// named one if given and writable, otherwise the single writable
// backend found by probing.
func (db *Database) SelectTarget(explicit string) (store.Backend, error) {
	if explicit != "" {
		b, ok := db.Backend(explicit)
		if !ok {
			return nil, storeerr.NoSuchStore("no backend named %s", explicit)
		}
		if !b.Writable() {
			return nil, storeerr.NoWritableStore("backend %s is not writable", explicit)
		}
		return b, nil
	}

	writable := db.WritableBackends()
	switch len(writable) {
	case 0:
		return nil, storeerr.NoWritableStore("no writable backend found")
	case 1:
		return writable[0], nil
	default:
		names := make([]string, len(writable))
		for i, b := range writable {
			names[i] = b.ID()
		}
		return nil, storeerr.MultipleWritableStores("multiple writable backends: %s", strings.Join(names, ", "))
	}
}

// EnsureDir returns a MalformedPath error when path does not exist.
// Declare path resolution calls it on the already resolved product dir.
func EnsureDir(path string) error {
	if _, err := os.Stat(path); err != nil {
		return storeerr.MalformedPath("path does not exist: %s", path)
	}
	return nil
}
