// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package jsondb implements the single-file store backend:
// the entire backend persisted as one JSON document with advisory
// flock(2) locking, index-parallel Versions/Tables sequences, and
// mandatory per-version identity.
package jsondb

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/natelust/reups/internal/store"
	"github.com/natelust/reups/internal/storeerr"
	"github.com/natelust/reups/internal/table"
)

type versionRecord struct {
	Product    string `json:"PRODUCT"`
	Version    string `json:"VERSION"`
	Ident      string `json:"IDENT"`
	ProdDir    string `json:"PROD_DIR"`
	UpsDir     string `json:"UPS_DIR"`
	Flavor     string `json:"FLAVOR"`
	Declarer   string `json:"DECLARER"`
	Declared   string `json:"DECLARED"`
	Qualifiers string `json:"QUALIFIERS"`
}

type depsRecord struct {
	Required map[string]string `json:"required"`
	Optional map[string]string `json:"optional"`
}

type envDirective struct {
	Action  string `json:"action"`
	Payload string `json:"payload"`
}

type tableRecord struct {
	Exact   depsRecord              `json:"exact"`
	Inexact depsRecord              `json:"inexact"`
	Env     map[string]envDirective `json:"env"`
}

type tagRecord struct {
	Product  string `json:"PRODUCT"`
	Tag      string `json:"TAG"`
	Version  string `json:"VERSION"`
	Declarer string `json:"DECLARER"`
	Declared string `json:"DECLARED"`
}

// document is the on-disk shape: three named sequences, Tables
// index-parallel to Versions.
type document struct {
	Versions []versionRecord `json:"Versions"`
	Tables   []tableRecord   `json:"Tables"`
	Tags     []tagRecord     `json:"Tags"`
}

// Store is the single-file store.Backend.
type Store struct {
	id   string
	path string

	idx store.Index[*store.VersionEntry, *store.TagEntry]

	mu       sync.Mutex
	tableIdx map[string]int // "product\x00version" -> index into loaded doc.Tables
	doc      document

	pending map[string][]pendingInput
	// pendingTables serves Table() reads for tuples declared in memory
	// but not yet synced.
	pendingTables map[string]*table.Table
}

type pendingInput struct {
	in  store.DeclareInput
	now string
}

// New loads (or, if absent, initializes empty) the single-file store at
// path. A shared lock is held for the duration of the read.
func New(id, path string) (*Store, error) {
	s := &Store{
		id:            id,
		path:          path,
		idx:           store.NewIndex[*store.VersionEntry, *store.TagEntry](path),
		tableIdx:      map[string]int{},
		pending:       map[string][]pendingInput{},
		pendingTables: map[string]*table.Table{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storeerr.Io(err, "opening single-file store %s", s.path)
	}
	defer f.Close()

	if err := flock(f, unix.LOCK_SH); err != nil {
		return storeerr.Io(err, "locking single-file store %s for read", s.path)
	}
	defer funlock(f)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return storeerr.Io(err, "reading single-file store %s", s.path)
	}
	if len(raw) == 0 {
		return nil
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return storeerr.Serialization(err, "decoding single-file store %s", s.path)
	}
	s.ingest(doc)
	return nil
}

func (s *Store) ingest(doc document) {
	s.doc = doc
	parentDir := filepath.Dir(s.path)
	for i, vr := range doc.Versions {
		prodDir := vr.ProdDir
		if !filepath.IsAbs(prodDir) {
			prodDir = filepath.Join(parentDir, prodDir)
		}
		ve := &store.VersionEntry{
			Product:  vr.Product,
			Version:  vr.Version,
			Identity: vr.Ident,
			Flavor:   vr.Flavor,
			Declarer: vr.Declarer,
			Declared: vr.Declared,
			ProdDir:  prodDir,
			UpsDir:   vr.UpsDir,
		}
		s.idx.AddVersion(vr.Product, vr.Version, vr.Ident, ve)
		s.tableIdx[tableKey(vr.Product, vr.Version)] = i
	}
	for _, tr := range doc.Tags {
		s.idx.AddTag(tr.Product, tr.Tag, &store.TagEntry{
			Product:  tr.Product,
			Chain:    tr.Tag,
			Version:  tr.Version,
			Declarer: tr.Declarer,
			Declared: tr.Declared,
		})
	}
}

func tableKey(product, version string) string { return product + "\x00" + version }

func (s *Store) ID() string       { return s.id }
func (s *Store) Location() string { return s.path }

func (s *Store) Products() []string { return s.idx.Products() }

func (s *Store) Versions(product string) ([]string, bool) {
	return s.idx.Versions(product)
}

func (s *Store) Tags(product string) ([]string, bool) {
	return s.idx.Tags(product)
}

func (s *Store) Identities(product string) ([]string, bool) {
	return s.idx.Identities(product)
}

// Table resolves the stored tableRecord for (product, version),
// expanding the ${PRODUCT_DIR} placeholder using the resolved
// product_dir.
func (s *Store) Table(product, version string) (*table.Table, bool) {
	if tbl, ok := s.pendingTables[tableKey(product, version)]; ok {
		return tbl, true
	}
	idx, ok := s.tableIdx[tableKey(product, version)]
	if !ok || idx >= len(s.doc.Tables) {
		return nil, false
	}
	ve, ok := s.idx.VersionEntryFor(product, version)
	if !ok {
		return nil, false
	}
	tr := s.doc.Tables[idx]
	t := &table.Table{
		ProductDir: ve.ProdDir,
		Exact:      table.Deps{Required: cloneMap(tr.Exact.Required), Optional: cloneMap(tr.Exact.Optional)},
		Inexact:    table.Deps{Required: cloneMap(tr.Inexact.Required), Optional: cloneMap(tr.Inexact.Optional)},
		EnvVar:     map[string]table.EnvDirective{},
	}
	for varName, ed := range tr.Env {
		action := table.Prepend
		switch ed.Action {
		case "append":
			action = table.Append
		case "set":
			action = table.Set
		}
		t.EnvVar[varName] = table.EnvDirective{
			Action:  action,
			Payload: expandProductDir(ed.Payload, ve.ProdDir),
		}
	}
	return t, true
}

func expandProductDir(payload, productDir string) string {
	const placeholder = "${PRODUCT_DIR}"
	out := ""
	rest := payload
	for {
		i := indexOf(rest, placeholder)
		if i < 0 {
			out += rest
			break
		}
		out += rest[:i] + productDir
		rest = rest[i+len(placeholder):]
	}
	return out
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) VersionFor(product, tag string) (string, bool) {
	te, ok := s.idx.TagEntryFor(product, tag)
	if !ok {
		return "", false
	}
	return te.Version, true
}

func (s *Store) VersionForIdent(product, ident string) (string, bool) {
	v, ok := s.idx.ProductToIdentToVersion[product][ident]
	return v, ok
}

func (s *Store) Flavor(product, version string) (string, bool) {
	ve, ok := s.idx.VersionEntryFor(product, version)
	if !ok {
		return "", false
	}
	return ve.Flavor, true
}

func (s *Store) LocationFor(product, version string) (string, bool) {
	ve, ok := s.idx.VersionEntryFor(product, version)
	if !ok {
		return "", false
	}
	return ve.ProdDir, true
}

func (s *Store) HasProduct(p string) bool { return s.idx.HasProduct(p) }

func (s *Store) HasIdentity(product, identity string) bool {
	return s.idx.HasIdentity(product, identity)
}

func (s *Store) IdentitiesPopulated() bool { return true }

// Writable reports whether the file can be written: writable if it does
// not yet exist, otherwise whether it can be opened read-write.
func (s *Store) Writable() bool {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return false
		}
		return true
	}
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// DeclareInMemory requires an identity per input and
// validates the whole batch before mutating any index.
func (s *Store) DeclareInMemory(inputs []store.DeclareInput) error {
	for _, in := range inputs {
		if in.Identity == "" {
			return storeerr.Conflict("single-file store requires an identity for %s %s", in.Product, in.Version)
		}
		if _, exists := s.idx.VersionEntryFor(in.Product, in.Version); exists {
			return storeerr.Conflict("version %s already declared for product %s", in.Version, in.Product)
		}
		if in.Tag != "" {
			if _, exists := s.idx.TagEntryFor(in.Product, in.Tag); exists {
				return storeerr.Conflict("tag %s already declared for product %s", in.Tag, in.Product)
			}
		}
		if s.idx.HasIdentity(in.Product, in.Identity) {
			return storeerr.Conflict("identity %s already declared for product %s", in.Identity, in.Product)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Format(time.RFC3339)
	for _, in := range inputs {
		ve := &store.VersionEntry{
			Product:  in.Product,
			Version:  in.Version,
			Identity: in.Identity,
			Flavor:   in.Flavor,
			Declarer: os.Getenv("USER"),
			Declared: now,
			ProdDir:  in.ProductDir,
			UpsDir:   "ups",
		}
		s.idx.AddVersion(in.Product, in.Version, in.Identity, ve)
		if in.Tag != "" {
			s.idx.AddTag(in.Product, in.Tag, &store.TagEntry{
				Product:  in.Product,
				Chain:    in.Tag,
				Flavor:   in.Flavor,
				Version:  in.Version,
				Declarer: ve.Declarer,
				Declared: ve.Declared,
			})
		}
		s.pending[in.Product] = append(s.pending[in.Product], pendingInput{in: in, now: now})
		if in.Tbl != nil {
			s.pendingTables[tableKey(in.Product, in.Version)] = in.Tbl
		}
	}
	return nil
}

// Sync serializes the union of on-disk state at sync time and the
// in-memory additions for product: it re-reads the file
// under an exclusive lock so concurrent writers of other products are not
// clobbered, merges, truncates, and rewrites.
func (s *Store) Sync(product string) error {
	s.mu.Lock()
	pending := s.pending[product]
	delete(s.pending, product)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return storeerr.Io(err, "creating parent dir for %s", s.path)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return storeerr.Io(err, "opening single-file store %s for sync", s.path)
	}
	defer f.Close()

	if err := flock(f, unix.LOCK_EX); err != nil {
		return storeerr.Io(err, "locking single-file store %s for write", s.path)
	}
	defer funlock(f)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return storeerr.Io(err, "re-reading single-file store %s", s.path)
	}
	var onDisk document
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &onDisk); err != nil {
			return storeerr.Serialization(err, "decoding single-file store %s", s.path)
		}
	}

	existingKeys := map[string]bool{}
	for _, vr := range onDisk.Versions {
		existingKeys[tableKey(vr.Product, vr.Version)] = true
	}
	existingTags := map[string]bool{}
	for _, tr := range onDisk.Tags {
		existingTags[tr.Tag+"\x00"+tr.Product] = true
	}

	for _, pe := range pending {
		key := tableKey(pe.in.Product, pe.in.Version)
		if existingKeys[key] {
			continue
		}
		existingKeys[key] = true

		prodDir := pe.in.ProductDir
		if rel, err := filepath.Rel(filepath.Dir(s.path), prodDir); err == nil && !isUpward(rel) {
			prodDir = rel
		}

		onDisk.Versions = append(onDisk.Versions, versionRecord{
			Product:  pe.in.Product,
			Version:  pe.in.Version,
			Ident:    pe.in.Identity,
			ProdDir:  prodDir,
			UpsDir:   "ups",
			Flavor:   pe.in.Flavor,
			Declarer: os.Getenv("USER"),
			Declared: pe.now,
		})
		onDisk.Tables = append(onDisk.Tables, tableRecordFrom(pe.in.Tbl))

		if pe.in.Tag != "" {
			tagKey := pe.in.Tag + "\x00" + pe.in.Product
			if !existingTags[tagKey] {
				existingTags[tagKey] = true
				onDisk.Tags = append(onDisk.Tags, tagRecord{
					Product:  pe.in.Product,
					Tag:      pe.in.Tag,
					Version:  pe.in.Version,
					Declarer: os.Getenv("USER"),
					Declared: pe.now,
				})
			}
		}
	}

	encoded, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return storeerr.Serialization(err, "encoding single-file store %s", s.path)
	}

	// Write to a uuid-suffixed sibling and rename into place rather than
	// truncating s.path in place, so a concurrent shared-lock reader on a
	// freshly-opened fd never observes a half-written document. The
	// exclusive flock held on f still protects the critical section
	// between readers and this writer, since both the old and new inodes
	// are covered by the same rename.
	tmp := s.path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, encoded, 0o644); err != nil {
		return storeerr.Io(err, "writing temp file %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return storeerr.Io(err, "renaming %s into place", tmp)
	}

	for _, pe := range pending {
		delete(s.pendingTables, tableKey(pe.in.Product, pe.in.Version))
	}
	s.ingest(onDisk)
	return nil
}

func isUpward(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

func tableRecordFrom(t *table.Table) tableRecord {
	if t == nil {
		return tableRecord{Env: map[string]envDirective{}}
	}
	tr := tableRecord{
		Exact:   depsRecord{Required: cloneMap(t.Exact.Required), Optional: cloneMap(t.Exact.Optional)},
		Inexact: depsRecord{Required: cloneMap(t.Inexact.Required), Optional: cloneMap(t.Inexact.Optional)},
		Env:     map[string]envDirective{},
	}
	for varName, ed := range t.EnvVar {
		action := "prepend"
		switch ed.Action {
		case table.Append:
			action = "append"
		case table.Set:
			action = "set"
		}
		payload := ed.Payload
		if t.ProductDir != "" {
			payload = replaceAll(payload, t.ProductDir, "${PRODUCT_DIR}")
		}
		tr.Env[varName] = envDirective{Action: action, Payload: payload}
	}
	return tr
}

func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	out := ""
	rest := s
	for {
		i := indexOf(rest, old)
		if i < 0 {
			out += rest
			break
		}
		out += rest[:i] + new
		rest = rest[i+len(old):]
	}
	return out
}

func flock(f *os.File, how int) error {
	return unix.Flock(int(f.Fd()), how)
}

func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// ComputeIdentity derives the deterministic identity used when a
// version arrives without one, as in a posix-to-single-file conversion:
// the lowercase hex SHA-1 of the version string.
func ComputeIdentity(version string) string {
	sum := sha1.Sum([]byte(version))
	return hex.EncodeToString(sum[:])
}
