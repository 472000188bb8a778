// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package posixstore implements the directory store backend: one text
// file per version/tag record under {location}/{product}/, scanned with
// a small bounded worker pool, parsed lazily per entry, and declared
// additively with fixed write templates.
package posixstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/natelust/reups/internal/record"
	"github.com/natelust/reups/internal/store"
	"github.com/natelust/reups/internal/storeerr"
	"github.com/natelust/reups/internal/table"
)

// The parallelism constants are part of the store's contract: two
// producer workers walking product subdirectories, two collector
// workers per record kind, and two builder workers per record kind
// assembling the DBFile records.
const (
	numProducerWorkers  = 2
	numCollectorWorkers = 2
	numBuilderWorkers   = 2
)

// dbFile is one version or chain record held by the store. Records
// loaded from disk are parsed lazily: the file body is not read until a
// field of the entry is first needed, and then at most once. Records declared in memory this invocation
// carry their fields eagerly in mem.
type dbFile struct {
	path string
	rec  *record.Record
	mem  map[string]string
}

func newFileRecord(path string) *dbFile {
	r, _ := record.New(path, false)
	return &dbFile{path: path, rec: r}
}

func newMemRecord(fields map[string]string) *dbFile {
	return &dbFile{mem: fields}
}

// field returns the value stored under key, or "" when the key is absent
// or the backing file cannot be read. Absence is not an error on read
// paths.
func (d *dbFile) field(key string) string {
	if d.mem != nil {
		return d.mem[key]
	}
	v, _, _ := d.rec.Get(key)
	return v
}

// Store is the directory-backed store.Backend.
type Store struct {
	id  string
	idx store.Index[*dbFile, *dbFile]

	identityRegex *regexp.Regexp

	mu      sync.Mutex
	pending map[string][]pendingEntry
}

// pendingEntry is one declared-but-unsynced record batch: the eager
// values the fixed write templates need.
type pendingEntry struct {
	version *store.VersionEntry
	tag     *store.TagEntry
	tbl     *table.Table
}

// New scans location with the fixed worker-pool topology and returns
// the resulting Store. identityRegex may be nil, in which case the
// identity index is never populated.
func New(id, location string, identityRegex *regexp.Regexp) (*Store, error) {
	s := &Store{
		id:            id,
		idx:           store.NewIndex[*dbFile, *dbFile](location),
		identityRegex: identityRegex,
		pending:       map[string][]pendingEntry{},
	}
	if err := s.build(); err != nil {
		return nil, err
	}
	return s, nil
}

// fileJob names one record file found by a producer, before its DBFile
// has been built.
type fileJob struct {
	product string
	path    string
	stem    string // filename without extension
}

// builtRecord is one assembled DBFile plus the index keys derived from
// its filename. Version and identity come from the filename stem, never
// from the (lazily parsed) body.
type builtRecord struct {
	product  string
	name     string // version name or tag name
	identity string
	file     *dbFile
}

// build runs the scan pipeline: two producer workers are fed a
// round-robin partition of the product subdirectories; each producer
// dispatches every record file round-robin to one of two collector
// workers per record kind; after the producers drain, two builder
// workers per kind turn the collected jobs into DBFile records; finally
// the per-worker accumulators are merged into the indices.
func (s *Store) build() error {
	entries, err := os.ReadDir(s.idx.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storeerr.Io(err, "scanning store %s", s.idx.Location)
	}

	var products []string
	for _, e := range entries {
		if e.IsDir() {
			products = append(products, e.Name())
		}
	}
	if len(products) == 0 {
		return nil
	}

	versionChans := make([]chan fileJob, numCollectorWorkers)
	chainChans := make([]chan fileJob, numCollectorWorkers)
	for i := range versionChans {
		versionChans[i] = make(chan fileJob, 64)
		chainChans[i] = make(chan fileJob, 64)
	}

	producers := &errgroup.Group{}
	for w := 0; w < numProducerWorkers; w++ {
		w := w
		producers.Go(func() error {
			// Round-robin partition of the product list.
			versionRR, chainRR := 0, 0
			for i := w; i < len(products); i += numProducerWorkers {
				product := products[i]
				dirEntries, err := os.ReadDir(filepath.Join(s.idx.Location, product))
				if err != nil {
					if os.IsNotExist(err) {
						continue
					}
					return storeerr.Io(err, "scanning product dir %s", product)
				}
				for _, de := range dirEntries {
					if de.IsDir() {
						continue
					}
					name := de.Name()
					job := fileJob{
						product: product,
						path:    filepath.Join(s.idx.Location, product, name),
					}
					switch filepath.Ext(name) {
					case ".version":
						job.stem = strings.TrimSuffix(name, ".version")
						versionChans[versionRR%numCollectorWorkers] <- job
						versionRR++
					case ".chain":
						job.stem = strings.TrimSuffix(name, ".chain")
						chainChans[chainRR%numCollectorWorkers] <- job
						chainRR++
					}
				}
			}
			return nil
		})
	}

	// Collector workers accumulate jobs per worker; their accumulators
	// are handed to the builder pools once the producers drain.
	versionJobs := make([][]fileJob, numCollectorWorkers)
	chainJobs := make([][]fileJob, numCollectorWorkers)
	collectors := &sync.WaitGroup{}
	for w := 0; w < numCollectorWorkers; w++ {
		w := w
		collectors.Add(2)
		go func() {
			defer collectors.Done()
			for job := range versionChans[w] {
				versionJobs[w] = append(versionJobs[w], job)
			}
		}()
		go func() {
			defer collectors.Done()
			for job := range chainChans[w] {
				chainJobs[w] = append(chainJobs[w], job)
			}
		}()
	}

	producerErr := producers.Wait()
	for i := range versionChans {
		close(versionChans[i])
		close(chainChans[i])
	}
	collectors.Wait()
	if producerErr != nil {
		return producerErr
	}

	versionRecords, err := s.buildRecords(flatten(versionJobs), true)
	if err != nil {
		return err
	}
	chainRecords, err := s.buildRecords(flatten(chainJobs), false)
	if err != nil {
		return err
	}

	// Merge: the final index order is deterministic only up to the
	// partition by record kind; sort within each kind for
	// reproducibility.
	sort.Slice(versionRecords, func(i, j int) bool {
		if versionRecords[i].product != versionRecords[j].product {
			return versionRecords[i].product < versionRecords[j].product
		}
		return versionRecords[i].name < versionRecords[j].name
	})
	for _, br := range versionRecords {
		s.idx.AddVersion(br.product, br.name, br.identity, br.file)
	}

	sort.Slice(chainRecords, func(i, j int) bool {
		if chainRecords[i].product != chainRecords[j].product {
			return chainRecords[i].product < chainRecords[j].product
		}
		return chainRecords[i].name < chainRecords[j].name
	})
	for _, br := range chainRecords {
		s.idx.AddTag(br.product, br.name, br.file)
	}

	return nil
}

// buildRecords runs one auxiliary builder pool: two workers turning
// collected file jobs into DBFile records. For version
// files the name and identity are split out of the filename stem; for
// chain files the stem is the tag name.
func (s *Store) buildRecords(jobs []fileJob, isVersion bool) ([]builtRecord, error) {
	out := make([]builtRecord, len(jobs))
	builders := &errgroup.Group{}
	for w := 0; w < numBuilderWorkers; w++ {
		w := w
		builders.Go(func() error {
			for i := w; i < len(jobs); i += numBuilderWorkers {
				job := jobs[i]
				br := builtRecord{product: job.product, name: job.stem, file: newFileRecord(job.path)}
				if isVersion && s.identityRegex != nil {
					if version, identity := splitVersionIdentity(job.stem, s.identityRegex); identity != "" {
						br.name = version
						br.identity = identity
					}
				}
				out[i] = br
			}
			return nil
		})
	}
	if err := builders.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func flatten(jobs [][]fileJob) []fileJob {
	var out []fileJob
	for _, js := range jobs {
		out = append(out, js...)
	}
	return out
}

// splitVersionIdentity implements the identity-extraction widening rule:
// given a match spanning [s, e), the identity is the substring [s, e+1)
// of the raw string, the matched range widened by one character to the
// right. The version is what precedes the match, with a single
// separating '-' stripped.
func splitVersionIdentity(raw string, re *regexp.Regexp) (version, identity string) {
	loc := re.FindStringIndex(raw)
	if loc == nil {
		return raw, ""
	}
	matchStart, matchEnd := loc[0], loc[1]
	end := matchEnd + 1
	if end > len(raw) {
		end = len(raw)
	}
	identity = raw[matchStart:end]
	version = strings.TrimSuffix(raw[:matchStart], "-")
	return version, identity
}

// resolveProdDir resolves a PROD_DIR value: absolute literals pass
// through;
// relative values join with the parent of the store location.
func (s *Store) resolveProdDir(prodDir string) string {
	if filepath.IsAbs(prodDir) {
		return prodDir
	}
	return filepath.Join(filepath.Dir(s.idx.Location), prodDir)
}

func tableFilePath(resolvedProdDir, upsDir, product string) string {
	if upsDir == "none" {
		upsDir = "ups"
	}
	return filepath.Join(resolvedProdDir, upsDir, product+".table")
}

func (s *Store) ID() string       { return s.id }
func (s *Store) Location() string { return s.idx.Location }

func (s *Store) Products() []string { return s.idx.Products() }

func (s *Store) Versions(product string) ([]string, bool) {
	return s.idx.Versions(product)
}

func (s *Store) Tags(product string) ([]string, bool) {
	return s.idx.Tags(product)
}

func (s *Store) Identities(product string) ([]string, bool) {
	if s.identityRegex == nil {
		return nil, false
	}
	return s.idx.Identities(product)
}

// Table locates and parses the table file for (product, version): the
// version record's PROD_DIR and UPS_DIR fields are read (triggering the
// lazy parse on first access), the table path is assembled from them,
// and the file is parsed with ${PRODUCT_DIR} resolved to the
// absolute product directory.
func (s *Store) Table(product, version string) (*table.Table, bool) {
	ve, ok := s.idx.VersionEntryFor(product, version)
	if !ok {
		return nil, false
	}
	resolved := s.resolveProdDir(ve.field("PROD_DIR"))
	path := tableFilePath(resolved, ve.field("UPS_DIR"), product)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return table.Parse(string(raw), resolved), true
}

func (s *Store) VersionFor(product, tag string) (string, bool) {
	te, ok := s.idx.TagEntryFor(product, tag)
	if !ok {
		return "", false
	}
	return te.field("VERSION"), true
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
	return ve.field("FLAVOR"), true
}

func (s *Store) LocationFor(product, version string) (string, bool) {
	ve, ok := s.idx.VersionEntryFor(product, version)
	if !ok {
		return "", false
	}
	return s.resolveProdDir(ve.field("PROD_DIR")), true
}

func (s *Store) HasProduct(p string) bool { return s.idx.HasProduct(p) }

func (s *Store) HasIdentity(product, identity string) bool {
	return s.idx.HasIdentity(product, identity)
}

func (s *Store) IdentitiesPopulated() bool {
	return s.identityRegex != nil
}

// Writable probes writability by attempting a transient create/remove in
// the store root.
func (s *Store) Writable() bool {
	root := s.idx.Location
	if err := os.MkdirAll(root, 0o755); err != nil {
		return false
	}
	probe := filepath.Join(root, fmt.Sprintf(".reups-writable-probe-%d", time.Now().UnixNano()))
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// DeclareInMemory validates the whole batch before mutating any index:
// either every input is accepted, or none are.
func (s *Store) DeclareInMemory(inputs []store.DeclareInput) error {
	for _, in := range inputs {
		if _, exists := s.idx.VersionEntryFor(in.Product, in.Version); exists {
			return storeerr.Conflict("version %s already declared for product %s", in.Version, in.Product)
		}
		if in.Tag != "" {
			if _, exists := s.idx.TagEntryFor(in.Product, in.Tag); exists {
				return storeerr.Conflict("tag %s already declared for product %s", in.Tag, in.Product)
			}
		}
		if in.Identity != "" && s.idx.HasIdentity(in.Product, in.Identity) {
			return storeerr.Conflict("identity %s already declared for product %s", in.Identity, in.Product)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range inputs {
		ve := &store.VersionEntry{
			Product:  in.Product,
			Version:  in.Version,
			Identity: in.Identity,
			Flavor:   in.Flavor,
			Declarer: os.Getenv("USER"),
			Declared: time.Now().UTC().Format(time.RFC3339),
			ProdDir:  in.ProductDir,
			UpsDir:   "ups",
		}
		s.idx.AddVersion(in.Product, in.Version, in.Identity, newMemRecord(map[string]string{
			"PRODUCT":  ve.Product,
			"VERSION":  ve.Version,
			"FLAVOR":   ve.Flavor,
			"DECLARER": ve.Declarer,
			"DECLARED": ve.Declared,
			"PROD_DIR": ve.ProdDir,
			"UPS_DIR":  ve.UpsDir,
		}))

		var te *store.TagEntry
		if in.Tag != "" {
			te = &store.TagEntry{
				Product:  in.Product,
				Chain:    in.Tag,
				Flavor:   in.Flavor,
				Version:  in.Version,
				Declarer: ve.Declarer,
				Declared: ve.Declared,
			}
			s.idx.AddTag(in.Product, in.Tag, newMemRecord(map[string]string{
				"PRODUCT":  te.Product,
				"CHAIN":    te.Chain,
				"FLAVOR":   te.Flavor,
				"VERSION":  te.Version,
				"DECLARER": te.Declarer,
				"DECLARED": te.Declared,
			}))
		}

		s.pending[in.Product] = append(s.pending[in.Product], pendingEntry{version: ve, tag: te, tbl: in.Tbl})
	}
	return nil
}

const versionFileTemplate = `FILE = version
PRODUCT = %s
VERSION = %s
#*************************************************
Group:
   FLAVOR = %s
   QUALIFIERS =
   DECLARER = %s
   DECLARED = %s
   PROD_DIR = %s
   UPS_DIR = %s
   TABLE_FILE = %s.table
End:
`

const chainFileTemplate = `FILE = chain
PRODUCT = %s
CHAIN = %s
#*************************************************
Group:
   FLAVOR = %s
   QUALIFIERS =
   VERSION = %s
   DECLARER = %s
   DECLARED = %s
End:
`

// Sync writes the in-memory additions for product to disk:
// additive only, never overwriting an existing version/tag file, and
// rewriting the product's table file only when it differs from what is
// already on disk.
func (s *Store) Sync(product string) error {
	s.mu.Lock()
	pending := s.pending[product]
	delete(s.pending, product)
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	productDir := filepath.Join(s.idx.Location, product)
	if err := os.MkdirAll(productDir, 0o755); err != nil {
		return storeerr.Io(err, "creating product dir %s", productDir)
	}

	for _, pe := range pending {
		ve := pe.version
		versionFileName := ve.Version
		if ve.Identity != "" {
			versionFileName = ve.Version + "-" + ve.Identity
		}
		versionPath := filepath.Join(productDir, versionFileName+".version")
		if !fileExists(versionPath) {
			content := fmt.Sprintf(versionFileTemplate, ve.Product, ve.Version, ve.Flavor, ve.Declarer, ve.Declared, ve.ProdDir, ve.UpsDir, ve.Product)
			if err := os.WriteFile(versionPath, []byte(content), 0o644); err != nil {
				return storeerr.Io(err, "writing version file %s", versionPath)
			}
		}

		if pe.tag != nil {
			tagPath := filepath.Join(productDir, pe.tag.Chain+".chain")
			if !fileExists(tagPath) {
				content := fmt.Sprintf(chainFileTemplate, pe.tag.Product, pe.tag.Chain, pe.tag.Flavor, pe.tag.Version, pe.tag.Declarer, pe.tag.Declared)
				if err := os.WriteFile(tagPath, []byte(content), 0o644); err != nil {
					return storeerr.Io(err, "writing chain file %s", tagPath)
				}
			}
		}

		if pe.tbl != nil {
			if err := s.syncTableFile(ve, pe.tbl); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) syncTableFile(ve *store.VersionEntry, tbl *table.Table) error {
	resolved := s.resolveProdDir(ve.ProdDir)
	path := tableFilePath(resolved, ve.UpsDir, ve.Product)

	rendered := renderTable(tbl)

	if existing, err := os.ReadFile(path); err == nil {
		if parsedExisting := table.Parse(string(existing), resolved); tablesEqual(parsedExisting, tbl) {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return storeerr.Io(err, "creating ups dir for %s", path)
	}
	return atomicWriteFile(path, []byte(rendered))
}

// atomicWriteFile writes content to a uuid-suffixed temp file in path's
// directory, then renames it into place, so a concurrent reader of path
// never observes a partially written table file.
func atomicWriteFile(path string, content []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return storeerr.Io(err, "writing temp file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return storeerr.Io(err, "renaming %s into place", tmp)
	}
	return nil
}

// renderTable writes the canonical textual form of a table. Directives
// are emitted in sorted key order so repeated syncs of the same table
// produce byte-identical files.
func renderTable(tbl *table.Table) string {
	var b strings.Builder
	for _, product := range sortedKeys(tbl.Exact.Required) {
		fmt.Fprintf(&b, "setupRequired(%s -j %s)\n", product, tbl.Exact.Required[product])
	}
	for _, product := range sortedKeys(tbl.Exact.Optional) {
		fmt.Fprintf(&b, "setupOptional(%s -j %s)\n", product, tbl.Exact.Optional[product])
	}
	varNames := make([]string, 0, len(tbl.EnvVar))
	for v := range tbl.EnvVar {
		varNames = append(varNames, v)
	}
	sort.Strings(varNames)
	for _, varName := range varNames {
		dir := tbl.EnvVar[varName]
		payload := strings.ReplaceAll(dir.Payload, tbl.ProductDir, "${PRODUCT_DIR}")
		switch dir.Action {
		case table.Prepend:
			fmt.Fprintf(&b, "envPrepend(%s, %s)\n", varName, payload)
		case table.Append:
			fmt.Fprintf(&b, "envAppend(%s, %s)\n", varName, payload)
		case table.Set:
			fmt.Fprintf(&b, "envSet(%s, %s)\n", varName, payload)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func tablesEqual(a, b *table.Table) bool {
	return mapsEqual(a.Exact.Required, b.Exact.Required) &&
		mapsEqual(a.Exact.Optional, b.Exact.Optional) &&
		mapsEqual(a.Inexact.Required, b.Inexact.Required) &&
		mapsEqual(a.Inexact.Optional, b.Inexact.Optional) &&
		envVarsEqual(a.EnvVar, b.EnvVar)
}

func envVarsEqual(a, b map[string]table.EnvDirective) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || other.Action != v.Action || other.Payload != v.Payload {
			return false
		}
	}
	return true
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
