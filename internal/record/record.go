// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package record implements the lazily parsed flat key/value record that
// backs every version and tag file in a store backend.
package record

import (
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/natelust/reups/internal/storeerr"
)

// Record is a flat key/value map loaded from a single file on disk. The
// file is read and parsed at most once; subsequent lookups reuse the
// parsed map.
//
// A Record is safe for concurrent use: Get may be called from multiple
// goroutines, and only the first caller that arrives before the record has
// preloaded triggers the parse.
type Record struct {
	path    string
	once    sync.Once
	mu      sync.RWMutex
	values  map[string]string
	loadErr error
}

// New returns a Record for path. If preload is true the file is read and
// parsed immediately; otherwise parsing is deferred to the first Get.
func New(path string, preload bool) (*Record, error) {
	r := &Record{path: path}
	if preload {
		if err := r.ensureLoaded(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Get returns the value for key and whether it was present.
func (r *Record) Get(key string) (string, bool, error) {
	if err := r.ensureLoaded(); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok, nil
}

// All returns a copy of the full parsed map.
func (r *Record) All() (map[string]string, error) {
	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

func (r *Record) ensureLoaded() error {
	r.once.Do(func() {
		r.loadErr = r.load()
	})
	return r.loadErr
}

func (r *Record) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return storeerr.Io(err, "reading record %s", r.path)
	}
	if !utf8.Valid(raw) {
		return storeerr.Io(nil, "record %s is not valid UTF-8", r.path)
	}
	values := Parse(string(raw))
	r.mu.Lock()
	r.values = values
	r.mu.Unlock()
	return nil
}

// Parse implements the record line grammar: for
// each line, the first '=' splits it into a key and a value, each
// whitespace-trimmed; lines without '=' are ignored. Parsing is
// structure-agnostic: lines inside a Group:/End: block are
// indented and parse the same as lines outside one. An empty file parses
// to an empty, non-nil map.
func Parse(text string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if key == "" {
			continue
		}
		values[key] = value
	}
	return values
}
