// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package record

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	text := "PRODUCT = fooA\nVERSION= v1\nno equals here\nFLAVOR =Linux64 \n"
	values := Parse(text)
	require.Equal(t, "fooA", values["PRODUCT"])
	require.Equal(t, "v1", values["VERSION"])
	require.Equal(t, "Linux64", values["FLAVOR"])
	_, ok := values["no equals here"]
	require.False(t, ok)
}

func TestParseEmptyFileYieldsEmptyMap(t *testing.T) {
	values := Parse("")
	require.NotNil(t, values)
	require.Len(t, values, 0)
}

func TestLazyLoadOnFirstGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v1.version")
	require.NoError(t, os.WriteFile(path, []byte("PRODUCT = fooA\n"), 0o644))

	r, err := New(path, false)
	require.NoError(t, err)

	// mutate the file after construction; since New(preload=false) hasn't
	// read it yet, the first Get should observe this content, not a stale
	// read from construction time.
	require.NoError(t, os.WriteFile(path, []byte("PRODUCT = fooB\n"), 0o644))

	v, ok, err := r.Get("PRODUCT")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fooB", v)
}

func TestPreloadReadsImmediately(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v1.version")
	require.NoError(t, os.WriteFile(path, []byte("PRODUCT = fooA\n"), 0o644))

	r, err := New(path, true)
	require.NoError(t, err)

	v, ok, err := r.Get("PRODUCT")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "fooA", v)
}

func TestMissingFileErrors(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing.version"), true)
	require.Error(t, err)
}

func TestParseIndentedGroupLines(t *testing.T) {
	// Version files written by the fixed templates indent keys inside
	// Group:/End: blocks; parsing is structure-agnostic.
	text := "FILE = version\nPRODUCT = fooA\nGroup:\n   FLAVOR = Linux64\n   PROD_DIR = /opt/fooA\nEnd:\n"
	values := Parse(text)
	require.Equal(t, "Linux64", values["FLAVOR"])
	require.Equal(t, "/opt/fooA", values["PROD_DIR"])
	_, ok := values["Group:"]
	require.False(t, ok)
}

func TestParseFirstEqualsWins(t *testing.T) {
	values := Parse("TABLE_FILE = a = b\n")
	require.Equal(t, "a = b", values["TABLE_FILE"])
}

func TestParseLastDuplicateKeyWins(t *testing.T) {
	values := Parse("VERSION = v1\nVERSION = v2\n")
	require.Equal(t, "v2", values["VERSION"])
}

func TestConcurrentGetParsesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "v1.version")
	require.NoError(t, os.WriteFile(path, []byte("PRODUCT = fooA\nVERSION = v1\n"), 0o644))

	r, err := New(path, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok, err := r.Get("PRODUCT")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "fooA", v)
		}()
	}
	wg.Wait()
}

func TestAllReturnsCopy(t *testing.T) {
	r, err := New("", false)
	require.NoError(t, err)
	r.values = map[string]string{"A": "1"}
	r.loadErr = nil
	r.once.Do(func() {})

	all, err := r.All()
	require.NoError(t, err)
	all["A"] = "2"

	v, _, err := r.Get("A")
	require.NoError(t, err)
	require.Equal(t, "1", v)
}
