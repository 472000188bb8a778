// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package jsondb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/natelust/reups/internal/store"
	"github.com/natelust/reups/internal/table"
)

func TestNewOnMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)
	require.False(t, s.HasProduct("fooA"))
	require.True(t, s.Writable())
}

func TestDeclareRequiresIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	err = s.DeclareInMemory([]store.DeclareInput{{Product: "fooA", Version: "v1"}})
	require.Error(t, err)
}

func TestDeclareAndSyncRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	prodDir := filepath.Join(t.TempDir(), "fooA", "v1")
	tbl := &table.Table{
		ProductDir: prodDir,
		Exact:      table.Deps{Required: map[string]string{"fooB": "v2"}, Optional: map[string]string{}},
		Inexact:    table.Deps{Required: map[string]string{}, Optional: map[string]string{}},
		EnvVar:     map[string]table.EnvDirective{"PATH": {Action: table.Prepend, Payload: filepath.Join(prodDir, "bin")}},
	}

	err = s.DeclareInMemory([]store.DeclareInput{{
		Product:    "fooA",
		ProductDir: prodDir,
		Version:    "v1",
		Tag:        "current",
		Identity:   ComputeIdentity("v1"),
		Flavor:     "Linux64",
		Tbl:        tbl,
	}})
	require.NoError(t, err)
	require.NoError(t, s.Sync("fooA"))
	require.FileExists(t, path)

	s2, err := New("json_test", path)
	require.NoError(t, err)
	require.True(t, s2.HasProduct("fooA"))

	v, ok := s2.VersionFor("fooA", "current")
	require.True(t, ok)
	require.Equal(t, "v1", v)

	got, ok := s2.Table("fooA", "v1")
	require.True(t, ok)
	require.Equal(t, "v2", got.Exact.Required["fooB"])
	require.Equal(t, filepath.Join(prodDir, "bin"), got.EnvVar["PATH"].Payload)
}

func TestDeclareRejectsDuplicateIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	ident := ComputeIdentity("v1")
	require.NoError(t, s.DeclareInMemory([]store.DeclareInput{{Product: "fooA", Version: "v1", Identity: ident}}))
	require.NoError(t, s.Sync("fooA"))

	s2, err := New("json_test", path)
	require.NoError(t, err)
	err = s2.DeclareInMemory([]store.DeclareInput{{Product: "fooA", Version: "v2", Identity: ident}})
	require.Error(t, err)
}

func TestComputeIdentityIsDeterministic(t *testing.T) {
	require.Equal(t, ComputeIdentity("1.2.3"), ComputeIdentity("1.2.3"))
	require.NotEqual(t, ComputeIdentity("1.2.3"), ComputeIdentity("1.2.4"))
}

func TestComputeIdentityIsLowercaseHexSHA1(t *testing.T) {
	// sha1("v1")
	require.Equal(t, "5a6df720540c20d95d530d3fd6885511223d5d20", ComputeIdentity("v1"))
}

func TestRelativeProdDirStoredRelativeResolvedAbsolute(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "db.json")
	prodDir := filepath.Join(parent, "fooA", "v1")

	s, err := New("json_test", path)
	require.NoError(t, err)

	tbl := &table.Table{
		ProductDir: prodDir,
		Exact:      table.Deps{Required: map[string]string{}, Optional: map[string]string{}},
		Inexact:    table.Deps{Required: map[string]string{}, Optional: map[string]string{}},
		EnvVar:     map[string]table.EnvDirective{"FOOA_ROOT": {Action: table.Set, Payload: prodDir}},
	}
	err = s.DeclareInMemory([]store.DeclareInput{{
		Product: "fooA", ProductDir: prodDir, Version: "v1",
		Identity: ComputeIdentity("v1"), Flavor: "Linux64", Tbl: tbl,
	}})
	require.NoError(t, err)
	require.NoError(t, s.Sync("fooA"))

	// On disk the product dir is relative to the store file's parent and
	// env payloads carry the literal placeholder.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"PROD_DIR": "fooA/v1"`)
	require.Contains(t, string(raw), "${PRODUCT_DIR}")
	require.NotContains(t, string(raw), `"PROD_DIR": "`+prodDir+`"`)

	// A fresh load resolves both back to absolute paths.
	s2, err := New("json_test", path)
	require.NoError(t, err)
	loc, ok := s2.LocationFor("fooA", "v1")
	require.True(t, ok)
	require.Equal(t, prodDir, loc)

	got, ok := s2.Table("fooA", "v1")
	require.True(t, ok)
	require.Equal(t, prodDir, got.EnvVar["FOOA_ROOT"].Payload)
}

func TestRoundTripPreservesReadAPIs(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "db.json")

	s, err := New("json_test", path)
	require.NoError(t, err)

	inputs := []store.DeclareInput{
		{Product: "fooA", Version: "v1", Identity: ComputeIdentity("v1"), ProductDir: filepath.Join(parent, "fooA", "v1"), Flavor: "Linux64", Tag: "current"},
		{Product: "fooA", Version: "v2", Identity: ComputeIdentity("v2"), ProductDir: filepath.Join(parent, "fooA", "v2"), Flavor: "Linux64"},
		{Product: "fooB", Version: "v1", Identity: ComputeIdentity("b-v1"), ProductDir: filepath.Join(parent, "fooB", "v1"), Flavor: "Darwin64", Tag: "stable"},
	}
	require.NoError(t, s.DeclareInMemory(inputs))
	require.NoError(t, s.Sync("fooA"))
	require.NoError(t, s.Sync("fooB"))

	s2, err := New("json_test", path)
	require.NoError(t, err)

	// The external read APIs agree between the writer and a fresh load.
	require.ElementsMatch(t, s.Products(), s2.Products())
	for _, p := range []string{"fooA", "fooB"} {
		v1, _ := s.Versions(p)
		v2, _ := s2.Versions(p)
		require.ElementsMatch(t, v1, v2)

		i1, _ := s.Identities(p)
		i2, _ := s2.Identities(p)
		require.ElementsMatch(t, i1, i2)
	}

	v, ok := s2.VersionFor("fooB", "stable")
	require.True(t, ok)
	require.Equal(t, "v1", v)

	f, ok := s2.Flavor("fooB", "v1")
	require.True(t, ok)
	require.Equal(t, "Darwin64", f)

	ver, ok := s2.VersionForIdent("fooA", ComputeIdentity("v2"))
	require.True(t, ok)
	require.Equal(t, "v2", ver)

	require.True(t, s2.IdentitiesPopulated())
}

func TestSyncPreservesForeignAdditions(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "db.json")

	// Writer one declares fooA but does not sync yet.
	s1, err := New("json_test", path)
	require.NoError(t, err)
	require.NoError(t, s1.DeclareInMemory([]store.DeclareInput{{
		Product: "fooA", Version: "v1", Identity: ComputeIdentity("a-v1"), ProductDir: filepath.Join(parent, "fooA", "v1"),
	}}))

	// Writer two declares and syncs fooB in the meantime.
	s2, err := New("json_test", path)
	require.NoError(t, err)
	require.NoError(t, s2.DeclareInMemory([]store.DeclareInput{{
		Product: "fooB", Version: "v1", Identity: ComputeIdentity("b-v1"), ProductDir: filepath.Join(parent, "fooB", "v1"),
	}}))
	require.NoError(t, s2.Sync("fooB"))

	// Writer one's sync re-reads on-disk state under the exclusive lock
	// and must not clobber fooB.
	require.NoError(t, s1.Sync("fooA"))

	s3, err := New("json_test", path)
	require.NoError(t, err)
	require.True(t, s3.HasProduct("fooA"))
	require.True(t, s3.HasProduct("fooB"))
}

func TestTablesSequenceIsIndexParallelToVersions(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "db.json")

	s, err := New("json_test", path)
	require.NoError(t, err)
	for _, v := range []string{"v1", "v2"} {
		prodDir := filepath.Join(parent, "fooA", v)
		tbl := &table.Table{
			ProductDir: prodDir,
			Exact:      table.Deps{Required: map[string]string{"dep" + v: v}, Optional: map[string]string{}},
			Inexact:    table.Deps{Required: map[string]string{}, Optional: map[string]string{}},
			EnvVar:     map[string]table.EnvDirective{},
		}
		require.NoError(t, s.DeclareInMemory([]store.DeclareInput{{
			Product: "fooA", Version: v, Identity: ComputeIdentity(v), ProductDir: prodDir, Tbl: tbl,
		}}))
	}
	require.NoError(t, s.Sync("fooA"))

	s2, err := New("json_test", path)
	require.NoError(t, err)

	t1, ok := s2.Table("fooA", "v1")
	require.True(t, ok)
	require.Equal(t, "v1", t1.Exact.Required["depv1"])

	t2, ok := s2.Table("fooA", "v2")
	require.True(t, ok)
	require.Equal(t, "v2", t2.Exact.Required["depv2"])
}

func TestCorruptDocumentIsSerializationFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New("json_test", path)
	require.Error(t, err)
}

func TestDeclareBatchIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	// The second input is missing its identity; the whole batch is
	// rejected and the first input must not be visible either.
	err = s.DeclareInMemory([]store.DeclareInput{
		{Product: "fooA", Version: "v1", Identity: ComputeIdentity("v1")},
		{Product: "fooB", Version: "v1"},
	})
	require.Error(t, err)
	require.False(t, s.HasProduct("fooA"))
	require.False(t, s.HasProduct("fooB"))
}

func TestSyncIsNoopWithoutPendingWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)
	require.NoError(t, s.Sync("fooA"))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestTableForUnknownVersionAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	_, ok := s.Table("fooA", "v1")
	require.False(t, ok)
}

func TestTableReadableBetweenDeclareAndSync(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	prodDir := filepath.Join(parent, "fooA", "v1")
	tbl := &table.Table{
		ProductDir: prodDir,
		Exact:      table.Deps{Required: map[string]string{"fooB": "v1"}, Optional: map[string]string{}},
		Inexact:    table.Deps{Required: map[string]string{}, Optional: map[string]string{}},
		EnvVar:     map[string]table.EnvDirective{},
	}
	require.NoError(t, s.DeclareInMemory([]store.DeclareInput{{
		Product: "fooA", Version: "v1", Identity: ComputeIdentity("v1"), ProductDir: prodDir, Tbl: tbl,
	}}))

	got, ok := s.Table("fooA", "v1")
	require.True(t, ok)
	require.Equal(t, "v1", got.Exact.Required["fooB"])

	require.NoError(t, s.Sync("fooA"))
	got, ok = s.Table("fooA", "v1")
	require.True(t, ok)
	require.Equal(t, "v1", got.Exact.Required["fooB"])
}

func TestSecondSyncAfterFirstIsNoop(t *testing.T) {
	parent := t.TempDir()
	path := filepath.Join(parent, "db.json")
	s, err := New("json_test", path)
	require.NoError(t, err)

	require.NoError(t, s.DeclareInMemory([]store.DeclareInput{{
		Product: "fooA", Version: "v1", Identity: ComputeIdentity("v1"), ProductDir: filepath.Join(parent, "fooA", "v1"),
	}}))
	require.NoError(t, s.Sync("fooA"))

	before, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Sync("fooA"))
	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, before, after)
}
