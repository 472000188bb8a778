// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package declarepipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/natelust/reups/internal/config"
	"github.com/natelust/reups/internal/overlay"
	"github.com/natelust/reups/internal/storeerr"
)

func newTestDatabase(t *testing.T, roots ...string) *overlay.Database {
	t.Helper()
	settings := config.Settings{ExtraPaths: roots, NoUser: true, NoSys: true}
	db, err := overlay.NewBuilder(settings, nil).Build()
	require.NoError(t, err)
	return db
}

func TestRunDeclaresAndSyncsWithoutTableFile(t *testing.T) {
	root := t.TempDir()
	db := newTestDatabase(t, root)

	productDir := filepath.Join(t.TempDir(), "fooA", "v1")
	require.NoError(t, os.MkdirAll(productDir, 0o755))

	err := Run(db, Request{
		Product:    "fooA",
		ProductDir: productDir,
		Version:    "v1",
		Tag:        "current",
		Flavor:     "Linux64",
	})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(root, "fooA", "v1.version"))
	require.FileExists(t, filepath.Join(root, "fooA", "current.chain"))
}

func TestRunParsesTableFileWhenPresent(t *testing.T) {
	root := t.TempDir()
	db := newTestDatabase(t, root)

	productDir := filepath.Join(t.TempDir(), "fooB", "v1")
	require.NoError(t, os.MkdirAll(filepath.Join(productDir, "ups"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(productDir, "ups", "fooB.table"),
		[]byte("setupRequired(fooC -j v2)\n"), 0o644))

	err := Run(db, Request{Product: "fooB", ProductDir: productDir, Version: "v1"})
	require.NoError(t, err)

	tbl, ok := db.Backends()[0].Table("fooB", "v1")
	require.True(t, ok)
	require.Equal(t, "v2", tbl.Exact.Required["fooC"])
}

func TestRunFailsWithAmbiguousTargetAndNoExplicitSource(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	db := newTestDatabase(t, rootA, rootB)

	productDir := filepath.Join(t.TempDir(), "fooA", "v1")
	require.NoError(t, os.MkdirAll(productDir, 0o755))

	err := Run(db, Request{Product: "fooA", ProductDir: productDir, Version: "v1"})
	require.Error(t, err)
}

func TestRunHonorsExplicitTarget(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	db := newTestDatabase(t, rootA, rootB)

	productDir := filepath.Join(t.TempDir(), "fooA", "v1")
	require.NoError(t, os.MkdirAll(productDir, 0o755))

	target := db.Backends()[1].ID()
	err := Run(db, Request{Product: "fooA", ProductDir: productDir, Version: "v1", Target: target})
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(rootB, "fooA", "v1.version"))
	require.NoFileExists(t, filepath.Join(rootA, "fooA", "v1.version"))
}

func TestRedeclareSameVersionConflicts(t *testing.T) {
	// (fooD, v1, stable) declares once, conflicts on re-declare, and
	// (fooD, v2) with the same tag also conflicts.
	root := t.TempDir()
	productDir := filepath.Join(t.TempDir(), "fooD", "v1")
	require.NoError(t, os.MkdirAll(productDir, 0o755))

	db := newTestDatabase(t, root)
	require.NoError(t, Run(db, Request{Product: "fooD", ProductDir: productDir, Version: "v1", Tag: "stable"}))

	// Re-declaring the same (product, version) against a fresh database
	// view conflicts.
	db2 := newTestDatabase(t, root)
	err := Run(db2, Request{Product: "fooD", ProductDir: productDir, Version: "v1", Tag: "other"})
	require.Error(t, err)
	require.True(t, storeerr.IsConflict(err))

	// A new version reusing the existing tag conflicts too.
	db3 := newTestDatabase(t, root)
	err = Run(db3, Request{Product: "fooD", ProductDir: productDir, Version: "v2", Tag: "stable"})
	require.Error(t, err)
	require.True(t, storeerr.IsConflict(err))
}

func TestDeclareSyncFreshLoadRetrievable(t *testing.T) {
	// Declare -> sync -> fresh database construction retrieves the tuple.
	root := t.TempDir()
	stackParent := filepath.Dir(root)
	productDir := filepath.Join(stackParent, "fooE", "v1")
	require.NoError(t, os.MkdirAll(filepath.Join(productDir, "ups"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(productDir, "ups", "fooE.table"),
		[]byte("envPrepend(PATH, ${PRODUCT_DIR}/bin)\n"), 0o644))

	db := newTestDatabase(t, root)
	require.NoError(t, Run(db, Request{
		Product: "fooE", ProductDir: productDir, Version: "v1", Tag: "current", Flavor: "Linux64",
	}))

	fresh := newTestDatabase(t, root)
	require.Equal(t, []string{"fooE"}, fresh.AllProducts())
	require.Equal(t, []string{"v1"}, fresh.VersionsFromTag("fooE", []string{"current"}))

	tbl, version, _, ok := fresh.TableFromTag("fooE", []string{"current"})
	require.True(t, ok)
	require.Equal(t, "v1", version)
	require.Equal(t, filepath.Join(productDir, "bin"), tbl.EnvVar["PATH"].Payload)
}

func TestRelativeProductDirResolvesAgainstTargetParent(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "ups_db")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(parent, "fooF", "v1"), 0o755))

	db := newTestDatabase(t, root)
	require.NoError(t, Run(db, Request{
		Product: "fooF", ProductDir: filepath.Join("fooF", "v1"), Version: "v1", Relative: true,
	}))

	loc, ok := db.Backends()[0].LocationFor("fooF", "v1")
	require.True(t, ok)
	require.Equal(t, filepath.Join(parent, "fooF", "v1"), loc)
}

func TestRunFailsOnUnknownExplicitTarget(t *testing.T) {
	root := t.TempDir()
	db := newTestDatabase(t, root)

	err := Run(db, Request{Product: "fooA", ProductDir: t.TempDir(), Version: "v1", Target: "nosuch"})
	require.Error(t, err)
	require.True(t, storeerr.Is(err, storeerr.NoSuchStoreErr))
}

func TestDeclareIntoJSONTargetRequiresIdentity(t *testing.T) {
	jsonPath := filepath.Join(t.TempDir(), "db.json")
	db := newTestDatabase(t, jsonPath)

	productDir := t.TempDir()
	err := Run(db, Request{Product: "fooA", ProductDir: productDir, Version: "v1"})
	require.Error(t, err)

	require.NoError(t, Run(db, Request{Product: "fooA", ProductDir: productDir, Version: "v1", Identity: "abc1234"}))

	fresh := newTestDatabase(t, jsonPath)
	v, ok := fresh.Backends()[0].VersionForIdent("fooA", "abc1234")
	require.True(t, ok)
	require.Equal(t, "v1", v)
}
