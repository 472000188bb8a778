// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilterProduct(t *testing.T) {
	products := []string{"fooA", "fooB", "fooC"}
	require.Equal(t, []string{"fooB"}, filterProduct(products, "fooB"))
	require.Nil(t, filterProduct(products, "nosuch"))
}

func TestIntersects(t *testing.T) {
	require.True(t, intersects([]string{"current", "beta"}, []string{"beta"}))
	require.False(t, intersects([]string{"current"}, []string{"stable"}))
	require.False(t, intersects(nil, []string{"stable"}))
}

func TestTagsForVersion(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	require.Equal(t, []string{"current"}, tagsForVersion(db, "fooA", "v3"))
	require.Empty(t, tagsForVersion(db, "fooA", "v1"))
	require.Equal(t, []string{"current"}, tagsForVersion(db, "fooC", "v2"))
}

func TestFilterByTags(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	// Every scenario product carries the current tag somewhere.
	got := filterByTags(db, db.AllProducts(), []string{"current"})
	require.ElementsMatch(t, []string{"fooA", "fooB", "fooC"}, got)

	require.Empty(t, filterByTags(db, db.AllProducts(), []string{"nosuch"}))
}

func TestListFullRendersSortedTriples(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{}, nil, &buf))
	out := buf.String()

	// Sorted by product then version, with the current tag highlighted
	// and untagged versions showing an empty bracket list.
	require.Contains(t, out, "fooA")
	require.Contains(t, out, "*current*")
	require.Contains(t, out, "[]")
	require.Less(t, strings.Index(out, "fooA"), strings.Index(out, "fooB"))
	require.Less(t, strings.Index(out, "fooB"), strings.Index(out, "fooC"))
	require.Less(t, strings.Index(out, "v1"), strings.Index(out, "v3"))
}

func TestListOnlyVersionsOneLinePerProduct(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{onlyVers: true}, nil, &buf))
	out := buf.String()

	require.Contains(t, out, "fooA  [v1, v2, v3]")
	require.Contains(t, out, "fooB  [v1]")
	require.Contains(t, out, "fooC  [v1, v2]")
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)
}

func TestListOnlyTagsOneLinePerProduct(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{onlyTags: true}, nil, &buf))
	out := buf.String()

	require.Contains(t, out, "fooA  [current]")
	require.Contains(t, out, "fooC  [current]")
}

func TestListProductArgumentFilters(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{}, []string{"fooB"}, &buf))
	out := buf.String()

	require.Contains(t, out, "fooB")
	require.NotContains(t, out, "fooA")
	require.NotContains(t, out, "fooC")
}

func TestListSourcesShowsBackendPriority(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{sources: true}, nil, &buf))
	out := buf.String()

	require.Contains(t, out, "Extra_0")
	require.Contains(t, out, root)
}

func TestListShortPrintsProductNamesOnly(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{short: true}, nil, &buf))
	require.Equal(t, "fooA\nfooB\nfooC\n", buf.String())
}

func TestListLongIncludesFlavorColumn(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.NoError(t, runList(db, listFlagsT{long: true}, nil, &buf))
	require.Contains(t, buf.String(), "Linux64")
}

func TestListMutuallyExclusiveFlagsRejected(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var buf bytes.Buffer
	require.Error(t, runList(db, listFlagsT{short: true, long: true}, nil, &buf))
	require.Error(t, runList(db, listFlagsT{onlyTags: true, onlyVers: true}, nil, &buf))
	require.Error(t, runList(db, listFlagsT{onlyVers: true, sources: true}, nil, &buf))
}

func TestListTagFilterRestrictsRows(t *testing.T) {
	root, _ := seedScenarioStore(t)
	db := scenarioDatabase(t, root)

	var fl listFlagsT
	require.NoError(t, fl.tags.Set("current"))

	var buf bytes.Buffer
	require.NoError(t, runList(db, fl, nil, &buf))
	out := buf.String()

	// fooA only has v3 tagged current; its v1 and v2 rows are filtered
	// out, leaving exactly one fooA row.
	require.Contains(t, out, "v3")
	require.Equal(t, 1, strings.Count(out, "fooA"))
}
