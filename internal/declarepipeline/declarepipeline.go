// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package declarepipeline implements the declare/sync protocol:
// target-backend selection, path resolution, table parsing, and
// the validate-then-sync orchestration around store.Backend.
package declarepipeline

import (
	"os"
	"path/filepath"

	"github.com/natelust/reups/internal/overlay"
	"github.com/natelust/reups/internal/store"
	"github.com/natelust/reups/internal/storeerr"
	"github.com/natelust/reups/internal/table"
)

// Request is the full input to a declare operation.
type Request struct {
	Product    string
	ProductDir string
	Version    string
	Tag        string
	Identity   string
	Flavor     string
	Relative   bool
	Target     string // explicit --source backend id, may be empty
}

// Run executes the declare pipeline: select a target backend, resolve
// paths, parse the table file, validate in memory, then sync. Any failure after in-memory acceptance but before durable sync
// is fatal and surfaced to the caller.
func Run(db *overlay.Database, req Request) error {
	target, err := db.SelectTarget(req.Target)
	if err != nil {
		return err
	}

	productDir, err := resolveProductDir(target, req.ProductDir, req.Relative)
	if err != nil {
		return err
	}
	if err := overlay.EnsureDir(productDir); err != nil {
		return err
	}

	tablePath := filepath.Join(productDir, "ups", req.Product+".table")
	tbl, err := loadTable(tablePath, productDir)
	if err != nil {
		return err
	}

	in := store.DeclareInput{
		Product:    req.Product,
		ProductDir: productDir,
		Version:    req.Version,
		Tag:        req.Tag,
		Identity:   req.Identity,
		Flavor:     req.Flavor,
		Tbl:        tbl,
	}

	if err := target.DeclareInMemory([]store.DeclareInput{in}); err != nil {
		return err
	}

	return target.Sync(req.Product)
}

func resolveProductDir(target store.Backend, productDir string, relative bool) (string, error) {
	if relative {
		return filepath.Join(filepath.Dir(target.Location()), productDir), nil
	}
	abs, err := filepath.Abs(productDir)
	if err != nil {
		return "", storeerr.MalformedPath("cannot resolve product dir %s: %v", productDir, err)
	}
	return abs, nil
}

// loadTable parses the table file at path, if it exists. A missing table
// file is not an error: it yields an empty
// table so declare still succeeds for products without dependencies.
func loadTable(path, productDir string) (*table.Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table.Parse("", productDir), nil
		}
		return nil, storeerr.Io(err, "reading table file %s", path)
	}
	return table.Parse(string(raw), productDir), nil
}
