// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package jsondb

import (
	"github.com/natelust/reups/internal/store"
)

// Convert copies every product of src into dst, deriving an identity for
// versions that have none as the lowercase hex SHA-1 of the version
// string. It is the data-model half of a posix-to-json
// store conversion: reading the converted store back yields the same
// tables and env directives after ${PRODUCT_DIR} expansion.
//
// A version carrying several tags keeps its first tag; the directory
// store's chain convention records one chain file per (tag, product), so
// in practice a version rarely carries more than one.
func Convert(dst *Store, src store.Backend) error {
	for _, product := range src.Products() {
		versions, ok := src.Versions(product)
		if !ok {
			continue
		}

		// tag -> version mapping for this product, reversed so each
		// version can pick up its tag during declaration.
		versionToTag := map[string]string{}
		if tags, ok := src.Tags(product); ok {
			for _, tag := range tags {
				v, ok := src.VersionFor(product, tag)
				if !ok {
					continue
				}
				if _, taken := versionToTag[v]; !taken {
					versionToTag[v] = tag
				}
			}
		}

		inputs := make([]store.DeclareInput, 0, len(versions))
		for _, version := range versions {
			identity := ""
			if ids, ok := src.Identities(product); ok {
				for _, id := range ids {
					if v, ok := src.VersionForIdent(product, id); ok && v == version {
						identity = id
						break
					}
				}
			}
			if identity == "" {
				identity = ComputeIdentity(version)
			}

			prodDir, _ := src.LocationFor(product, version)
			flavor, _ := src.Flavor(product, version)
			tbl, _ := src.Table(product, version)

			inputs = append(inputs, store.DeclareInput{
				Product:    product,
				ProductDir: prodDir,
				Version:    version,
				Tag:        versionToTag[version],
				Identity:   identity,
				Flavor:     flavor,
				Tbl:        tbl,
			})
		}

		if err := dst.DeclareInMemory(inputs); err != nil {
			return err
		}
		if err := dst.Sync(product); err != nil {
			return err
		}
	}
	return nil
}
