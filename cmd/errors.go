// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"github.com/natelust/reups/internal/storeerr"
)

// exitCodeFor maps a storeerr.Code to a process exit code.
func exitCodeFor(err error) int {
	e, ok := err.(*storeerr.Error)
	if !ok {
		return 1
	}
	switch e.Code {
	case storeerr.NotFoundErr:
		return 2
	case storeerr.ConflictErr:
		return 3
	case storeerr.MalformedPathErr:
		return 4
	case storeerr.NoWritableStoreErr, storeerr.MultipleWritableStoresErr, storeerr.NoSuchStoreErr:
		return 5
	case storeerr.SerializationErr, storeerr.IoErr:
		return 6
	default:
		return 1
	}
}
