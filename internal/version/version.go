// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package version holds the build information stamped into the reups
// binary at link time via -ldflags "-X ...".
package version

import "runtime"

// Version is the canonical release version, overridden at build time.
var Version = "0.4.0-dev"

// Vcs is the commit the binary was built from.
var Vcs = ""

// Timestamp is the build timestamp.
var Timestamp = ""

// GoVersion is the Go toolchain the binary was built with.
var GoVersion = runtime.Version()
