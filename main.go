// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

// Package main is the reups entry point: it tunes GOMAXPROCS from
// cgroup limits, then executes the cobra command tree.
package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/natelust/reups/cmd"
)

func main() {
	cmd.Execute()
}
