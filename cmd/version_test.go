// Copyright 2018 The reups Authors.  All rights reserved.
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteVersionOutput(t *testing.T) {
	var buf bytes.Buffer
	writeVersionOutput(&buf)
	out := buf.String()
	require.Contains(t, out, "Version: ")
	require.Contains(t, out, "Go Version: go")
}
