// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmulatorsCommand_MissingToolDegrades(t *testing.T) {
	configFile = ""

	cmd := NewEmulatorsCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--tracker.emulator-binary", "/nonexistent/emulator"})

	// A missing emulator tool is not an error, just an empty list.
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "no emulator images found")
}
