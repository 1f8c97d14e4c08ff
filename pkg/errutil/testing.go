// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 tracedeck Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// asOops unwraps err to its coded form, failing the test otherwise.
func asOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	oopsErr, ok := oops.AsOops(err)
	require.Truef(t, ok, "expected coded error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries the given error code.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, asOops(t, err).Code())
}

// AssertErrorContext asserts that err carries the given context key/value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := asOops(t, err).Context()
	if assert.Contains(t, ctx, key) {
		assert.Equal(t, value, ctx[key])
	}
}
