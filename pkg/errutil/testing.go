// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err carries code. oops reports the deepest
// code in the chain.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code())
}

// AssertErrorContext asserts that key is set to value anywhere in err's
// context chain.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	values := requireOops(t, err).Context()
	if assert.Contains(t, values, key) {
		assert.Equal(t, value, values[key])
	}
}

// AssertClientError asserts that err carries code and renders exactly
// message, as an API client would see it.
func AssertClientError(t *testing.T, err error, code, message string) {
	t.Helper()
	oopsErr := requireOops(t, err)
	assert.Equal(t, code, oopsErr.Code())
	assert.Equal(t, message, oopsErr.Error())
}
