// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidloom/accounts/internal/config"
	"github.com/vidloom/accounts/pkg/errutil"
)

func runConfig(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	t.Cleanup(func() { configFile = "" })
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"config"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestConfigSchema(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		out, err := runConfig(t, "schema")
		require.NoError(t, err)
		assert.Contains(t, out, config.SchemaID)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "schemas", "accountd.schema.json")
		out, err := runConfig(t, "schema", "-o", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Generated")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"ratelimit"`)
	})
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(good, []byte("http:\n  addr: \":9090\"\nstore:\n  driver: postgres\n"), 0o600))
	require.NoError(t, os.WriteFile(bad, []byte("store:\n  driver: sqlite\n"), 0o600))

	t.Run("argument", func(t *testing.T) {
		out, err := runConfig(t, "validate", good)
		require.NoError(t, err)
		assert.Contains(t, out, "is valid")
	})

	t.Run("config flag", func(t *testing.T) {
		_, err := runConfig(t, "--config", good, "validate")
		require.NoError(t, err)
	})

	t.Run("schema violation", func(t *testing.T) {
		_, err := runConfig(t, "validate", bad)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_VIOLATION")
	})

	t.Run("no file", func(t *testing.T) {
		_, err := runConfig(t, "validate")
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})
}
