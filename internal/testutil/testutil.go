// Package testutil provides shared test helpers for the fault core.
//
// All helpers accept [testing.TB] for compatibility with both tests and
// benchmarks. Functions that halt the test on failure use [require] from
// testify; functions that record failures without stopping use [assert].
//
// Every helper calls t.Helper() so that test failure messages report the
// caller's file and line number rather than this package's.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// RequireErrorCode halts the test if err is nil, holds no *kerr.Error,
// or does not carry the expected code. The error chain is searched, so an
// error wrapped by a foreign layer still matches.
//
// Example:
//
//	_, err := chain.Acquire(ctx, req)
//	testutil.RequireErrorCode(t, err, kerr.CodeOutOfMemory)
func RequireErrorCode(t testing.TB, err error, code kerr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	e, ok := kerr.AsError(err)
	require.True(t, ok, "expected *kerr.Error, got %T: %v", err, err)
	require.Equal(t, code, e.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		e.Code, code, e.Message)
}

// AssertErrorCode records a test failure (without halting) if err does not
// carry the expected code. Use this in table-driven tests where every row
// should be checked.
func AssertErrorCode(t testing.TB, err error, code kerr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	e, ok := kerr.AsError(err)
	if !assert.True(t, ok, "expected *kerr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, e.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		e.Code, code, e.Message)
}

// RequireRootCause halts the test unless the taxonomy error underneath any
// exhausted or canceled wrappers carries the expected code.
func RequireRootCause(t testing.TB, err error, code kerr.Code) *kerr.Error {
	t.Helper()
	root, ok := kerr.RootCause(err)
	require.True(t, ok, "expected a kernel error chain, got %T: %v", err, err)
	require.Equal(t, code, root.Code, "root cause mismatch: %+v", err)
	return root
}

// TempConfigFile creates a temporary file with the given content and
// extension (e.g., ".yaml", ".json") inside t.TempDir(). The file is
// removed when the test finishes.
func TempConfigFile(t testing.TB, content, ext string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config"+ext)
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err, "failed to write temp config file %s", path)
	return path
}

// SetEnv sets an environment variable and restores the previous value when
// the test completes. Tests using it must not call t.Parallel().
func SetEnv(t testing.TB, key, value string) {
	t.Helper()
	prev, existed := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value), "failed to set env var %s", key)
	t.Cleanup(func() {
		if existed {
			_ = os.Setenv(key, prev)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

// AssertJSONContains marshals v to JSON and asserts that the result
// contains the expected substring.
func AssertJSONContains(t testing.TB, v any, expected string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err, "json.Marshal failed")
	assert.Contains(t, string(data), expected,
		"expected JSON to contain %q, got: %s", expected, string(data))
}
