// Package testutil provides testing utilities for conductor tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SkipIfNoShell skips the test if /bin/sh is not available. Tests that
// stand in for the worker CLI or the conductor binary use shell scripts.
func SkipIfNoShell(t *testing.T) {
	t.Helper()

	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not found, skipping test")
	}
}

// WriteScript writes an executable shell script called name into a fresh
// temporary directory and returns its path. The script is cleaned up when
// the test completes.
func WriteScript(t *testing.T, name, body string) string {
	t.Helper()
	SkipIfNoShell(t)

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}

// FakeWorker installs a shell script as the worker command for the rest
// of the test via CONDUCTOR_WORKER_COMMAND.
func FakeWorker(t *testing.T, body string) string {
	t.Helper()

	path := WriteScript(t, "worker", body)
	t.Setenv("CONDUCTOR_WORKER_COMMAND", path)
	return path
}

// Glob returns the files in dir matching pattern, failing the test on a
// malformed pattern.
func Glob(t *testing.T, dir, pattern string) []string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		t.Fatalf("bad glob %q: %v", pattern, err)
	}
	return matches
}
