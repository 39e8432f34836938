// Package testutil provides shared test helpers for setting up monitored
// trees and baseline stores.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/driftguard/internal/baseline"
)

// TestStore creates a temporary SQLite baseline store that is automatically
// cleaned up.
func TestStore(t *testing.T) baseline.Store {
	t.Helper()
	store, err := baseline.Open(baseline.DriverSQLite, filepath.Join(t.TempDir(), "baselines.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestTree creates a temporary directory holding files (relative path to
// content) and returns its symlink-resolved path.
func TestTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
	return root
}

// WriteFile writes content to rel under root, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
