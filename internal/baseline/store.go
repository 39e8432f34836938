// Package baseline persists exactly one baseline manifest per monitored root.
// Drivers: sqlite (default), json (one document per root), badger.
package baseline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/driftguard/internal/models"
)

// SchemaVersion is written with every baseline; a baseline carrying any other
// version is rejected as corrupt.
const SchemaVersion = 1

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
	DriverBadger = "badger"
)

// Store is the interface for baseline persistence.
type Store interface {
	// Save replaces the baseline for m.Root.
	Save(ctx context.Context, m *models.Manifest) error
	// Load returns the baseline for root or ErrBaselineNotFound,
	// ErrCorruptStore, ErrStoreRead.
	Load(ctx context.Context, root string) (*models.Manifest, error)
	// Close releases the store.
	Close() error
}

// Open opens the store for driver at path. For json and badger, path is a
// directory; for sqlite it is the database file.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("baseline: create store dir: %w", err)
		}
		return OpenSQLite(path)
	case DriverJSON:
		return OpenJSON(path)
	case DriverBadger:
		return OpenBadger(path)
	default:
		return nil, fmt.Errorf("baseline: unknown driver %q", driver)
	}
}
