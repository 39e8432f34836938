package baseline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bobg/flock"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/storage"
)

// Lock timing for the json driver. A lock file older than lockStale is
// treated as left behind by a crashed writer.
const (
	lockStale = 10 * time.Second
	lockWait  = 2 * time.Second
	lockPoll  = 20 * time.Millisecond
)

// JSON stores one JSON document per root beneath a directory. Writers
// serialize on a per-document lock file; readers rely on the atomic rename
// and never lock.
type JSON struct {
	dir      string
	flocker  flock.Locker
	lockWait time.Duration
}

var _ Store = (*JSON)(nil)

// OpenJSON creates dir if needed and returns a JSON store rooted there.
func OpenJSON(dir string) (*JSON, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("baseline: create store dir: %w", err)
	}
	return &JSON{
		dir:      dir,
		flocker:  flock.Locker{LockDur: lockStale},
		lockWait: lockWait,
	}, nil
}

// Close is a no-op; documents are closed after every operation.
func (s *JSON) Close() error {
	return nil
}

// documentPath names the document for root by a hash of the root path so
// arbitrary paths map to flat, safe file names.
func (s *JSON) documentPath(root string) string {
	h := sha256.Sum256([]byte(root))
	return filepath.Join(s.dir, hex.EncodeToString(h[:8])+".json")
}

// Save atomically replaces the document for m.Root.
func (s *JSON) Save(ctx context.Context, m *models.Manifest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStoreWrite, err)
	}
	data, err := encodeDocument(m)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", apperr.ErrStoreWrite, err)
	}

	path := s.documentPath(m.Root)
	if err := s.lock(ctx, path); err != nil {
		return fmt.Errorf("%w: locking %s: %w", apperr.ErrStoreWrite, path, err)
	}
	defer s.flocker.Unlock(path) //nolint:errcheck

	if err := storage.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStoreWrite, err)
	}
	return nil
}

// Load reads and validates the document for root.
func (s *JSON) Load(ctx context.Context, root string) (*models.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	data, err := os.ReadFile(s.documentPath(root))

	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBaselineNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	return decodeDocument(data, root)
}

// lock takes the writer lock for path, polling while another writer holds
// it, for at most s.lockWait.
func (s *JSON) lock(ctx context.Context, path string) error {
	deadline := time.Now().Add(s.lockWait)
	for {
		err := s.flocker.Lock(path)
		if !errors.Is(err, flock.ErrLocked) || time.Now().After(deadline) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}
