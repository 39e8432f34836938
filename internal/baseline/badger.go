package baseline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/models"
)

const prefixBaseline = "b:"

// Badger stores baselines in a Badger key-value store, one key per root.
type Badger struct {
	db *badger.DB
}

var _ Store = (*Badger)(nil)

// OpenBadger opens or creates a Badger store in dir. An empty dir opens an
// in-memory store.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("baseline: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the store.
func (s *Badger) Close() error {
	return s.db.Close()
}

// Save replaces the baseline for m.Root in a single transaction.
func (s *Badger) Save(ctx context.Context, m *models.Manifest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStoreWrite, err)
	}
	data, err := encodeDocument(m)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", apperr.ErrStoreWrite, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixBaseline+m.Root), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStoreWrite, err)
	}
	return nil
}

// Load reads the baseline for root.
func (s *Badger) Load(ctx context.Context, root string) (*models.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixBaseline + root))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBaselineNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	return decodeDocument(data, root)
}
