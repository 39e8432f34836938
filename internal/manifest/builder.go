// Package manifest builds manifests of a monitored tree.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/storage"
)

// Warner receives per-file warnings (path and cause) during a build.
type Warner interface {
	Warn(path string, err error)
}

// Builder walks a tree and hashes every recordable file.
type Builder struct {
	tree    storage.Provider
	workers int
	warner  Warner
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithWorkers bounds the number of files hashed concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithWarner routes per-file warnings to w.
func WithWarner(w Warner) Option {
	return func(b *Builder) { b.warner = w }
}

// WithLogger sets the logger used for build progress.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithClock overrides the snapshot timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder over tree.
func NewBuilder(tree storage.Provider, opts ...Option) *Builder {
	b := &Builder{
		tree:    tree,
		workers: runtime.NumCPU(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build produces a fresh manifest. Unreadable files are kept with the
// unreadable marker; only a bad root or cancellation fails the build.
func (b *Builder) Build(ctx context.Context) (*models.Manifest, error) {
	takenAt := b.now().UTC()

	entries, err := b.tree.List(ctx, b.warn)
	if err != nil {
		return nil, fmt.Errorf("manifest: list %s: %w", b.tree.Root(), err)
	}

	// Each worker owns one slot; the merge below is the only map writer.
	records := make([]models.FileRecord, len(entries))
	causes := make([]error, len(entries))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, e := range entries {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			records[i], causes[i] = b.tree.Hash(gCtx, e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("manifest: build %s: %w", b.tree.Root(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("manifest: build %s: %w", b.tree.Root(), err)
	}

	m := models.NewManifest(b.tree.Root(), takenAt)
	for i, rec := range records {
		if causes[i] != nil {
			b.warn(rec.Path, causes[i])
		}
		m.Entries[rec.Path] = rec
	}

	b.logger.Debug("manifest: built",
		slog.String("root", m.Root),
		slog.Int("files", len(m.Entries)))
	return m, nil
}

func (b *Builder) warn(path string, err error) {
	if b.warner != nil {
		b.warner.Warn(path, err)
		return
	}
	b.logger.Warn("manifest: file skipped", slog.String("path", path), slog.String("error", err.Error()))
}
