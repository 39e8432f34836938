// Package guard ties the manifest builder, the baseline store and the diff
// engine into the snapshot, compare, baseline and monitor operations.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/driftguard/internal/baseline"
	"github.com/starford/driftguard/internal/drift"
	"github.com/starford/driftguard/internal/manifest"
	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/report"
	"github.com/starford/driftguard/internal/storage"
	"github.com/starford/driftguard/internal/watch"
)

// Options tunes how trees are walked and monitored.
type Options struct {
	Workers     int
	Exclude     []string
	Symlinks    storage.SymlinkPolicy
	Debounce    time.Duration
	MaxFailures int
	// Internal lists files and directories written by driftguard itself
	// (the store, the event log). Those under a monitored root are excluded
	// so monitoring never reacts to its own writes.
	Internal []string
}

// Service coordinates manifest builds and baseline persistence.
type Service struct {
	store  baseline.Store
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new guard service.
func NewService(store baseline.Store, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, opts: opts, logger: logger, now: time.Now}
}

// Tree opens root with the configured exclusions.
func (s *Service) Tree(root string) (*storage.FS, error) {
	resolved, err := storage.NewFS(root, storage.Options{})
	if err != nil {
		return nil, err
	}
	exclude := append([]string(nil), s.opts.Exclude...)
	for _, p := range s.opts.Internal {
		if rel, ok := storage.RelativeTo(resolved.Root(), p); ok {
			exclude = append(exclude, internalPatterns(rel)...)
		}
	}
	return storage.NewFS(resolved.Root(), storage.Options{
		Exclude:  exclude,
		Symlinks: s.opts.Symlinks,
	})
}

// Snapshot builds a manifest of root and saves it as the baseline,
// replacing any previous one.
func (s *Service) Snapshot(ctx context.Context, root string, w manifest.Warner) (*models.Manifest, error) {
	tree, err := s.Tree(root)
	if err != nil {
		return nil, err
	}
	m, err := s.build(ctx, tree, w)
	if err != nil {
		return nil, err
	}
	if err := s.store.Save(ctx, m); err != nil {
		return nil, fmt.Errorf("guard: save baseline: %w", err)
	}
	s.logger.Info("guard: snapshot saved",
		slog.String("root", m.Root),
		slog.Int("files", len(m.Entries)))
	return m, nil
}

// Compare diffs a fresh manifest of root against the stored baseline. The
// baseline is never modified.
func (s *Service) Compare(ctx context.Context, root string, w manifest.Warner) (*models.DriftReport, error) {
	tree, err := s.Tree(root)
	if err != nil {
		return nil, err
	}
	return s.compare(ctx, tree, w)
}

func (s *Service) compare(ctx context.Context, tree *storage.FS, w manifest.Warner) (*models.DriftReport, error) {
	base, err := s.store.Load(ctx, tree.Root())
	if err != nil {
		return nil, fmt.Errorf("guard: load baseline: %w", err)
	}
	current, err := s.build(ctx, tree, w)
	if err != nil {
		return nil, err
	}
	r := drift.Diff(base, current)
	r.ID = uuid.NewString()
	s.logger.Debug("guard: compared",
		slog.String("root", r.Root),
		slog.String("cycle_id", r.ID),
		slog.Int("drift", len(r.Records)))
	return r, nil
}

// Baseline returns the stored baseline for root.
func (s *Service) Baseline(ctx context.Context, root string) (*models.Manifest, error) {
	tree, err := s.Tree(root)
	if err != nil {
		return nil, err
	}
	m, err := s.store.Load(ctx, tree.Root())
	if err != nil {
		return nil, fmt.Errorf("guard: load baseline: %w", err)
	}
	return m, nil
}

// Monitor prepares a watch loop over root that reports every cycle to sink.
// It fails fast when root is unusable or has no baseline; the caller runs
// the returned loop.
func (s *Service) Monitor(ctx context.Context, root string, sink report.Sink) (*watch.Loop, error) {
	tree, err := s.Tree(root)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Load(ctx, tree.Root()); err != nil {
		return nil, fmt.Errorf("guard: load baseline: %w", err)
	}
	compare := func(ctx context.Context) (*models.DriftReport, error) {
		return s.compare(ctx, tree, sink)
	}
	return watch.New(tree.Root(), compare, sink,
		watch.WithDebounce(s.opts.Debounce),
		watch.WithMaxFailures(s.opts.MaxFailures),
		watch.WithExclude(tree.Excluded),
		watch.WithLogger(s.logger),
	), nil
}

func (s *Service) build(ctx context.Context, tree storage.Provider, w manifest.Warner) (*models.Manifest, error) {
	opts := []manifest.Option{
		manifest.WithLogger(s.logger),
		manifest.WithClock(s.now),
		manifest.WithWorkers(s.opts.Workers),
	}
	if w != nil {
		opts = append(opts, manifest.WithWarner(w))
	}
	return manifest.NewBuilder(tree, opts...).Build(ctx)
}

// internalPatterns matches rel itself, anything beneath it, and its SQLite
// -wal, -shm and -journal companions.
func internalPatterns(rel string) []string {
	quoted := quoteMeta(filepath.ToSlash(rel))
	return []string{quoted, quoted + "-*", quoted + "/**"}
}

func quoteMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[]{}\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
