package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/checksum"
	"github.com/starford/driftguard/internal/models"
)

// SymlinkPolicy controls how symlinks found in the tree are recorded.
type SymlinkPolicy string

const (
	// SymlinksWithinRoot hashes symlinked files whose target resolves inside
	// the root and marks the rest unreadable.
	SymlinksWithinRoot SymlinkPolicy = "within-root"
	// SymlinksFollow hashes symlinked files wherever they point.
	SymlinksFollow SymlinkPolicy = "follow"
	// SymlinksSkip leaves symlinks out of manifests.
	SymlinksSkip SymlinkPolicy = "skip"
)

// Options configures an FS.
type Options struct {
	// Exclude holds doublestar patterns matched against slash-relative paths.
	Exclude []string
	// Symlinks defaults to SymlinksWithinRoot.
	Symlinks SymlinkPolicy
	// WalkWorkers bounds concurrent directory reads; 0 lets fastwalk decide.
	WalkWorkers int
}

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute, symlink-resolved path to the monitored directory
	opts Options
}

// NewFS creates a new FS provider rooted at the given directory.
func NewFS(root string, opts Options) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrRootNotFound, abs)
		}
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrRootNotFound, abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotADirectory, abs)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", apperr.ErrRootNotFound, abs, err)
	}
	if opts.Symlinks == "" {
		opts.Symlinks = SymlinksWithinRoot
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("storage: invalid exclude pattern %q", p)
		}
	}
	return &FS{root: resolved, opts: opts}, nil
}

// Root returns the resolved root directory.
func (f *FS) Root() string {
	return f.root
}

// Excluded reports whether rel matches any exclude pattern.
func (f *FS) Excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range f.opts.Exclude {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// List walks the root with fastwalk and returns recordable files sorted by
// relative path. Directories are never recorded; symlinked directories are
// never traversed; special files are reported through warn and skipped.
func (f *FS) List(ctx context.Context, warn WarnFunc) ([]Entry, error) {
	var (
		mu  sync.Mutex
		out []Entry
	)
	report := func(rel string, err error) {
		if warn == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		warn(rel, err)
	}

	conf := fastwalk.Config{Follow: false, NumWorkers: f.opts.WalkWorkers}
	err := fastwalk.Walk(&conf, f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == f.root {
			return walkErr
		}
		rel, relErr := f.rel(p)
		if relErr != nil {
			return nil
		}
		if walkErr != nil {
			report(rel, fmt.Errorf("%w: %w", apperr.ErrFileAccess, walkErr))
			return nil
		}
		if f.Excluded(rel) {
			if d.IsDir() {
				return fastwalk.SkipDir
			}
			return nil
		}

		mode := d.Type()
		switch {
		case mode.IsDir():
			return nil
		case mode.IsRegular():
			mu.Lock()
			out = append(out, Entry{Path: rel, Kind: EntryRegular})
			mu.Unlock()
		case mode&fs.ModeSymlink != 0:
			if e, ok := f.symlinkEntry(p, rel, report); ok {
				mu.Lock()
				out = append(out, e)
				mu.Unlock()
			}
		default:
			report(rel, fmt.Errorf("%w: %s", apperr.ErrSpecialFile, mode.Type()))
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrRootNotFound, f.root)
		}
		return nil, fmt.Errorf("storage: walk %s: %w", f.root, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// symlinkEntry applies the symlink policy to a link found during the walk.
// Dangling links and links leaving the root are kept so Hash can record them
// as unreadable; links to directories are dropped.
func (f *FS) symlinkEntry(p, rel string, report WarnFunc) (Entry, bool) {
	if f.opts.Symlinks == SymlinksSkip {
		report(rel, fmt.Errorf("%w: symlink skipped by policy", apperr.ErrSpecialFile))
		return Entry{}, false
	}
	info, err := os.Stat(p)
	if err != nil {
		return Entry{Path: rel, Kind: EntrySymlink}, true
	}
	switch {
	case info.IsDir():
		return Entry{}, false
	case info.Mode().IsRegular():
		return Entry{Path: rel, Kind: EntrySymlink}, true
	default:
		report(rel, fmt.Errorf("%w: symlink to %s", apperr.ErrSpecialFile, info.Mode().Type()))
		return Entry{}, false
	}
}

// Hash stats and hashes one entry. Any failure yields the unreadable marker
// together with the cause.
func (f *FS) Hash(ctx context.Context, e Entry) (models.FileRecord, error) {
	rec := models.FileRecord{Path: e.Path}
	abs, err := f.safePath(e.Path)
	if err != nil {
		return unreadable(rec, err)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return unreadable(rec, fmt.Errorf("%w: %w", apperr.ErrFileAccess, err))
	}
	rec.Size = info.Size()
	rec.ModifiedAt = info.ModTime().UTC()

	target := abs
	if info.Mode()&fs.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return unreadable(rec, fmt.Errorf("%w: %w", apperr.ErrFileAccess, err))
		}
		if f.opts.Symlinks == SymlinksWithinRoot && !within(f.root, resolved) {
			return unreadable(rec, fmt.Errorf("%w: %s", apperr.ErrOutsideRoot, resolved))
		}
		tinfo, err := os.Stat(resolved)
		if err != nil {
			return unreadable(rec, fmt.Errorf("%w: %w", apperr.ErrFileAccess, err))
		}
		info = tinfo
		rec.Size = tinfo.Size()
		rec.ModifiedAt = tinfo.ModTime().UTC()
		target = resolved
	}
	if !info.Mode().IsRegular() {
		return unreadable(rec, fmt.Errorf("%w: %s", apperr.ErrSpecialFile, info.Mode().Type()))
	}

	sum, _, err := checksum.File(ctx, target)
	if err != nil {
		return unreadable(rec, fmt.Errorf("%w: %w", apperr.ErrFileAccess, err))
	}
	rec.Digest = models.Readable(sum)
	return rec, nil
}

func unreadable(rec models.FileRecord, err error) (models.FileRecord, error) {
	rec.Digest = models.Unreadable(err.Error())
	return rec, err
}

// safePath resolves a relative path against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("storage: empty path")
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	if !within(f.root, joined) {
		return "", fmt.Errorf("storage: path escapes root: %s", rel)
	}
	return joined, nil
}

func (f *FS) rel(p string) (string, error) {
	rel, err := filepath.Rel(f.root, p)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// RelativeTo returns path relative to root in slash form when path lies
// under root.
func RelativeTo(root, path string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	if dir, err := filepath.EvalSymlinks(filepath.Dir(absPath)); err == nil {
		absPath = filepath.Join(dir, filepath.Base(absPath))
	}
	if !within(absRoot, absPath) || absPath == absRoot {
		return "", false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}
