// Package storage provides read access to the monitored file tree: listing
// the files a manifest records and hashing each one.
package storage

import (
	"context"

	"github.com/starford/driftguard/internal/models"
)

// EntryKind distinguishes regular files from symlinks during a walk.
type EntryKind int

const (
	EntryRegular EntryKind = iota
	EntrySymlink
)

// Entry is one candidate file found by List.
type Entry struct {
	Path string // slash-separated, relative to the root
	Kind EntryKind
}

// WarnFunc receives per-file problems that do not abort a walk.
type WarnFunc func(path string, err error)

// Provider is the interface for the monitored tree.
type Provider interface {
	// Root returns the absolute, symlink-resolved root directory.
	Root() string
	// List returns every recordable file under the root, sorted by path.
	List(ctx context.Context, warn WarnFunc) ([]Entry, error)
	// Hash returns the record for e. The record is always usable; a non-nil
	// error explains why its digest is the unreadable marker.
	Hash(ctx context.Context, e Entry) (models.FileRecord, error)
	// Excluded reports whether a root-relative path is excluded from manifests.
	Excluded(rel string) bool
}
