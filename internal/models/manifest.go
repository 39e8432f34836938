// Package models defines the domain types for driftguard.
package models

import (
	"sort"
	"time"
)

// Digest is the per-file hashing result: either a readable SHA-256 sum or an
// unreadable marker carrying the cause.
type Digest struct {
	SHA256     string `json:"sha256,omitempty"`
	Unreadable string `json:"unreadable,omitempty"`
}

// Readable returns a digest for successfully hashed content.
func Readable(sum string) Digest {
	return Digest{SHA256: sum}
}

// Unreadable returns the marker recorded when content could not be read.
func Unreadable(cause string) Digest {
	if cause == "" {
		cause = "unreadable"
	}
	return Digest{Unreadable: cause}
}

// IsUnreadable reports whether d is the unreadable marker.
func (d Digest) IsUnreadable() bool {
	return d.SHA256 == ""
}

// Same reports whether two digests describe the same observable state.
// Two unreadable markers are the same regardless of cause.
func (d Digest) Same(o Digest) bool {
	if d.IsUnreadable() || o.IsUnreadable() {
		return d.IsUnreadable() == o.IsUnreadable()
	}
	return d.SHA256 == o.SHA256
}

func (d Digest) String() string {
	if d.IsUnreadable() {
		return "unreadable (" + d.Unreadable + ")"
	}
	return d.SHA256
}

// FileRecord is one regular file (or followed symlink) seen during a walk.
type FileRecord struct {
	Path       string    `json:"path"` // slash-separated, relative to the manifest root
	Digest     Digest    `json:"digest"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Manifest is a snapshot of a root directory at one instant.
type Manifest struct {
	Root    string                `json:"root"`
	TakenAt time.Time             `json:"taken_at"`
	Entries map[string]FileRecord `json:"entries"`
}

// NewManifest returns an empty manifest for root.
func NewManifest(root string, takenAt time.Time) *Manifest {
	return &Manifest{Root: root, TakenAt: takenAt, Entries: make(map[string]FileRecord)}
}

// Paths returns the entry keys in lexicographic order.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.Entries))
	for p := range m.Entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Records returns the entries ordered by path.
func (m *Manifest) Records() []FileRecord {
	out := make([]FileRecord, 0, len(m.Entries))
	for _, p := range m.Paths() {
		out = append(out, m.Entries[p])
	}
	return out
}

// Summary holds aggregate counts for a manifest.
type Summary struct {
	Files      int   `json:"files"`
	Unreadable int   `json:"unreadable"`
	TotalBytes int64 `json:"total_bytes"`
}

// Summary computes aggregate counts over all entries.
func (m *Manifest) Summary() Summary {
	var s Summary
	for _, rec := range m.Entries {
		s.Files++
		s.TotalBytes += rec.Size
		if rec.Digest.IsUnreadable() {
			s.Unreadable++
		}
	}
	return s
}
