package models

import (
	"fmt"
	"time"
)

// DriftKind classifies one change between a baseline and a current manifest.
// The declaration order is the report order.
type DriftKind int

const (
	DriftNew DriftKind = iota
	DriftModified
	DriftDeleted
	DriftBecameUnreadable
	DriftBecameReadable
)

var driftKindNames = [...]string{"new", "modified", "deleted", "became_unreadable", "became_readable"}

// Console labels used when rendering a report line.
var driftKindLabels = [...]string{"New", "Changed", "Deleted", "Unreadable", "Readable"}

func (k DriftKind) String() string {
	if k < 0 || int(k) >= len(driftKindNames) {
		return "unknown"
	}
	return driftKindNames[k]
}

// Label is the human-readable prefix for a report line ("Changed: a.conf").
func (k DriftKind) Label() string {
	if k < 0 || int(k) >= len(driftKindLabels) {
		return "Unknown"
	}
	return driftKindLabels[k]
}

// MarshalText encodes the kind by name.
func (k DriftKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name produced by MarshalText.
func (k *DriftKind) UnmarshalText(b []byte) error {
	for i, name := range driftKindNames {
		if name == string(b) {
			*k = DriftKind(i)
			return nil
		}
	}
	return fmt.Errorf("models: unknown drift kind %q", b)
}

// DriftRecord is one classified change.
type DriftRecord struct {
	Path     string    `json:"path"`
	Kind     DriftKind `json:"kind"`
	Previous *Digest   `json:"previous,omitempty"`
	Current  *Digest   `json:"current,omitempty"`
}

// DriftReport is the ordered result of one comparison. It is not mutated
// after the diff engine returns it. ID is assigned by the caller that runs
// the comparison and ties log and SSE records of one cycle together.
type DriftReport struct {
	ID              string        `json:"id,omitempty"`
	Root            string        `json:"root"`
	BaselineTakenAt time.Time     `json:"baseline_taken_at"`
	CurrentTakenAt  time.Time     `json:"current_taken_at"`
	Records         []DriftRecord `json:"records"`
}

// Empty reports whether no drift was found.
func (r *DriftReport) Empty() bool {
	return len(r.Records) == 0
}

// Count returns the number of records of the given kind.
func (r *DriftReport) Count(kind DriftKind) int {
	n := 0
	for _, rec := range r.Records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}
