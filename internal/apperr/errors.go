// Package apperr defines the sentinel errors shared across driftguard and
// classifies wrapped errors into the kinds the CLI reports on.
package apperr

import "errors"

// Input errors: the requested root cannot be monitored.
var (
	ErrRootNotFound  = errors.New("root path not found")
	ErrNotADirectory = errors.New("root path is not a directory")
)

// File access errors are recovered locally; they never abort a build.
var (
	ErrFileAccess  = errors.New("file not readable")
	ErrOutsideRoot = errors.New("symlink target outside root")
	ErrSpecialFile = errors.New("special file skipped")
)

// Store errors.
var (
	ErrBaselineNotFound = errors.New("no baseline found; run 'snapshot' first")
	ErrCorruptStore     = errors.New("baseline store is corrupt or was written by an incompatible version")
	ErrStoreRead        = errors.New("baseline store read failed")
	ErrStoreWrite       = errors.New("baseline store write failed")
)

var (
	ErrWatch         = errors.New("watch failed")
	ErrDriftDetected = errors.New("drift detected")
)

// Kind groups errors by how the caller is expected to react.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindInput      Kind = "input"
	KindFileAccess Kind = "file_access"
	KindStore      Kind = "store"
	KindWatch      Kind = "watch"
	KindDrift      Kind = "drift"
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindInput, []error{ErrRootNotFound, ErrNotADirectory}},
	{KindFileAccess, []error{ErrFileAccess, ErrOutsideRoot, ErrSpecialFile}},
	{KindStore, []error{ErrBaselineNotFound, ErrCorruptStore, ErrStoreRead, ErrStoreWrite}},
	{KindWatch, []error{ErrWatch}},
	{KindDrift, []error{ErrDriftDetected}},
}

// KindOf reports the kind of the first known sentinel wrapped by err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		for _, sentinel := range k.errs {
			if errors.Is(err, sentinel) {
				return k.kind
			}
		}
	}
	return KindUnknown
}
