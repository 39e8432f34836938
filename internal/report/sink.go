// Package report delivers drift reports and per-file warnings to their
// destinations: the console, an append-only event log and any other sink.
package report

import "github.com/starford/driftguard/internal/models"

// Sink receives the results of a comparison cycle. Implementations must be
// safe for concurrent use; warnings arrive from the build that precedes a
// report.
type Sink interface {
	Report(r *models.DriftReport)
	Warn(path string, err error)
}

// Multi fans out to every sink in order.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Report(r *models.DriftReport) {
	for _, s := range m {
		s.Report(r)
	}
}

func (m Multi) Warn(path string, err error) {
	for _, s := range m {
		s.Warn(path, err)
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Report(*models.DriftReport) {}
func (Discard) Warn(string, error)         {}
