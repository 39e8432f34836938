package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/starford/driftguard/internal/models"
)

// Console renders reports as plain text lines. Reports go to out, warnings
// to errOut.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

var _ Sink = (*Console)(nil)

// NewConsole creates a console sink.
func NewConsole(out, errOut io.Writer) *Console {
	return &Console{out: out, errOut: errOut}
}

// Report writes "No drift detected." or a "Drift detected:" header followed
// by one indented line per record.
func (c *Console) Report(r *models.DriftReport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Empty() {
		fmt.Fprintln(c.out, "No drift detected.")
		return
	}
	fmt.Fprintln(c.out, "Drift detected:")
	for _, rec := range r.Records {
		fmt.Fprintf(c.out, "  %s: %s\n", rec.Kind.Label(), rec.Path)
	}
}

func (c *Console) Warn(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.errOut, "Warning: could not read %s: %v\n", path, err)
}
