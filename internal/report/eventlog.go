package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/driftguard/internal/models"
)

// EventLog appends one JSON object per line for every drift record, one
// summary line per report and one line per warning.
type EventLog struct {
	closer io.Closer
	logger *slog.Logger
}

var _ Sink = (*EventLog)(nil)

// OpenEventLog opens path for appending, creating it and its parent
// directory if needed.
func OpenEventLog(path string) (*EventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("report: create event log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: open event log: %w", err)
	}
	el := NewEventLog(f)
	el.closer = f
	return el, nil
}

// NewEventLog writes JSON lines to w. The caller owns w.
func NewEventLog(w io.Writer) *EventLog {
	return &EventLog{logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))}
}

// Close closes the underlying file when the log was opened by path.
func (e *EventLog) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func (e *EventLog) Report(r *models.DriftReport) {
	ctx := context.Background()
	for _, rec := range r.Records {
		attrs := []slog.Attr{
			slog.String("cycle_id", r.ID),
			slog.String("root", r.Root),
			slog.String("path", rec.Path),
			slog.String("kind", rec.Kind.String()),
		}
		if rec.Previous != nil {
			attrs = append(attrs, slog.String("previous", rec.Previous.String()))
		}
		if rec.Current != nil {
			attrs = append(attrs, slog.String("current", rec.Current.String()))
		}
		e.logger.LogAttrs(ctx, slog.LevelWarn, "drift", attrs...)
	}

	counts := make([]any, 0, 5)
	for k := models.DriftNew; k <= models.DriftBecameReadable; k++ {
		counts = append(counts, slog.Int(k.String(), r.Count(k)))
	}
	level := slog.LevelInfo
	if !r.Empty() {
		level = slog.LevelWarn
	}
	e.logger.LogAttrs(ctx, level, "report",
		slog.String("cycle_id", r.ID),
		slog.String("root", r.Root),
		slog.Time("baseline_taken_at", r.BaselineTakenAt),
		slog.Int("total", len(r.Records)),
		slog.Group("counts", counts...),
	)
}

func (e *EventLog) Warn(path string, err error) {
	e.logger.LogAttrs(context.Background(), slog.LevelWarn, "unreadable",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}
