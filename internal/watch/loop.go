// Package watch runs the monitor state machine: it subscribes to file system
// events under a root, debounces bursts and runs one comparison per burst.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/models"
	"github.com/starford/driftguard/internal/storage"
)

// State is the loop's position in its state machine.
type State int

const (
	StateIdle State = iota
	StateWatching
	StateDebouncing
	StateComparing
	StateStopped
)

var stateNames = [...]string{"idle", "watching", "debouncing", "comparing", "stopped"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defaults used when the corresponding option is not set.
const (
	DefaultDebounce    = 2 * time.Second
	DefaultMaxFailures = 5
)

// CompareFunc rebuilds the current manifest and diffs it against the stored
// baseline.
type CompareFunc func(ctx context.Context) (*models.DriftReport, error)

// Reporter receives one report per successful cycle.
type Reporter interface {
	Report(r *models.DriftReport)
}

// Status is a point-in-time view of the loop for status endpoints.
type Status struct {
	Root      string    `json:"root"`
	State     State     `json:"state"`
	Cycles    int       `json:"cycles"`
	Failures  int       `json:"consecutive_failures"`
	LastCycle time.Time `json:"last_cycle,omitzero"`
	LastDrift int       `json:"last_drift"`
	LastError string    `json:"last_error,omitempty"`
}

// Loop is a single-use monitor. Run drives it from one goroutine; Status may
// be called concurrently.
type Loop struct {
	root        string
	compare     CompareFunc
	reporter    Reporter
	debounce    time.Duration
	maxFailures int
	excluded    func(rel string) bool
	logger      *slog.Logger
	newWatcher  func() (*fsnotify.Watcher, error)

	mu     sync.Mutex
	status Status
}

// Option configures a Loop.
type Option func(*Loop)

// WithDebounce sets the quiet period after the last event of a burst.
func WithDebounce(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.debounce = d
		}
	}
}

// WithMaxFailures sets how many consecutive failures stop the loop.
func WithMaxFailures(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxFailures = n
		}
	}
}

// WithExclude drops events for root-relative paths matching fn.
func WithExclude(fn func(rel string) bool) Option {
	return func(l *Loop) { l.excluded = fn }
}

// WithLogger sets the loop's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a loop over root. root must be absolute.
func New(root string, compare CompareFunc, reporter Reporter, opts ...Option) *Loop {
	l := &Loop{
		root:        root,
		compare:     compare,
		reporter:    reporter,
		debounce:    DefaultDebounce,
		maxFailures: DefaultMaxFailures,
		excluded:    func(string) bool { return false },
		logger:      slog.Default(),
		newWatcher:  fsnotify.NewWatcher,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.status = Status{Root: root, State: StateIdle}
	return l
}

// Status returns a copy of the current status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// State returns the current state.
func (l *Loop) State() State {
	return l.Status().State
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.status.State = s
	l.mu.Unlock()
}

// Run watches until ctx is cancelled (returning nil) or until too many
// consecutive failures (returning an ErrWatch error). A subscription failure
// at start is returned immediately.
func (l *Loop) Run(ctx context.Context) error {
	w, err := l.newWatcher()
	if err != nil {
		l.setState(StateStopped)
		return fmt.Errorf("%w: %w", apperr.ErrWatch, err)
	}
	defer w.Close()

	if err := l.subscribe(w, l.root); err != nil {
		l.setState(StateStopped)
		return fmt.Errorf("%w: subscribe %s: %w", apperr.ErrWatch, l.root, err)
	}
	l.setState(StateWatching)
	l.logger.Info("watch: started", slog.String("root", l.root), slog.Duration("debounce", l.debounce))

	var (
		timer    *time.Timer
		timerCh  <-chan time.Time
		failures int
	)
	schedule := func(d time.Duration) {
		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		timerCh = timer.C
		l.setState(StateDebouncing)
	}
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		l.setState(StateStopped)
	}
	fail := func(err error) error {
		failures++
		l.mu.Lock()
		l.status.Failures = failures
		l.status.LastError = err.Error()
		l.mu.Unlock()
		if failures >= l.maxFailures {
			stop()
			l.logger.Error("watch: giving up",
				slog.Int("failures", failures),
				slog.String("error", err.Error()))
			return fmt.Errorf("%w: %d consecutive failures: %w", apperr.ErrWatch, failures, err)
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			l.logger.Info("watch: stopped", slog.String("root", l.root))
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				stop()
				return fmt.Errorf("%w: event channel closed", apperr.ErrWatch)
			}
			rel, inside := storage.RelativeTo(l.root, ev.Name)
			if filepath.Clean(ev.Name) == l.root {
				rel, inside = ".", true
			}
			if !inside || (rel != "." && l.excluded(rel)) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Lstat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := l.subscribe(w, ev.Name); addErr != nil {
						l.logger.Warn("watch: add new dir failed",
							slog.String("path", rel),
							slog.String("error", addErr.Error()))
					} else {
						l.logger.Debug("watch: watching new dir", slog.String("path", rel))
					}
				}
			}
			l.logger.Debug("watch: event", slog.String("path", rel), slog.String("op", ev.Op.String()))
			// A pending retry keeps its backoff; new events only move the
			// deadline when no failure is outstanding.
			if failures == 0 || timerCh == nil {
				schedule(l.debounce)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				stop()
				return fmt.Errorf("%w: error channel closed", apperr.ErrWatch)
			}
			l.logger.Warn("watch: notifier error", slog.String("error", watchErr.Error()))
			if err := fail(watchErr); err != nil {
				return err
			}
			// Dropped events may hide changes; diff the whole tree.
			if errors.Is(watchErr, fsnotify.ErrEventOverflow) && timerCh == nil {
				schedule(l.debounce)
			}

		case <-timerCh:
			timerCh = nil
			l.setState(StateComparing)
			report, err := l.compare(ctx)
			if ctx.Err() != nil {
				// Cancelled mid-cycle; the result is discarded.
				stop()
				l.logger.Info("watch: stopped", slog.String("root", l.root))
				return nil
			}
			if err != nil {
				l.logger.Error("watch: cycle failed",
					slog.String("root", l.root),
					slog.Int("attempt", failures+1),
					slog.String("error", err.Error()))
				if ferr := fail(err); ferr != nil {
					return ferr
				}
				schedule(l.debounce * time.Duration(failures))
				continue
			}

			failures = 0
			l.mu.Lock()
			l.status.Cycles++
			l.status.Failures = 0
			l.status.LastCycle = time.Now().UTC()
			l.status.LastDrift = len(report.Records)
			l.status.LastError = ""
			l.mu.Unlock()
			l.reporter.Report(report)

			if err := l.subscribe(w, l.root); err != nil {
				l.logger.Warn("watch: resubscribe failed",
					slog.String("root", l.root),
					slog.String("error", err.Error()))
			}
			l.setState(StateWatching)
		}
	}
}

// subscribe adds dir and every non-excluded subdirectory to w. Unreadable
// subdirectories are skipped; only a failure on dir itself is returned.
func (l *Loop) subscribe(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			l.logger.Warn("watch: skip dir", slog.String("path", path), slog.String("error", err.Error()))
			return fs.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if path != l.root {
			if rel, ok := storage.RelativeTo(l.root, path); ok && l.excluded(rel) {
				return fs.SkipDir
			}
		}
		if err := w.Add(path); err != nil {
			if path == dir {
				return err
			}
			l.logger.Warn("watch: add dir failed", slog.String("path", path), slog.String("error", err.Error()))
			return fs.SkipDir
		}
		return nil
	})
}
