// Package internal provides the application commands: snapshot, compare,
// baseline, monitor and the MCP server.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/driftguard/internal/api"
	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/baseline"
	"github.com/starford/driftguard/internal/guard"
	"github.com/starford/driftguard/internal/mcpserver"
	"github.com/starford/driftguard/internal/report"
	"github.com/starford/driftguard/internal/sse"
	"github.com/starford/driftguard/internal/storage"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		version: "dev",
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		app.logger = newLogger(app.config.App, app.stderr)
		slog.SetDefault(app.logger)
	}
	return app, nil
}

// newLogger builds the structured logger. Logs go to stderr so stdout only
// carries rendered reports.
func newLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	if cfg.LogFormat == LogFormatText {
		return slog.New(charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(cfg.LogLevel),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
		}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

func (a *application) root(dir string) string {
	if dir != "" {
		return dir
	}
	return a.config.Monitor.Root
}

// open opens the baseline store and builds the guard service over it.
func (a *application) open() (*guard.Service, func(), error) {
	cfg := a.config
	location := cfg.Store.Location()
	store, err := baseline.Open(cfg.Store.Driver, location)
	if err != nil {
		return nil, nil, fmt.Errorf("init store: %w", err)
	}

	a.logger.Debug("Configuration loaded",
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("store_path", location),
		slog.String("event_log", cfg.EventLog.Path),
		slog.Int("workers", cfg.Monitor.Workers),
		slog.String("log_level", cfg.App.LogLevel.String()))

	internal := []string{location}
	if cfg.EventLog.Path != "" {
		internal = append(internal, cfg.EventLog.Path)
	}
	svc := guard.NewService(store, guard.Options{
		Workers:     cfg.Monitor.Workers,
		Exclude:     cfg.Monitor.Exclude,
		Symlinks:    storage.SymlinkPolicy(cfg.Monitor.Symlinks),
		Debounce:    cfg.Monitor.Debounce,
		MaxFailures: cfg.Monitor.MaxFailures,
		Internal:    internal,
	}, a.logger)

	closeFn := func() {
		if err := store.Close(); err != nil {
			a.logger.Error("store close failed", slog.String("error", err.Error()))
		}
	}
	return svc, closeFn, nil
}

// sinks returns the console sink plus the event log when one is configured.
// The returned func closes the event log.
func (a *application) sinks() (report.Multi, func(), error) {
	sinks := report.Multi{report.NewConsole(a.stdout, a.stderr)}
	if a.config.EventLog.Path == "" {
		return sinks, func() {}, nil
	}
	eventLog, err := report.OpenEventLog(a.config.EventLog.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("init event log: %w", err)
	}
	closeFn := func() {
		if err := eventLog.Close(); err != nil {
			a.logger.Error("event log close failed", slog.String("error", err.Error()))
		}
	}
	return append(sinks, eventLog), closeFn, nil
}

// Snapshot records the current state of dir as its baseline. Unreadable
// files are warned about on stderr and in the event log.
func Snapshot(ctx context.Context, dir string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closeFn, err := app.open()
	if err != nil {
		return err
	}
	defer closeFn()

	sinks, closeSinks, err := app.sinks()
	if err != nil {
		return err
	}
	defer closeSinks()

	m, err := svc.Snapshot(ctx, app.root(dir), sinks)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if len(m.Entries) == 0 {
		fmt.Fprintf(app.stderr, "Warning: %s contains no files\n", m.Root)
	}
	fmt.Fprintln(app.stdout, report.SnapshotLine(m))
	return nil
}

// Compare prints the drift between dir and its baseline and appends it to
// the event log.
func Compare(ctx context.Context, dir string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closeFn, err := app.open()
	if err != nil {
		return err
	}
	defer closeFn()

	sinks, closeSinks, err := app.sinks()
	if err != nil {
		return err
	}
	defer closeSinks()

	r, err := svc.Compare(ctx, app.root(dir), sinks)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	sinks.Report(r)
	if app.failOnDrift && !r.Empty() {
		return fmt.Errorf("%w: %d changes", apperr.ErrDriftDetected, len(r.Records))
	}
	return nil
}

// Baseline prints a summary of the stored baseline for dir.
func Baseline(ctx context.Context, dir string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closeFn, err := app.open()
	if err != nil {
		return err
	}
	defer closeFn()

	m, err := svc.Baseline(ctx, app.root(dir))
	if err != nil {
		return fmt.Errorf("baseline: %w", err)
	}
	fmt.Fprintln(app.stdout, strings.Join(report.BaselineLines(m), "\n"))
	return nil
}

// Monitor watches dir and reports drift after every burst of changes until
// ctx is cancelled or a signal arrives. When app.http.port is set, the
// status API and SSE stream are served alongside.
func Monitor(ctx context.Context, dir string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	svc, closeFn, err := app.open()
	if err != nil {
		return err
	}
	defer closeFn()

	sinks, closeSinks, err := app.sinks()
	if err != nil {
		return err
	}
	defer closeSinks()

	var broker *sse.Broker
	if cfg.App.HTTP.Enabled() {
		broker = sse.NewBroker(2 * time.Second)
		defer broker.Close()
		sinks = append(sinks, broker)
	}

	loop, err := svc.Monitor(ctx, app.root(dir), sinks)
	if err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	root := loop.Status().Root

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	fmt.Fprintf(app.stdout, "Monitoring %s for changes... (Press Ctrl+C to stop)\n", root)
	g.Go(func() error {
		defer stop()
		return loop.Run(gCtx)
	})

	if broker != nil {
		handler := api.NewHandler(svc, loop, root, sinks)
		httpServer := &http.Server{
			Addr:    cfg.App.HTTP.Address(),
			Handler: newHTTPHandler(handler, cfg.Auth, broker, app.logger),
		}

		g.Go(func() error {
			app.logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				app.logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		app.logger.Error("monitor stopped", slog.String("error", err.Error()))
		return err
	}
	app.logger.Info("monitor stopped", slog.String("root", root))
	return nil
}

// newHTTPHandler mounts health checks, the API and the SSE stream.
func newHTTPHandler(h *api.Handler, auth AuthConfig, broker *sse.Broker, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(h, auth.AuthEnabled(), auth.Token, broker))

	logger.Debug("HTTP routes mounted", slog.Bool("auth", auth.AuthEnabled()))
	return r
}

// ServeMCP runs the MCP stdio server until stdin closes.
func ServeMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	svc, closeFn, err := app.open()
	if err != nil {
		return err
	}
	defer closeFn()

	app.logger.Info("MCP server starting", slog.String("root", app.config.Monitor.Root))
	return mcpserver.New(svc, app.config.Monitor.Root, app.version).ServeStdio()
}
