package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/driftguard/internal"
	"github.com/starford/driftguard/internal/apperr"
	pkgconfig "github.com/starford/driftguard/pkg/config"
)

var version = "dev"

// Exit codes.
const (
	exitError = 1
	exitDrift = 3
)

// loadConfig reads the config file (optional at the default path) and
// applies command-line overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	load := pkgconfig.Load[internal.Config]
	if !cmd.IsSet("config") {
		load = pkgconfig.LoadOptional[internal.Config]
	}
	if err := load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("debounce") {
		cfg.Monitor.Debounce = cmd.Duration("debounce")
	}
	if cmd.IsSet("workers") {
		cfg.Monitor.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("store") {
		cfg.Store.Path = cmd.String("store")
	}
	if cmd.IsSet("store-driver") {
		cfg.Store.Driver = cmd.String("store-driver")
	}
	if cmd.IsSet("event-log") {
		cfg.EventLog.Path = cmd.String("event-log")
	}
	if cmd.IsSet("http-port") {
		cfg.App.HTTP.Port = int(cmd.Int("http-port"))
	}
	if cmd.IsSet("exclude") {
		cfg.Monitor.Exclude = append(cfg.Monitor.Exclude, cmd.StringSlice("exclude")...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

type command func(ctx context.Context, dir string, opts ...internal.Option) error

func action(run command, extra func(*cli.Command) []internal.Option) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		opts := []internal.Option{
			internal.WithConfig(cfg),
			internal.WithVersion(version),
		}
		if extra != nil {
			opts = append(opts, extra(cmd)...)
		}
		return run(ctx, cmd.Args().First(), opts...)
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "driftguard",
		Usage:   "Detect configuration drift by comparing a directory against a hashed baseline",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("DRIFTGUARD_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Baseline store path (file for sqlite, directory for json and badger)",
				Sources: cli.EnvVars("DRIFTGUARD_STORE"),
			},
			&cli.StringFlag{
				Name:    "store-driver",
				Usage:   "Baseline store driver: sqlite, json or badger",
				Sources: cli.EnvVars("DRIFTGUARD_STORE_DRIVER"),
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of files hashed concurrently",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Glob of root-relative paths to ignore (repeatable)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "snapshot",
				Usage:     "Hash every file under DIR and save the result as its baseline",
				ArgsUsage: "[DIR]",
				Action:    action(internal.Snapshot, nil),
			},
			{
				Name:      "compare",
				Usage:     "Compare DIR against its baseline and print the drift",
				ArgsUsage: "[DIR]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "fail-on-drift",
						Usage: "Exit with status 3 when drift is found",
					},
				},
				Action: action(internal.Compare, func(cmd *cli.Command) []internal.Option {
					return []internal.Option{internal.WithFailOnDrift(cmd.Bool("fail-on-drift"))}
				}),
			},
			{
				Name:      "baseline",
				Usage:     "Show the stored baseline for DIR",
				ArgsUsage: "[DIR]",
				Action:    action(internal.Baseline, nil),
			},
			{
				Name:      "monitor",
				Usage:     "Watch DIR and report drift after every burst of changes",
				ArgsUsage: "[DIR]",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period after the last change before comparing",
					},
					&cli.StringFlag{
						Name:    "event-log",
						Usage:   "Append-only JSON event log path (empty disables)",
						Sources: cli.EnvVars("DRIFTGUARD_EVENT_LOG"),
					},
					&cli.IntFlag{
						Name:    "http-port",
						Usage:   "Serve the status API and SSE stream on this port (0 disables)",
						Sources: cli.EnvVars("DRIFTGUARD_HTTP_PORT"),
					},
				},
				Action: action(internal.Monitor, nil),
			},
			{
				Name:  "mcp",
				Usage: "Serve snapshot, compare and baseline tools over MCP stdio",
				Action: action(func(ctx context.Context, _ string, opts ...internal.Option) error {
					return internal.ServeMCP(ctx, opts...)
				}, nil),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, apperr.ErrDriftDetected) {
			os.Exit(exitDrift)
		}
		slog.Error("application error",
			slog.String("error", err.Error()),
			slog.String("kind", string(apperr.KindOf(err))))
		os.Exit(exitError)
	}
}
