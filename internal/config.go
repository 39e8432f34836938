package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/driftguard/internal/baseline"
	"github.com/starford/driftguard/internal/storage"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Monitor  MonitorConfig     `yaml:"monitor"`
	Store    StoreConfig       `yaml:"store"`
	EventLog EventLogConfig    `yaml:"event_log"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel  slog.Level `yaml:"log_level"`
	LogFormat string     `yaml:"log_format"`
	HTTP      HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.LogFormat == "" {
		c.LogFormat = LogFormatJSON
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogFormat, validation.In(LogFormatJSON, LogFormatText)),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. Port 0 disables the server.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Enabled reports whether the status API should be served.
func (c *HTTPConfig) Enabled() bool {
	return c.Port > 0
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
	)
}

// MonitorConfig controls how trees are walked and watched.
type MonitorConfig struct {
	Root        string        `yaml:"root"`
	Debounce    time.Duration `yaml:"debounce"`
	MaxFailures int           `yaml:"max_failures"`
	Workers     int           `yaml:"workers"`
	Symlinks    string        `yaml:"symlinks"`
	Exclude     []string      `yaml:"exclude"`
}

// Validate validates the monitor configuration.
func (c *MonitorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Debounce, validation.Required, validation.Min(10*time.Millisecond)),
		validation.Field(&c.MaxFailures, validation.Required, validation.Min(1)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.Symlinks, validation.In(
			string(storage.SymlinksWithinRoot), string(storage.SymlinksFollow), string(storage.SymlinksSkip))),
	)
}

// StoreConfig selects the baseline store driver and location. An empty
// path resolves to a driver-specific location under the XDG data directory.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required,
			validation.In(baseline.DriverSQLite, baseline.DriverJSON, baseline.DriverBadger)),
	)
}

// Location returns the configured path or the driver's default: a database
// file for sqlite, a directory for json and badger.
func (c *StoreConfig) Location() string {
	if c.Path != "" {
		return c.Path
	}
	if c.Driver == baseline.DriverSQLite {
		return filepath.Join(xdg.DataHome, "driftguard", "baselines.db")
	}
	return filepath.Join(xdg.DataHome, "driftguard", "baselines-"+c.Driver)
}

// EventLogConfig holds the drift event log location. An empty path disables
// the log.
type EventLogConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration for the status API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values. Store
// and event log live under the XDG data and state directories.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel:  slog.LevelInfo,
			LogFormat: LogFormatJSON,
		},
		Monitor: MonitorConfig{
			Root:        ".",
			Debounce:    2 * time.Second,
			MaxFailures: 5,
			Workers:     8,
			Symlinks:    string(storage.SymlinksWithinRoot),
		},
		Store: StoreConfig{
			Driver: baseline.DriverSQLite,
		},
		EventLog: EventLogConfig{
			Path: filepath.Join(xdg.StateHome, "driftguard", "drift.log"),
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
