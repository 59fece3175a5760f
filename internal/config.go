package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sddbundle/internal/vcs"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Bundle BundleConfig      `yaml:"bundle"`
	SQLite SQLiteConfig      `yaml:"sqlite"`
	Commit CommitConfig      `yaml:"commit"`
	Auth   AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Bundle.Validate(); err != nil {
		return err
	}
	if err := c.Commit.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level    `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.LogFile.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// LogFileConfig enables a rotating JSON log file next to stdout logging.
// An empty Path disables it.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate validates the log file configuration.
func (c *LogFileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BundleConfig points at the bundle root (the directory holding sdd-bundle.yaml).
type BundleConfig struct {
	Path          string        `yaml:"path"`
	Concurrency   int           `yaml:"concurrency"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// Validate validates the bundle configuration.
func (c *BundleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Concurrency, validation.Min(0), validation.Max(256)),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds the snapshot index database configuration.
// An empty Path disables the index; search then scans the snapshot.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Enabled reports whether the index is configured.
func (c *SQLiteConfig) Enabled() bool {
	return c.Path != ""
}

// CommitConfig selects how rejected batches are reverted.
//
// Backend is one of:
//   - "snapshot" (default): restore the bytes captured before the batch.
//   - "git": restore from HEAD with the git command line tool.
//   - "go-git": restore from HEAD with the embedded go-git library.
type CommitConfig struct {
	Backend string `yaml:"backend"`
}

// Validate validates the commit configuration.
func (c *CommitConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = vcs.BackendSnapshot
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(vcs.BackendSnapshot, vcs.BackendGit, vcs.BackendGoGit)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile: LogFileConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Bundle: BundleConfig{
			Path:          ".",
			Concurrency:   8,
			WatchDebounce: 250 * time.Millisecond,
		},
		SQLite: SQLiteConfig{
			Path: "./sddbundle.db",
		},
		Commit: CommitConfig{
			Backend: vcs.BackendSnapshot,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
