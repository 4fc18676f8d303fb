package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/runboard/internal/logging"
)

// Config represents the complete runboard configuration
type Config struct {
	Store   StoreConfig   `mapstructure:"store" json:"store"`
	Lease   LeaseConfig   `mapstructure:"lease" json:"lease"`
	Lock    LockConfig    `mapstructure:"lock" json:"lock"`
	Session SessionConfig `mapstructure:"session" json:"session"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// StoreConfig controls where run directories live
type StoreConfig struct {
	// Root is the shared directory holding runs/<run_id>/...
	// Empty means .runboard in the current directory.
	Root string `mapstructure:"root" json:"root"`
}

// LeaseConfig controls task leases
type LeaseConfig struct {
	// DefaultDurationMs is the lease length used when a claim does not specify one
	DefaultDurationMs int `mapstructure:"default_duration_ms" json:"default_duration_ms"`
	// MaxRetries is the attempt count at which an expired lease fails the task (default: 3)
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
}

// LockConfig controls path locks
type LockConfig struct {
	// DefaultDurationMs is the lock lifetime used when acquire does not specify an expiry
	DefaultDurationMs int `mapstructure:"default_duration_ms" json:"default_duration_ms"`
}

// SessionConfig holds defaults for new run sessions
type SessionConfig struct {
	// DefaultMaxTurns is used when a session is created without max_turns
	DefaultMaxTurns int `mapstructure:"default_max_turns" json:"default_max_turns"`
	// DefaultTimeoutMs is used when a session is created without timeout_ms
	DefaultTimeoutMs int64 `mapstructure:"default_timeout_ms" json:"default_timeout_ms"`
}

// LoggingConfig controls debug logging
type LoggingConfig struct {
	// Enabled writes debug.log inside each run directory (default: true)
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Level is the minimum log level: debug, info, warn, error
	Level string `mapstructure:"level" json:"level"`
	// MaxSizeMB rotates debug.log when a process opens it past this size (0 disables)
	MaxSizeMB int `mapstructure:"max_size_mb" json:"max_size_mb"`
	// MaxBackups is the number of rotated debug.log files kept
	MaxBackups int `mapstructure:"max_backups" json:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Root: "", // Empty means use default: .runboard
		},
		Lease: LeaseConfig{
			DefaultDurationMs: 5 * 60 * 1000, // 5 minutes
			MaxRetries:        3,
		},
		Lock: LockConfig{
			DefaultDurationMs: 2 * 60 * 1000, // 2 minutes
		},
		Session: SessionConfig{
			DefaultMaxTurns:  20,
			DefaultTimeoutMs: 60 * 60 * 1000, // 1 hour
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultDuration returns the lease duration as a time.Duration
func (c *LeaseConfig) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMs) * time.Millisecond
}

// Rotation returns the debug.log rotation settings
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{MaxSizeMB: c.MaxSizeMB, MaxBackups: c.MaxBackups}
}

// DefaultDuration returns the lock lifetime as a time.Duration
func (c *LockConfig) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationMs) * time.Millisecond
}

// ResolveRoot returns the absolute store root, resolving relative paths
// against baseDir.
func (c *StoreConfig) ResolveRoot(baseDir string) string {
	root := c.Root
	if root == "" {
		return filepath.Join(baseDir, ".runboard")
	}
	if len(root) > 1 && root[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			root = filepath.Join(home, root[2:])
		}
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(baseDir, root)
	}
	return root
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("store.root", defaults.Store.Root)

	viper.SetDefault("lease.default_duration_ms", defaults.Lease.DefaultDurationMs)
	viper.SetDefault("lease.max_retries", defaults.Lease.MaxRetries)

	viper.SetDefault("lock.default_duration_ms", defaults.Lock.DefaultDurationMs)

	viper.SetDefault("session.default_max_turns", defaults.Session.DefaultMaxTurns)
	viper.SetDefault("session.default_timeout_ms", defaults.Session.DefaultTimeoutMs)

	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "runboard")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".runboard"
	}
	return filepath.Join(home, ".config", "runboard")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
