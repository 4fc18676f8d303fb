package config

import (
	"strings"
	"testing"
)

func TestValidationErrors_Error(t *testing.T) {
	single := ValidationErrors{{Field: "lease.max_retries", Value: 0, Message: "must be at least 1"}}
	if got := single.Error(); got != "lease.max_retries: must be at least 1 (got: 0)" {
		t.Errorf("Error() = %q", got)
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	if got := multi.Error(); !strings.HasPrefix(got, "2 validation errors:") {
		t.Errorf("Error() = %q", got)
	}

	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should format to empty string")
	}
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero lease duration", func(c *Config) { c.Lease.DefaultDurationMs = 0 }, "lease.default_duration_ms"},
		{"zero max retries", func(c *Config) { c.Lease.MaxRetries = 0 }, "lease.max_retries"},
		{"huge max retries", func(c *Config) { c.Lease.MaxRetries = 1000 }, "lease.max_retries"},
		{"negative lock duration", func(c *Config) { c.Lock.DefaultDurationMs = -1 }, "lock.default_duration_ms"},
		{"zero max turns", func(c *Config) { c.Session.DefaultMaxTurns = 0 }, "session.default_max_turns"},
		{"zero timeout", func(c *Config) { c.Session.DefaultTimeoutMs = 0 }, "session.default_timeout_ms"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"negative log size", func(c *Config) { c.Logging.MaxSizeMB = -1 }, "logging.max_size_mb"},
		{"negative log backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"null byte root", func(c *Config) { c.Store.Root = "a\x00b" }, "store.root"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()

			found := false
			for _, err := range errs {
				if err.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_LogLevelCaseInsensitive(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "WARN"
	for _, err := range cfg.Validate() {
		if err.Field == "logging.level" {
			t.Errorf("uppercase level should be accepted: %v", err)
		}
	}
}
