package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}
	if cfg.Lease.MaxRetries != 3 {
		t.Errorf("Lease.MaxRetries = %d, want 3", cfg.Lease.MaxRetries)
	}
	if cfg.Lease.DefaultDurationMs != 300000 {
		t.Errorf("Lease.DefaultDurationMs = %d, want 300000", cfg.Lease.DefaultDurationMs)
	}
	if !cfg.Logging.Enabled {
		t.Error("Logging.Enabled should be true by default")
	}
	if r := cfg.Logging.Rotation(); r.MaxSizeMB != 10 || r.MaxBackups != 3 {
		t.Errorf("Logging.Rotation() = %+v, want 10MB with 3 backups", r)
	}
	if cfg.Session.DefaultMaxTurns < 1 {
		t.Errorf("Session.DefaultMaxTurns = %d, want >= 1", cfg.Session.DefaultMaxTurns)
	}
}

func TestLeaseConfig_DefaultDuration(t *testing.T) {
	c := LeaseConfig{DefaultDurationMs: 1500}
	if got := c.DefaultDuration(); got != 1500*time.Millisecond {
		t.Errorf("DefaultDuration() = %v, want 1.5s", got)
	}
	l := LockConfig{DefaultDurationMs: 20}
	if got := l.DefaultDuration(); got != 20*time.Millisecond {
		t.Errorf("DefaultDuration() = %v, want 20ms", got)
	}
}

func TestStoreConfig_ResolveRoot(t *testing.T) {
	base := "/work/project"
	tests := []struct {
		name string
		root string
		want string
	}{
		{"empty uses default", "", filepath.Join(base, ".runboard")},
		{"relative", "shared/runs", filepath.Join(base, "shared/runs")},
		{"absolute", "/mnt/shared", "/mnt/shared"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := StoreConfig{Root: tt.root}
			if got := c.ResolveRoot(base); got != tt.want {
				t.Errorf("ResolveRoot() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/runboard" {
			t.Errorf("ConfigDir() = %q", got)
		}
		if got := ConfigFile(); got != "/custom/config/runboard/config.yaml" {
			t.Errorf("ConfigFile() = %q", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "runboard")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestLoad(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Lease.MaxRetries != 3 {
		t.Errorf("Lease.MaxRetries = %d, want 3", cfg.Lease.MaxRetries)
	}

	viper.Set("lease.max_retries", 0)
	if _, err := Load(); err == nil {
		t.Error("Load() should reject lease.max_retries = 0")
	}
}
