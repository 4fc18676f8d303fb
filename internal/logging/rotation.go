package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// RotationConfig bounds the size of a run's debug.log.
type RotationConfig struct {
	// MaxSizeMB is the size past which debug.log is rotated when a logger
	// opens it. A value of 0 disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files to keep.
	// A value of 0 keeps no backups.
	MaxBackups int
}

// DefaultRotationConfig returns a RotationConfig with sensible defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// NewLoggerWithRotation rotates {dir}/debug.log if it has outgrown config
// and then opens a Logger on it like NewLogger.
//
// Rotation only happens on open. Several processes append to the same file,
// and renaming it under a live writer would strand that writer's output.
func NewLoggerWithRotation(dir string, level string, config RotationConfig) (*Logger, error) {
	if dir != "" {
		if _, err := Rotate(filepath.Join(dir, LogFileName), config); err != nil {
			return nil, err
		}
	}
	return NewLogger(dir, level)
}

// Rotate moves path to path.1 when it is larger than config.MaxSizeMB,
// shifting older backups up and dropping the oldest. It reports whether a
// rotation happened. A missing file is not an error.
func Rotate(path string, config RotationConfig) (bool, error) {
	if config.MaxSizeMB <= 0 {
		return false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat log file: %w", err)
	}
	if info.Size() <= int64(config.MaxSizeMB)*1024*1024 {
		return false, nil
	}

	if config.MaxBackups <= 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return false, fmt.Errorf("failed to remove log file: %w", err)
		}
		return true, nil
	}

	// Files are numbered .1 (newest) to .N (oldest).
	_ = os.Remove(BackupPath(path, config.MaxBackups))
	for i := config.MaxBackups - 1; i >= 1; i-- {
		if _, err := os.Stat(BackupPath(path, i)); err == nil {
			_ = os.Rename(BackupPath(path, i), BackupPath(path, i+1))
		}
	}
	if err := os.Rename(path, BackupPath(path, 1)); err != nil {
		if os.IsNotExist(err) {
			// Another process rotated first.
			return false, nil
		}
		return false, fmt.Errorf("failed to rename log file: %w", err)
	}
	return true, nil
}

// BackupPath returns the path of the nth rotated copy of path.
func BackupPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
