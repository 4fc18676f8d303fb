package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRotate(t *testing.T) {
	const mb = 1024 * 1024

	t.Run("small file is kept", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		writeSized(t, path, 100)

		rotated, err := Rotate(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
		if err != nil || rotated {
			t.Fatalf("Rotate() = %v, %v; want false, nil", rotated, err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Error("log file should remain")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		rotated, err := Rotate(filepath.Join(t.TempDir(), LogFileName), DefaultRotationConfig())
		if err != nil || rotated {
			t.Errorf("Rotate() = %v, %v; want false, nil", rotated, err)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		writeSized(t, path, mb+1)
		if rotated, _ := Rotate(path, RotationConfig{MaxSizeMB: 0, MaxBackups: 2}); rotated {
			t.Error("rotation should be disabled")
		}
	})

	t.Run("shifts backups and drops the oldest", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		writeSized(t, BackupPath(path, 1), 1)
		writeSized(t, BackupPath(path, 2), 2)
		writeSized(t, path, mb+1)

		rotated, err := Rotate(path, RotationConfig{MaxSizeMB: 1, MaxBackups: 2})
		if err != nil || !rotated {
			t.Fatalf("Rotate() = %v, %v; want true, nil", rotated, err)
		}

		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("current log should have moved")
		}
		sizes := map[int]int64{1: mb + 1, 2: 1}
		for n, want := range sizes {
			info, err := os.Stat(BackupPath(path, n))
			if err != nil {
				t.Fatalf("backup %d missing: %v", n, err)
			}
			if info.Size() != want {
				t.Errorf("backup %d size = %d, want %d", n, info.Size(), want)
			}
		}
		if _, err := os.Stat(BackupPath(path, 3)); !os.IsNotExist(err) {
			t.Error("no backup beyond MaxBackups should exist")
		}
	})

	t.Run("no backups removes the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), LogFileName)
		writeSized(t, path, mb+1)

		rotated, err := Rotate(path, RotationConfig{MaxSizeMB: 1})
		if err != nil || !rotated {
			t.Fatalf("Rotate() = %v, %v; want true, nil", rotated, err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("log file should be removed")
		}
		if _, err := os.Stat(BackupPath(path, 1)); !os.IsNotExist(err) {
			t.Error("no backup should be kept")
		}
	})
}

func TestNewLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName)
	writeSized(t, path, 1024*1024+1)

	logger, err := NewLoggerWithRotation(dir, LevelInfo, RotationConfig{MaxSizeMB: 1, MaxBackups: 1})
	if err != nil {
		t.Fatalf("NewLoggerWithRotation failed: %v", err)
	}
	logger.Info("fresh")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if entries := decodeLines(t, data); len(entries) != 1 || entries[0]["msg"] != "fresh" {
		t.Errorf("new log = %v", entries)
	}
	if _, err := os.Stat(BackupPath(path, 1)); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}
