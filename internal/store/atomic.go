package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
)

const tempPrefix = ".tmp-"

// atomicWriteFile writes data to path by way of a temp file in the same
// directory so readers see either the old or the new content.
func atomicWriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmpFile, err := afero.TempFile(fs, dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		if !renameNeedsCopy(err) {
			return fmt.Errorf("rename temp file: %w", err)
		}
		if err := copyReplace(fs, tmpPath, path, perm); err != nil {
			return fmt.Errorf("copy fallback: %w", err)
		}
		_ = fs.Remove(tmpPath)
	}

	success = true
	return nil
}

// renameNeedsCopy reports whether a rename failure should be retried as a
// copy: the temp file and target are on different devices, or the platform
// holds the target open.
func renameNeedsCopy(err error) bool {
	if errors.Is(err, syscall.EXDEV) {
		return true
	}
	return isBusyFileError(err)
}

// copyReplace overwrites dst with the contents of src.
func copyReplace(fs afero.Fs, src, dst string, perm os.FileMode) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	f, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
