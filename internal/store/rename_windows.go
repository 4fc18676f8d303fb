//go:build windows

package store

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isBusyFileError reports whether err is Windows refusing to replace a file
// that another process has open.
func isBusyFileError(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) ||
		errors.Is(err, windows.ERROR_LOCK_VIOLATION) ||
		errors.Is(err, windows.ERROR_ACCESS_DENIED)
}
