//go:build !windows

package store

func isBusyFileError(error) bool { return false }
