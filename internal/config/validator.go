package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "lease.max_retries")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLease()...)
	errors = append(errors, c.validateLock()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if strings.ContainsRune(c.Store.Root, '\x00') {
		errors = append(errors, ValidationError{
			Field:   "store.root",
			Value:   c.Store.Root,
			Message: "contains invalid null character",
		})
	}

	return errors
}

func (c *Config) validateLease() []ValidationError {
	var errors []ValidationError

	if c.Lease.DefaultDurationMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lease.default_duration_ms",
			Value:   c.Lease.DefaultDurationMs,
			Message: "must be positive",
		})
	}

	if c.Lease.MaxRetries < 1 {
		errors = append(errors, ValidationError{
			Field:   "lease.max_retries",
			Value:   c.Lease.MaxRetries,
			Message: "must be at least 1",
		})
	}

	// More attempts than this means a task is flapping, not recovering
	const maxRetriesLimit = 100
	if c.Lease.MaxRetries > maxRetriesLimit {
		errors = append(errors, ValidationError{
			Field:   "lease.max_retries",
			Value:   c.Lease.MaxRetries,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRetriesLimit),
		})
	}

	return errors
}

func (c *Config) validateLock() []ValidationError {
	var errors []ValidationError

	if c.Lock.DefaultDurationMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "lock.default_duration_ms",
			Value:   c.Lock.DefaultDurationMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.DefaultMaxTurns < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.default_max_turns",
			Value:   c.Session.DefaultMaxTurns,
			Message: "must be at least 1",
		})
	}

	if c.Session.DefaultTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.default_timeout_ms",
			Value:   c.Session.DefaultTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be non-negative (0 disables rotation)",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
