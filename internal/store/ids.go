package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/runboard/internal/errors"
)

// RunIDLayout is the time layout of run identifiers (UTC).
const RunIDLayout = "20060102_150405"

var (
	idPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,80}$`)
	runIDPattern = regexp.MustCompile(`^\d{8}_\d{6}$`)
)

// ValidateID checks a task, lock, message or artifact identifier.
func ValidateID(kind, id string) error {
	if !idPattern.MatchString(id) {
		return errors.InvalidArgument("invalid %s id %q", kind, id).WithDetail(kind+"_id", id)
	}
	return nil
}

// ValidateRunID checks that id has the YYYYMMDD_HHMMSS shape.
func ValidateRunID(id string) error {
	if !runIDPattern.MatchString(id) {
		return errors.InvalidArgument("invalid run id %q", id).WithDetail("run_id", id)
	}
	return nil
}

// FormatRunID renders t as a run identifier.
func FormatRunID(t time.Time) string {
	return t.UTC().Format(RunIDLayout)
}

// NewLeaseToken mints a lease token.
func NewLeaseToken() string {
	return uuid.NewString()
}

// NewRecordID mints an identifier for lock, message and artifact records.
func NewRecordID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
