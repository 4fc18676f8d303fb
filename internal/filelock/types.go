package filelock

import (
	"time"

	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// Lock is a persisted path lock.
type Lock = store.LockRecord

// EventKind distinguishes lock lifecycle notifications.
type EventKind string

const (
	// EventAcquired fires after a lock record is written.
	EventAcquired EventKind = "acquired"

	// EventReleased fires after a holder releases its locks on a path.
	EventReleased EventKind = "released"

	// EventPurged fires after an expired lock record is removed.
	EventPurged EventKind = "purged"
)

// Event describes a lock change observed by this process.
type Event struct {
	Kind  EventKind
	RunID string
	Lock  Lock
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithClock overrides the store clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}
