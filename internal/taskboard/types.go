package taskboard

import (
	"slices"
	"time"

	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// DefaultLeaseDuration is used by ClaimTask when no duration is given.
const DefaultLeaseDuration = 5 * time.Minute

// TaskSpec describes a task to create. Plan files decode into it.
type TaskSpec struct {
	TaskID       string         `json:"task_id" yaml:"task_id"`
	Title        string         `json:"title" yaml:"title"`
	Type         store.TaskType `json:"type" yaml:"type"`
	Input        any            `json:"input,omitempty" yaml:"input,omitempty"`
	AssignedRole string         `json:"assigned_role,omitempty" yaml:"assigned_role,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Claim is the lease granted by a successful ClaimTask.
type Claim struct {
	TaskID        string    `json:"task_id"`
	LeaseToken    string    `json:"lease_token"`
	LeaseExpireAt time.Time `json:"lease_expire_at"`
	Attempt       int       `json:"attempt"`
}

// Filter selects tasks in ListTasks. Zero fields match everything.
type Filter struct {
	Statuses []store.TaskStatus
	Type     store.TaskType
	Role     string
	Owner    string
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t *store.Task) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Role != "" && t.AssignedRole != f.Role {
		return false
	}
	if f.Owner != "" && (!t.HasActiveLease() || t.Lease.OwnerAgentID != f.Owner) {
		return false
	}
	return true
}

// EventKind names a task transition.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventBlocked   EventKind = "blocked"
	EventUnblocked EventKind = "unblocked"
	EventClaimed   EventKind = "claimed"
	EventStarted   EventKind = "started"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRenewed   EventKind = "renewed"
	EventRevoked   EventKind = "revoked"
	EventDeleted   EventKind = "deleted"
)

// Event describes a task transition made by this board.
type Event struct {
	Kind    EventKind
	RunID   string
	TaskID  string
	AgentID string
}

// Option configures a Board.
type Option func(*Board)

// WithLogger sets the board logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Board) {
		b.logger = logger
	}
}

// WithClock overrides the store clock used for leases.
func WithClock(now func() time.Time) Option {
	return func(b *Board) {
		b.now = now
	}
}

// WithDefaultLeaseDuration sets the lease length used when ClaimTask is
// called with a zero duration.
func WithDefaultLeaseDuration(d time.Duration) Option {
	return func(b *Board) {
		if d > 0 {
			b.defaultLease = d
		}
	}
}
