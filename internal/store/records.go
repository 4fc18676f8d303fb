package store

import (
	"encoding/json"
	"time"
)

// TaskType classifies the work a task represents.
type TaskType string

const (
	TaskResearch TaskType = "research"
	TaskExecute  TaskType = "execute"
	TaskAudit    TaskType = "audit"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskPending indicates the task is waiting to be claimed.
	TaskPending TaskStatus = "pending"

	// TaskClaimed indicates an agent holds a lease but has not started.
	TaskClaimed TaskStatus = "claimed"

	// TaskRunning indicates the lease holder is executing the task.
	TaskRunning TaskStatus = "running"

	// TaskCompleted indicates the task finished with artifacts.
	TaskCompleted TaskStatus = "completed"

	// TaskFailed indicates the task failed or exhausted its lease retries.
	TaskFailed TaskStatus = "failed"

	// TaskBlocked indicates a claim found unfinished dependencies.
	TaskBlocked TaskStatus = "blocked"
)

// AllTaskStatuses lists every task status in lifecycle order.
func AllTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskPending, TaskBlocked, TaskClaimed, TaskRunning, TaskCompleted, TaskFailed}
}

// String returns the string representation of the task status.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// IsLeased returns true for the statuses that require a live lease.
func (s TaskStatus) IsLeased() bool {
	return s == TaskClaimed || s == TaskRunning
}

// FailureClass categorises why a task failed.
type FailureClass string

const (
	FailureRetryable    FailureClass = "retryable"
	FailureNonRetryable FailureClass = "non_retryable"
	FailurePolicyDenied FailureClass = "policy_denied"
)

// Lease is a time-bounded, token-authenticated ownership grant over a task.
type Lease struct {
	LeaseToken    string    `json:"lease_token"`
	OwnerAgentID  string    `json:"owner_agent_id"`
	LeaseExpireAt time.Time `json:"lease_expire_at"`
	Attempt       int       `json:"attempt"`
}

// Expired reports whether the lease is no longer valid at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.LeaseExpireAt)
}

// ArtifactRef points at an artifact produced by a task.
type ArtifactRef struct {
	ArtifactID string `json:"artifact_id"`
	Kind       string `json:"kind,omitempty"`
	Path       string `json:"path,omitempty"`
}

// Task is a unit of work on the board.
//
// Lease is optional. It is set while the task is claimed or running, and a
// pending task recycled by lease expiry keeps its old lease so the next
// claim can continue the attempt count. A lease therefore proves attempt
// provenance; only [Task.HasActiveLease] proves ownership.
type Task struct {
	TaskID         string          `json:"task_id"`
	RunID          string          `json:"run_id"`
	Title          string          `json:"title"`
	Type           TaskType        `json:"type"`
	Status         TaskStatus      `json:"status"`
	Input          json.RawMessage `json:"input,omitempty"`
	AssignedRole   string          `json:"assigned_role,omitempty"`
	DependsOn      []string        `json:"depends_on,omitempty"`
	BlockingTasks  []string        `json:"blocking_tasks,omitempty"`
	Lease          *Lease          `json:"lease,omitempty"`
	ArtifactRefs   []ArtifactRef   `json:"artifact_refs,omitempty"`
	FailureClass   FailureClass    `json:"failure_class,omitempty"`
	FailureMessage string          `json:"failure_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasActiveLease reports whether the task is owned by its lease holder.
func (t *Task) HasActiveLease() bool {
	return t.Lease != nil && t.Status.IsLeased()
}

// Attempt returns the attempt counter of the current or last lease.
func (t *Task) Attempt() int {
	if t.Lease == nil {
		return 0
	}
	return t.Lease.Attempt
}

// Clone returns a deep copy safe to mutate.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Input != nil {
		cp.Input = append(json.RawMessage(nil), t.Input...)
	}
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.BlockingTasks != nil {
		cp.BlockingTasks = append([]string(nil), t.BlockingTasks...)
	}
	if t.ArtifactRefs != nil {
		cp.ArtifactRefs = append([]ArtifactRef(nil), t.ArtifactRefs...)
	}
	if t.Lease != nil {
		l := *t.Lease
		cp.Lease = &l
	}
	return &cp
}

// LockMode is the access mode of a path lock.
type LockMode string

const (
	LockRead  LockMode = "read"
	LockWrite LockMode = "write"
)

// LockRecord is a persisted path lock.
type LockRecord struct {
	LockID        string    `json:"lock_id"`
	Path          string    `json:"path"`
	Mode          LockMode  `json:"mode"`
	LeaseToken    string    `json:"lease_token"`
	AgentID       string    `json:"agent_id"`
	LeaseExpireAt time.Time `json:"lease_expire_at"`
	AcquiredAt    time.Time `json:"acquired_at"`
}

// Expired reports whether the lock has lapsed at now.
func (l *LockRecord) Expired(now time.Time) bool {
	return !now.Before(l.LeaseExpireAt)
}

// SessionStatus is the state of a run session.
type SessionStatus string

const (
	SessionCreated    SessionStatus = "created"
	SessionPlanned    SessionStatus = "planned"
	SessionRunning    SessionStatus = "running"
	SessionFinalizing SessionStatus = "finalizing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionAborted    SessionStatus = "aborted"
)

// IsTerminal returns true if no transition leaves this status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionAborted
}

// SessionConfig bounds a run.
type SessionConfig struct {
	MaxTurns     int    `json:"max_turns"`
	TimeoutMs    int64  `json:"timeout_ms"`
	BudgetTokens *int64 `json:"budget_tokens,omitempty"`
}

// Decision is the terminal payload of a completed run.
type Decision struct {
	ArtifactID string    `json:"artifact_id"`
	Direction  string    `json:"direction"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Session is the per-run index record.
type Session struct {
	RunID            string             `json:"run_id"`
	Status           SessionStatus      `json:"status"`
	Goal             string             `json:"goal"`
	Config           SessionConfig      `json:"config"`
	TasksSummary     map[TaskStatus]int `json:"tasks_summary"`
	MessagesSummary  map[string]int     `json:"messages_summary"`
	ArtifactsSummary []string           `json:"artifacts_summary"`
	Decision         *Decision          `json:"decision,omitempty"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// MessageType identifies the kind of mailbox message.
type MessageType string

const (
	MessageTaskDispatch MessageType = "task_dispatch"
	MessageTaskResult   MessageType = "task_result"
	MessageTaskFailed   MessageType = "task_failed"
	MessageEscalation   MessageType = "escalation"
	MessageQuestion     MessageType = "question"
	MessageAnswer       MessageType = "answer"
	MessageStatus       MessageType = "status"
	MessageDecision     MessageType = "decision"
)

// Message is a persisted mailbox entry.
type Message struct {
	MsgID     string         `json:"msg_id"`
	RunID     string         `json:"run_id"`
	Type      MessageType    `json:"type"`
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent,omitempty"`
	TaskRefs  []string       `json:"task_refs,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Ack records that an agent consumed a message.
type Ack struct {
	MsgID   string    `json:"msg_id"`
	AgentID string    `json:"agent_id"`
	AckedAt time.Time `json:"acked_at"`
}

// Artifact describes an output registered against a run.
type Artifact struct {
	ArtifactID string    `json:"artifact_id"`
	RunID      string    `json:"run_id"`
	Kind       string    `json:"kind"`
	Path       string    `json:"path,omitempty"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
