package taskboard

import (
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/lease"
	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// Board is the task board over a store. All methods are safe for
// concurrent use.
type Board struct {
	store        *store.Store
	leases       *lease.Manager
	logger       *logging.Logger
	now          func() time.Time
	defaultLease time.Duration

	mu       sync.RWMutex
	handlers []func(Event)
}

// NewBoard creates a Board that sweeps expired leases with leases.
func NewBoard(st *store.Store, leases *lease.Manager, opts ...Option) *Board {
	b := &Board{
		store:        st,
		leases:       leases,
		logger:       st.Logger(),
		now:          st.Now,
		defaultLease: DefaultLeaseDuration,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.WithComponent("taskboard")
	return b
}

// -----------------------------------------------------------------------------
// Creation and graph edits
// -----------------------------------------------------------------------------

// CreateTask writes a new pending task. Dependencies may name tasks that do
// not exist yet; they count as unfinished until created and completed.
// Returns ERR_INVALID_ARGUMENT, before anything is written, when the spec
// is malformed, the id is taken, or the dependencies would close a cycle.
func (b *Board) CreateTask(runID string, spec TaskSpec) (*store.Task, error) {
	tasks, err := b.CreateTasks(runID, []TaskSpec{spec})
	if err != nil {
		return nil, err
	}
	return tasks[0], nil
}

// CreateTasks writes a batch of pending tasks in order. Every spec is
// checked against the existing tasks and the earlier specs of the batch
// before the first write, so a rejected batch leaves the board unchanged.
func (b *Board) CreateTasks(runID string, specs []TaskSpec) ([]*store.Task, error) {
	inputs := make([]json.RawMessage, len(specs))
	for i, spec := range specs {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
		input, err := encodeInput(spec.Input)
		if err != nil {
			return nil, err
		}
		inputs[i] = input
	}

	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	graph := dependencyGraph(existing)
	for _, spec := range specs {
		if _, taken := graph[spec.TaskID]; taken {
			return nil, errors.InvalidArgument("task %q already exists", spec.TaskID).WithDetail("task_id", spec.TaskID)
		}
		if cycle := findCycle(spec.TaskID, spec.DependsOn, graph); cycle != nil {
			return nil, cycleError(spec.TaskID, cycle)
		}
		graph[spec.TaskID] = spec.DependsOn
	}

	created := make([]*store.Task, 0, len(specs))
	for i, spec := range specs {
		task := &store.Task{
			TaskID:       spec.TaskID,
			RunID:        runID,
			Title:        spec.Title,
			Type:         spec.Type,
			Status:       store.TaskPending,
			Input:        inputs[i],
			AssignedRole: spec.AssignedRole,
			DependsOn:    slices.Clone(spec.DependsOn),
		}
		if err := b.store.WriteTask(task); err != nil {
			return created, err
		}

		b.logger.WithRun(runID).WithTask(task.TaskID).Info("task created",
			"type", string(task.Type),
			"depends_on", task.DependsOn,
		)
		b.notify(Event{Kind: EventCreated, RunID: runID, TaskID: task.TaskID})
		created = append(created, task.Clone())
	}
	return created, nil
}

// UpdateDependencies replaces the dependencies of a pending or blocked
// task, rejecting cycles with ERR_INVALID_ARGUMENT and leaving every record
// unchanged.
func (b *Board) UpdateDependencies(runID, taskID string, dependsOn []string) (*store.Task, error) {
	if err := validateDeps(taskID, dependsOn); err != nil {
		return nil, err
	}

	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(tasks, func(t *store.Task) bool { return t.TaskID == taskID })
	if idx < 0 {
		return nil, errors.NotFound(errors.CodeTaskNotFound, "task", taskID)
	}
	task := tasks[idx]
	if task.Status != store.TaskPending && task.Status != store.TaskBlocked {
		return nil, wrongState(task, "update dependencies of")
	}
	if cycle := findCycle(taskID, dependsOn, dependencyGraph(tasks)); cycle != nil {
		return nil, cycleError(taskID, cycle)
	}

	task.DependsOn = slices.Clone(dependsOn)
	if task.Status == store.TaskBlocked {
		task.BlockingTasks = unmetDependencies(task, statusIndex(tasks))
	}
	if err := b.store.WriteTask(task); err != nil {
		return nil, err
	}
	b.logger.WithRun(runID).WithTask(taskID).Info("task dependencies updated", "depends_on", task.DependsOn)
	return task.Clone(), nil
}

// BlockTask moves a pending task to blocked, recording its unfinished
// dependencies.
func (b *Board) BlockTask(runID, taskID string) (*store.Task, error) {
	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	task, err := b.store.ReadTask(runID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != store.TaskPending {
		return nil, wrongState(task, "block")
	}
	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	if err := b.blockLocked(task, unmetDependencies(task, statusIndex(tasks))); err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

// UnblockTask moves a blocked task back to pending. Fails with
// ERR_TASK_DEPENDENCY_NOT_MET, listing the unfinished ids, unless every
// dependency is completed.
func (b *Board) UnblockTask(runID, taskID string) (*store.Task, error) {
	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	task, err := b.store.ReadTask(runID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != store.TaskBlocked {
		return nil, wrongState(task, "unblock")
	}
	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	if unmet := unmetDependencies(task, statusIndex(tasks)); len(unmet) > 0 {
		return nil, dependencyError(taskID, unmet)
	}
	if err := b.unblockLocked(task); err != nil {
		return nil, err
	}
	return task.Clone(), nil
}

func (b *Board) blockLocked(task *store.Task, unmet []string) error {
	task.Status = store.TaskBlocked
	task.BlockingTasks = unmet
	if err := b.store.WriteTask(task); err != nil {
		return err
	}
	b.logger.WithRun(task.RunID).WithTask(task.TaskID).Info("task blocked", "blocking_tasks", unmet)
	b.notify(Event{Kind: EventBlocked, RunID: task.RunID, TaskID: task.TaskID})
	return nil
}

func (b *Board) unblockLocked(task *store.Task) error {
	task.Status = store.TaskPending
	task.BlockingTasks = nil
	if err := b.store.WriteTask(task); err != nil {
		return err
	}
	b.logger.WithRun(task.RunID).WithTask(task.TaskID).Info("task unblocked")
	b.notify(Event{Kind: EventUnblocked, RunID: task.RunID, TaskID: task.TaskID})
	return nil
}

// -----------------------------------------------------------------------------
// Lease lifecycle
// -----------------------------------------------------------------------------

// ClaimTask grants agentID a lease on a task for leaseDuration (the board
// default when zero). Expired leases in the run are swept first.
//
// Errors:
//   - ERR_TASK_DEPENDENCY_NOT_MET when a dependency is unfinished; a pending
//     task is moved to blocked as a side effect.
//   - ERR_LEASE_CONFLICT when another live lease holds the task.
//   - ERR_POLICY_DENIED (TASK_WRONG_STATE) for completed or failed tasks.
func (b *Board) ClaimTask(runID, taskID, agentID string, leaseDuration time.Duration) (*Claim, error) {
	if agentID == "" {
		return nil, errors.InvalidArgument("agent id is required")
	}
	if leaseDuration < 0 {
		return nil, errors.InvalidArgument("lease duration must be positive")
	}
	if leaseDuration == 0 {
		leaseDuration = b.defaultLease
	}

	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := b.leases.SweepLocked(runID); err != nil {
		return nil, err
	}

	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	idx := slices.IndexFunc(tasks, func(t *store.Task) bool { return t.TaskID == taskID })
	if idx < 0 {
		if err := store.ValidateID("task", taskID); err != nil {
			return nil, err
		}
		return nil, errors.NotFound(errors.CodeTaskNotFound, "task", taskID)
	}
	task := tasks[idx]
	logger := b.logger.WithRun(runID).WithTask(taskID).WithAgent(agentID)

	if task.Status == store.TaskPending || task.Status == store.TaskBlocked {
		unmet := unmetDependencies(task, statusIndex(tasks))
		switch {
		case len(unmet) > 0 && task.Status == store.TaskPending:
			if err := b.blockLocked(task, unmet); err != nil {
				return nil, err
			}
			return nil, dependencyError(taskID, unmet)
		case len(unmet) > 0:
			if !slices.Equal(task.BlockingTasks, unmet) {
				task.BlockingTasks = unmet
				if err := b.store.WriteTask(task); err != nil {
					return nil, err
				}
			}
			return nil, dependencyError(taskID, unmet)
		case task.Status == store.TaskBlocked:
			if err := b.unblockLocked(task); err != nil {
				return nil, err
			}
		}
	}

	switch task.Status {
	case store.TaskPending:
	case store.TaskClaimed, store.TaskRunning:
		return nil, errors.Newf(errors.CodeLeaseConflict, "task %q is leased by %s", taskID, task.Lease.OwnerAgentID).
			WithDetail("task_id", taskID).
			WithDetail("owner_agent_id", task.Lease.OwnerAgentID).
			WithDetail("lease_expire_at", task.Lease.LeaseExpireAt).
			WithDetail("status", string(task.Status))
	default:
		return nil, wrongState(task, "claim")
	}

	now := b.now().UTC()
	task.Lease = &store.Lease{
		LeaseToken:    store.NewLeaseToken(),
		OwnerAgentID:  agentID,
		LeaseExpireAt: now.Add(leaseDuration),
		Attempt:       task.Attempt() + 1,
	}
	task.Status = store.TaskClaimed
	task.BlockingTasks = nil
	if err := b.store.WriteTask(task); err != nil {
		return nil, err
	}

	logger.Info("task claimed",
		"attempt", task.Lease.Attempt,
		"lease_expire_at", task.Lease.LeaseExpireAt,
	)
	b.notify(Event{Kind: EventClaimed, RunID: runID, TaskID: taskID, AgentID: agentID})
	return &Claim{
		TaskID:        taskID,
		LeaseToken:    task.Lease.LeaseToken,
		LeaseExpireAt: task.Lease.LeaseExpireAt,
		Attempt:       task.Lease.Attempt,
	}, nil
}

// StartTask moves a claimed task to running. A token that does not match
// the live lease, or a lease past its expiry, fails with ERR_LEASE_EXPIRED.
func (b *Board) StartTask(runID, taskID, leaseToken string) (*store.Task, error) {
	return b.transition(runID, taskID, leaseToken, store.TaskClaimed, "start", func(task *store.Task) (EventKind, error) {
		task.Status = store.TaskRunning
		return EventStarted, nil
	})
}

// CompleteTask moves a running task to completed with its artifacts and
// releases the lease. Blocked dependents whose dependencies are now all
// completed are then unblocked on a best-effort basis.
func (b *Board) CompleteTask(runID, taskID, leaseToken string, artifactRefs []store.ArtifactRef) (*store.Task, error) {
	if len(artifactRefs) == 0 {
		return nil, errors.InvalidArgument("completing task %q requires at least one artifact ref", taskID).
			WithDetail("task_id", taskID)
	}
	for _, ref := range artifactRefs {
		if ref.ArtifactID == "" {
			return nil, errors.InvalidArgument("artifact ref without artifact_id").WithDetail("task_id", taskID)
		}
	}

	task, err := b.transition(runID, taskID, leaseToken, store.TaskRunning, "complete", func(task *store.Task) (EventKind, error) {
		task.Status = store.TaskCompleted
		task.ArtifactRefs = slices.Clone(artifactRefs)
		task.Lease = nil
		return EventCompleted, nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := b.unblockDependents(runID, taskID); err != nil {
		b.logger.WithRun(runID).WithTask(taskID).Warn("auto-unblock after completion failed", "error", err)
	}
	return task, nil
}

// FailTask moves a running task to failed and releases the lease.
func (b *Board) FailTask(runID, taskID, leaseToken string, class store.FailureClass, message string) (*store.Task, error) {
	switch class {
	case store.FailureRetryable, store.FailureNonRetryable, store.FailurePolicyDenied:
	default:
		return nil, errors.InvalidArgument("invalid failure class %q", class)
	}

	return b.transition(runID, taskID, leaseToken, store.TaskRunning, "fail", func(task *store.Task) (EventKind, error) {
		task.Status = store.TaskFailed
		task.FailureClass = class
		task.FailureMessage = message
		task.Lease = nil
		return EventFailed, nil
	})
}

// RenewLease extends a live lease by leaseDuration from now (the board
// default when zero) and returns the new expiry.
func (b *Board) RenewLease(runID, taskID, leaseToken string, leaseDuration time.Duration) (time.Time, error) {
	if leaseDuration < 0 {
		return time.Time{}, errors.InvalidArgument("lease duration must be positive")
	}
	if leaseDuration == 0 {
		leaseDuration = b.defaultLease
	}

	task, err := b.transition(runID, taskID, leaseToken, "", "renew", func(task *store.Task) (EventKind, error) {
		task.Lease.LeaseExpireAt = b.now().UTC().Add(leaseDuration)
		return EventRenewed, nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return task.Lease.LeaseExpireAt, nil
}

// transition applies mutate to a task held under a live lease matching
// leaseToken. When want is set the task must also be in that status.
func (b *Board) transition(runID, taskID, leaseToken string, want store.TaskStatus, verb string, mutate func(*store.Task) (EventKind, error)) (*store.Task, error) {
	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	task, err := b.store.ReadTask(runID, taskID)
	if err != nil {
		return nil, err
	}
	if err := b.checkLease(task, leaseToken); err != nil {
		return nil, err
	}
	if want != "" && task.Status != want {
		return nil, wrongState(task, verb)
	}

	owner := task.Lease.OwnerAgentID
	kind, err := mutate(task)
	if err != nil {
		return nil, err
	}
	if err := b.store.WriteTask(task); err != nil {
		return nil, err
	}

	b.logger.WithRun(runID).WithTask(taskID).WithAgent(owner).Info("task "+string(kind), "status", string(task.Status))
	b.notify(Event{Kind: kind, RunID: runID, TaskID: taskID, AgentID: owner})
	return task.Clone(), nil
}

// checkLease fails with ERR_LEASE_EXPIRED unless the task is owned under
// leaseToken and the lease has not expired. Mismatch and expiry are not
// distinguished.
func (b *Board) checkLease(task *store.Task, leaseToken string) error {
	if task.HasActiveLease() && leaseToken != "" && task.Lease.LeaseToken == leaseToken && !task.Lease.Expired(b.now()) {
		return nil
	}
	return errors.Newf(errors.CodeLeaseExpired, "lease on task %q is no longer valid", task.TaskID).
		WithDetail("task_id", task.TaskID)
}

// unblockDependents unblocks every blocked task that depends on taskID and
// whose dependencies are now all completed.
func (b *Board) unblockDependents(runID, taskID string) ([]string, error) {
	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	statuses := statusIndex(tasks)

	var unblocked []string
	var errs []error
	for _, task := range tasks {
		if task.Status != store.TaskBlocked || !slices.Contains(task.DependsOn, taskID) {
			continue
		}
		if len(unmetDependencies(task, statuses)) > 0 {
			continue
		}
		if err := b.unblockLocked(task); err != nil {
			errs = append(errs, err)
			continue
		}
		unblocked = append(unblocked, task.TaskID)
	}
	return unblocked, errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Queries and administration
// -----------------------------------------------------------------------------

// GetTask returns a task record.
func (b *Board) GetTask(runID, taskID string) (*store.Task, error) {
	return b.store.ReadTask(runID, taskID)
}

// ListTasks returns the tasks matching filter, ordered by task id.
func (b *Board) ListTasks(runID string, filter Filter) ([]*store.Task, error) {
	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	out := tasks[:0]
	for _, t := range tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Ready returns the pending and blocked tasks whose dependencies are all
// completed, in execution order. These are the tasks a claim would grant.
func (b *Board) Ready(runID string) ([]*store.Task, error) {
	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	statuses := statusIndex(tasks)
	byID := make(map[string]*store.Task, len(tasks))
	for _, t := range tasks {
		byID[t.TaskID] = t
	}

	var ready []*store.Task
	for _, id := range executionOrder(tasks) {
		t := byID[id]
		if t.Status != store.TaskPending && t.Status != store.TaskBlocked {
			continue
		}
		if len(unmetDependencies(t, statuses)) == 0 {
			ready = append(ready, t)
		}
	}
	return ready, nil
}

// RevokeLeases returns every claimed or running task to pending without a
// lease, regardless of expiry, and returns the ids it touched. It is the
// task half of aborting a run. Every task is attempted; write failures are
// joined into the returned error.
func (b *Board) RevokeLeases(runID string) ([]string, error) {
	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}

	var revoked []string
	var errs []error
	for _, task := range tasks {
		if !task.Status.IsLeased() {
			continue
		}
		owner := ""
		if task.Lease != nil {
			owner = task.Lease.OwnerAgentID
		}
		task.Status = store.TaskPending
		task.Lease = nil
		if err := b.store.WriteTask(task); err != nil {
			b.logger.WithRun(runID).WithTask(task.TaskID).Warn("failed to revoke lease", "error", err)
			errs = append(errs, err)
			continue
		}
		b.logger.WithRun(runID).WithTask(task.TaskID).WithAgent(owner).Info("lease revoked")
		b.notify(Event{Kind: EventRevoked, RunID: runID, TaskID: task.TaskID, AgentID: owner})
		revoked = append(revoked, task.TaskID)
	}
	return revoked, errors.Join(errs...)
}

// DeleteTask removes a task record regardless of its state. It is an
// administrative operation; dependents keep naming the deleted id.
func (b *Board) DeleteTask(runID, taskID string) error {
	unlock, err := b.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return err
	}
	defer unlock()

	if err := b.store.DeleteTask(runID, taskID); err != nil {
		return err
	}
	b.logger.WithRun(runID).WithTask(taskID).Warn("task deleted")
	b.notify(Event{Kind: EventDeleted, RunID: runID, TaskID: taskID})
	return nil
}

// Summary counts the tasks of a run by status. Every status is present.
func (b *Board) Summary(runID string) (map[store.TaskStatus]int, error) {
	tasks, err := b.store.ListTasks(runID)
	if err != nil {
		return nil, err
	}
	return Count(tasks), nil
}

// Count tallies tasks by status, including zero counts.
func Count(tasks []*store.Task) map[store.TaskStatus]int {
	counts := make(map[store.TaskStatus]int, len(store.AllTaskStatuses()))
	for _, s := range store.AllTaskStatuses() {
		counts[s] = 0
	}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts
}

// WatchTasks registers a handler called after each transition made by this
// board. Handlers run while the run lock is held and must not call back
// into the board.
func (b *Board) WatchTasks(handler func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, handler)
}

func (b *Board) notify(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// -----------------------------------------------------------------------------
// Validation and error helpers
// -----------------------------------------------------------------------------

func validateSpec(spec TaskSpec) error {
	if err := store.ValidateID("task", spec.TaskID); err != nil {
		return err
	}
	if strings.TrimSpace(spec.Title) == "" {
		return errors.InvalidArgument("task %q needs a title", spec.TaskID).WithDetail("task_id", spec.TaskID)
	}
	switch spec.Type {
	case store.TaskResearch, store.TaskExecute, store.TaskAudit:
	default:
		return errors.InvalidArgument("task %q has invalid type %q", spec.TaskID, spec.Type).
			WithDetail("task_id", spec.TaskID)
	}
	return validateDeps(spec.TaskID, spec.DependsOn)
}

func validateDeps(taskID string, deps []string) error {
	seen := make(map[string]bool, len(deps))
	for _, dep := range deps {
		if err := store.ValidateID("task", dep); err != nil {
			return err
		}
		if dep == taskID {
			return cycleError(taskID, []string{taskID, taskID})
		}
		if seen[dep] {
			return errors.InvalidArgument("task %q lists dependency %q twice", taskID, dep).
				WithDetail("task_id", taskID)
		}
		seen[dep] = true
	}
	return nil
}

func encodeInput(input any) (json.RawMessage, error) {
	if input == nil {
		return nil, nil
	}
	if raw, ok := input.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.InvalidArgument("task input is not valid JSON")
		}
		return raw, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, errors.InvalidArgument("task input cannot be encoded as JSON").WithCause(err)
	}
	return data, nil
}

func cycleError(taskID string, cycle []string) *errors.CoordError {
	return errors.InvalidArgument("dependencies of task %q would form a cycle: %s", taskID, strings.Join(cycle, " -> ")).
		WithDetail("task_id", taskID).
		WithDetail("cycle", cycle)
}

func dependencyError(taskID string, unmet []string) *errors.CoordError {
	return errors.Newf(errors.CodeTaskDependencyNotMet, "task %q is waiting on %s", taskID, strings.Join(unmet, ", ")).
		WithDetail("task_id", taskID).
		WithDetail("blocking_tasks", unmet)
}

func wrongState(task *store.Task, verb string) *errors.CoordError {
	return errors.PolicyDenied(errors.DenyTaskWrongState, "cannot %s task %q in status %s", verb, task.TaskID, task.Status).
		WithDetail("task_id", task.TaskID).
		WithDetail("status", string(task.Status))
}
