// Package lease recovers tasks whose lease holder has gone away.
//
// There is no background sweeper. The task board sweeps a run lazily at
// the start of every claim, so a crashed worker's task becomes claimable
// again as soon as anyone asks for work.
package lease

import (
	"fmt"
	"time"

	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// DefaultMaxRetries is the attempt count at which an expired lease fails
// its task instead of recycling it.
const DefaultMaxRetries = 3

// SweepResult lists the tasks changed by a sweep.
type SweepResult struct {
	// Recovered tasks went back to pending with their lease kept.
	Recovered []string `json:"recovered"`
	// Exhausted tasks failed because their last attempt reached the limit.
	Exhausted []string `json:"exhausted"`
}

// Changed reports whether the sweep rewrote any task.
func (r *SweepResult) Changed() bool {
	return len(r.Recovered) > 0 || len(r.Exhausted) > 0
}

// Manager sweeps expired task leases.
type Manager struct {
	store      *store.Store
	logger     *logging.Logger
	now        func() time.Time
	maxRetries int
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries sets the exhaustion threshold. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(m *Manager) {
		if n >= 1 {
			m.maxRetries = n
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the store clock used for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a lease Manager over st.
func NewManager(st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:      st,
		logger:     st.Logger(),
		now:        st.Now,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("lease")
	return m
}

// MaxRetries returns the exhaustion threshold.
func (m *Manager) MaxRetries() int { return m.maxRetries }

// SweepExpiredLeases recycles or fails every claimed or running task of a
// run whose lease has expired. Sweeping again with no new expirations
// returns empty lists.
func (m *Manager) SweepExpiredLeases(runID string) (*SweepResult, error) {
	unlock, err := m.store.LockRun(runID, store.ScopeTasks)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return m.SweepLocked(runID)
}

// SweepLocked is SweepExpiredLeases for callers already holding the run's
// tasks lock.
func (m *Manager) SweepLocked(runID string) (*SweepResult, error) {
	res := &SweepResult{Recovered: []string{}, Exhausted: []string{}}

	tasks, err := m.store.ListTasks(runID)
	if err != nil {
		return res, err
	}

	now := m.now()
	for _, task := range tasks {
		if !task.HasActiveLease() || !task.Lease.Expired(now) {
			continue
		}

		attempt := task.Lease.Attempt
		logger := m.logger.WithRun(runID).WithTask(task.TaskID).With(
			"attempt", attempt,
			"owner_agent_id", task.Lease.OwnerAgentID,
		)

		if attempt < m.maxRetries {
			task.Status = store.TaskPending
			if err := m.store.WriteTask(task); err != nil {
				return res, err
			}
			logger.Info("lease expired, task recycled")
			res.Recovered = append(res.Recovered, task.TaskID)
			continue
		}

		task.Status = store.TaskFailed
		task.FailureClass = store.FailureRetryable
		task.FailureMessage = fmt.Sprintf("lease expired on attempt %d of %d; retries exhausted", attempt, m.maxRetries)
		task.Lease = nil
		if err := m.store.WriteTask(task); err != nil {
			return res, err
		}
		logger.Warn("lease expired, retries exhausted")
		res.Exhausted = append(res.Exhausted, task.TaskID)
	}
	return res, nil
}
