package session

import (
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/filelock"
	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/mailbox"
	"github.com/Iron-Ham/runboard/internal/store"
	"github.com/Iron-Ham/runboard/internal/taskboard"
)

// maxRunIDProbes bounds the search for a free run id when several sessions
// are created within the same second.
const maxRunIDProbes = 3600

// transitions lists the statuses reachable from each status.
var transitions = map[store.SessionStatus][]store.SessionStatus{
	store.SessionCreated:    {store.SessionPlanned, store.SessionAborted},
	store.SessionPlanned:    {store.SessionRunning, store.SessionAborted},
	store.SessionRunning:    {store.SessionFinalizing, store.SessionFailed, store.SessionAborted},
	store.SessionFinalizing: {store.SessionCompleted, store.SessionFailed, store.SessionAborted},
}

// CanTransition reports whether a session may move from one status to
// another.
func CanTransition(from, to store.SessionStatus) bool {
	return slices.Contains(transitions[from], to)
}

// AbortResult reports what an abort recovered.
type AbortResult struct {
	Session       *store.Session `json:"session"`
	LocksReleased int            `json:"locks_released"`
	Recovered     []string       `json:"recovered"` // task ids returned to pending
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock sets the time source for run ids and decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager drives run sessions over a store.
type Manager struct {
	store   *store.Store
	board   *taskboard.Board
	locks   *filelock.Registry
	mailbox *mailbox.Mailbox
	logger  *logging.Logger
	now     func() time.Time
}

// NewManager creates a Manager. The board plans and recovers tasks, the
// registry is cleared on abort and the mailbox feeds message summaries.
func NewManager(st *store.Store, board *taskboard.Board, locks *filelock.Registry, mb *mailbox.Mailbox, opts ...Option) *Manager {
	m := &Manager{
		store:   st,
		board:   board,
		locks:   locks,
		mailbox: mb,
		logger:  st.Logger(),
		now:     st.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("session")
	return m
}

// CreateSession starts a new run. The run id is the current UTC second; if
// a run with that id exists the next free second is used.
func (m *Manager) CreateSession(goal string, cfg store.SessionConfig) (*store.Session, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, errors.InvalidArgument("session goal is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	runID, err := m.reserveRunID()
	if err != nil {
		return nil, err
	}

	sess := &store.Session{
		RunID:  runID,
		Status: store.SessionCreated,
		Goal:   goal,
		Config: cfg,
	}
	if err := m.store.WriteSession(sess); err != nil {
		return nil, err
	}

	m.logger.WithRun(runID).Info("session created",
		"max_turns", cfg.MaxTurns,
		"timeout_ms", cfg.TimeoutMs,
	)
	return sess, nil
}

// reserveRunID claims a run directory. Mkdir fails on an existing directory,
// so two creators racing for the same second end up with distinct runs.
func (m *Manager) reserveRunID() (string, error) {
	fs := m.store.Fs()
	if err := fs.MkdirAll(m.store.RunsDir(), 0o755); err != nil {
		return "", errors.IOFailure("mkdir", m.store.RunsDir(), err)
	}

	at := m.now().UTC().Truncate(time.Second)
	for i := 0; i < maxRunIDProbes; i++ {
		runID := store.FormatRunID(at)
		err := fs.Mkdir(m.store.RunDir(runID), 0o755)
		if err == nil {
			return runID, nil
		}
		if !os.IsExist(err) {
			return "", errors.IOFailure("mkdir", m.store.RunDir(runID), err)
		}
		at = at.Add(time.Second)
	}
	return "", errors.Newf(errors.CodeIO, "no free run id within %d seconds of %s", maxRunIDProbes, store.FormatRunID(m.now().UTC()))
}

func validateConfig(cfg store.SessionConfig) error {
	if cfg.MaxTurns < 1 {
		return errors.InvalidArgument("max_turns must be at least 1, got %d", cfg.MaxTurns).WithDetail("max_turns", cfg.MaxTurns)
	}
	if cfg.TimeoutMs <= 0 {
		return errors.InvalidArgument("timeout_ms must be positive, got %d", cfg.TimeoutMs).WithDetail("timeout_ms", cfg.TimeoutMs)
	}
	if cfg.BudgetTokens != nil && *cfg.BudgetTokens < 0 {
		return errors.InvalidArgument("budget_tokens must not be negative, got %d", *cfg.BudgetTokens).WithDetail("budget_tokens", *cfg.BudgetTokens)
	}
	return nil
}

// PlanSession creates the plan's tasks on the board and moves the session
// to planned. A plan rejected by the board (bad spec, duplicate id, cycle)
// leaves both the board and the session unchanged.
func (m *Manager) PlanSession(runID string, plan []taskboard.TaskSpec) (*store.Session, error) {
	return m.transition(runID, store.SessionPlanned, func(sess *store.Session) error {
		if _, err := m.board.CreateTasks(runID, plan); err != nil {
			return err
		}
		summary, err := m.board.Summary(runID)
		if err != nil {
			return err
		}
		sess.TasksSummary = summary
		return nil
	})
}

// StartSession moves a planned session to running.
func (m *Manager) StartSession(runID string) (*store.Session, error) {
	return m.transition(runID, store.SessionRunning, nil)
}

// FinalizeSession moves a running session to finalizing.
func (m *Manager) FinalizeSession(runID string) (*store.Session, error) {
	return m.transition(runID, store.SessionFinalizing, nil)
}

// CompleteSession records the decision of a finalizing session and moves it
// to completed.
func (m *Manager) CompleteSession(runID, artifactID, direction string) (*store.Session, error) {
	if strings.TrimSpace(artifactID) == "" {
		return nil, errors.InvalidArgument("decision artifact id is required")
	}
	return m.transition(runID, store.SessionCompleted, func(sess *store.Session) error {
		sess.Decision = &store.Decision{
			ArtifactID: artifactID,
			Direction:  direction,
			DecidedAt:  m.now().UTC(),
		}
		return nil
	})
}

// FailSession records why a running or finalizing session failed.
func (m *Manager) FailSession(runID, reason string) (*store.Session, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, errors.InvalidArgument("failure reason is required")
	}
	return m.transition(runID, store.SessionFailed, func(sess *store.Session) error {
		sess.FailureReason = reason
		return nil
	})
}

// AbortSession stops a run: every path lock is deleted, every claimed or
// running task returns to pending without a lease, and the session is
// marked aborted. Lock and task recovery are best-effort; failures are
// logged and do not prevent the abort.
//
// Returns ERR_LOCK_CONFLICT when another live process controls the run.
func (m *Manager) AbortSession(runID string) (*AbortResult, error) {
	if err := m.checkController(runID); err != nil {
		return nil, err
	}

	result := &AbortResult{}
	log := m.logger.WithRun(runID)
	sess, err := m.transition(runID, store.SessionAborted, func(sess *store.Session) error {
		released, err := m.locks.ReleaseAll(runID)
		result.LocksReleased = released
		if err != nil {
			log.Warn("abort left lock files behind", "error", err)
		}

		recovered, err := m.board.RevokeLeases(runID)
		result.Recovered = recovered
		if err != nil {
			log.Warn("abort could not recover every task", "error", err)
		}

		if summary, err := m.board.Summary(runID); err == nil {
			sess.TasksSummary = summary
		} else {
			log.Warn("abort could not recount tasks", "error", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Session = sess
	if result.Recovered == nil {
		result.Recovered = []string{}
	}
	return result, nil
}

// RefreshIndex recomputes the task, message and artifact summaries from
// their stores and overwrites them in the session record. The status is
// left alone, so terminal sessions can be refreshed too.
func (m *Manager) RefreshIndex(runID string) (*store.Session, error) {
	if err := m.requireRun(runID); err != nil {
		return nil, err
	}

	var (
		tasks     map[store.TaskStatus]int
		messages  map[string]int
		artifacts []*store.Artifact
	)
	p := pool.New().WithErrors()
	p.Go(func() error {
		var err error
		tasks, err = m.board.Summary(runID)
		return err
	})
	p.Go(func() error {
		var err error
		messages, err = m.mailbox.CountByType(runID)
		return err
	})
	p.Go(func() error {
		var err error
		artifacts, err = m.store.ListArtifacts(runID)
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		ids = append(ids, a.ArtifactID)
	}

	unlock, err := m.store.LockRun(runID, store.ScopeIndex)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := m.store.ReadSession(runID)
	if err != nil {
		return nil, err
	}
	sess.TasksSummary = tasks
	sess.MessagesSummary = messages
	sess.ArtifactsSummary = ids
	if err := m.store.WriteSession(sess); err != nil {
		return nil, err
	}
	m.logger.WithRun(runID).Debug("session index refreshed",
		"tasks", tasks,
		"messages", messages,
		"artifacts", len(ids),
	)
	return sess, nil
}

// GetSession returns a run's session record.
func (m *Manager) GetSession(runID string) (*store.Session, error) {
	return m.store.ReadSession(runID)
}

// ListSessions returns every session, newest first, optionally restricted
// to the given statuses.
func (m *Manager) ListSessions(statuses ...store.SessionStatus) ([]*store.Session, error) {
	all, err := m.store.ListSessions()
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return all, nil
	}
	out := all[:0]
	for _, s := range all {
		if slices.Contains(statuses, s.Status) {
			out = append(out, s)
		}
	}
	return out, nil
}

// transition moves a session to status to under the run's index lock. The
// mutate hook runs after the transition is validated and before the record
// is written; an error from it aborts the transition.
func (m *Manager) transition(runID string, to store.SessionStatus, mutate func(*store.Session) error) (*store.Session, error) {
	if err := m.requireRun(runID); err != nil {
		return nil, err
	}

	unlock, err := m.store.LockRun(runID, store.ScopeIndex)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := m.store.ReadSession(runID)
	if err != nil {
		return nil, err
	}
	from := sess.Status
	if !CanTransition(from, to) {
		return nil, errors.Newf(errors.CodeSessionInvalidState,
			"session %s cannot move from %s to %s", runID, from, to).
			WithDetail("run_id", runID).
			WithDetail("from", string(from)).
			WithDetail("to", string(to))
	}

	if mutate != nil {
		if err := mutate(sess); err != nil {
			return nil, err
		}
	}
	sess.Status = to
	if err := m.store.WriteSession(sess); err != nil {
		return nil, err
	}

	m.logger.WithRun(runID).Info("session "+string(to), "from", string(from))
	return sess, nil
}

// requireRun fails with ERR_SESSION_NOT_FOUND for unknown runs so that
// taking a run lock never creates a directory for them.
func (m *Manager) requireRun(runID string) error {
	if err := store.ValidateRunID(runID); err != nil {
		return err
	}
	ok, err := m.store.RunExists(runID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound(errors.CodeSessionNotFound, "session", runID)
	}
	return nil
}
