package filelock

import (
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// Registry manages lock records for runs in a store.
type Registry struct {
	store  *store.Store
	logger *logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	handlers []func(Event)
}

// NewRegistry creates a Registry backed by st.
func NewRegistry(st *store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:  st,
		logger: st.Logger(),
		now:    st.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithComponent("filelock")
	return r
}

// AcquireLock grants a lock on path to agentID until leaseExpireAt and
// returns the new lock id. Expired records on path are purged first.
// Returns ERR_LOCK_CONFLICT with the holder's agent_id, lease_expire_at and
// mode when an active lock is incompatible with mode.
func (r *Registry) AcquireLock(runID, path string, mode store.LockMode, leaseToken, agentID string, leaseExpireAt time.Time) (string, error) {
	if err := r.validateAcquire(path, mode, leaseToken, agentID, leaseExpireAt); err != nil {
		return "", err
	}

	unlock, err := r.store.LockRun(runID, store.ScopeLocks)
	if err != nil {
		return "", err
	}
	lock, purged, err := r.acquireLocked(runID, path, mode, leaseToken, agentID, leaseExpireAt)
	unlock()

	for _, p := range purged {
		r.notifyHandlersUnlocked(Event{Kind: EventPurged, RunID: runID, Lock: *p})
	}
	if err != nil {
		return "", err
	}
	r.notifyHandlersUnlocked(Event{Kind: EventAcquired, RunID: runID, Lock: *lock})
	return lock.LockID, nil
}

// acquireLocked performs the purge, conflict check and write while the run
// lock is held. Purged records are returned even when acquisition fails.
func (r *Registry) acquireLocked(runID, path string, mode store.LockMode, leaseToken, agentID string, leaseExpireAt time.Time) (*Lock, []*Lock, error) {
	locks, err := r.store.ListLocks(runID)
	if err != nil {
		return nil, nil, err
	}

	now := r.now()
	var purged, active []*Lock
	for _, l := range locks {
		if l.Path != path {
			continue
		}
		if l.Expired(now) {
			if err := r.store.DeleteLock(runID, l.LockID); err != nil && !errors.Is(err, errors.ErrLockNotFound) {
				return nil, purged, err
			}
			r.logger.Info("purged expired lock",
				"run_id", runID,
				"lock_id", l.LockID,
				"path", path,
				"agent_id", l.AgentID,
			)
			purged = append(purged, l)
			continue
		}
		active = append(active, l)
	}

	for _, l := range active {
		if mode == store.LockWrite || l.Mode == store.LockWrite {
			return nil, purged, errors.Newf(errors.CodeLockConflict, "%s lock on %q held by %s", l.Mode, path, l.AgentID).
				WithDetail("path", path).
				WithDetail("lock_id", l.LockID).
				WithDetail("agent_id", l.AgentID).
				WithDetail("mode", string(l.Mode)).
				WithDetail("lease_expire_at", l.LeaseExpireAt)
		}
	}

	lock := &Lock{
		LockID:        store.NewRecordID("lock"),
		Path:          path,
		Mode:          mode,
		LeaseToken:    leaseToken,
		AgentID:       agentID,
		LeaseExpireAt: leaseExpireAt.UTC(),
		AcquiredAt:    now.UTC(),
	}
	if err := r.store.WriteLock(runID, lock); err != nil {
		return nil, purged, err
	}
	r.logger.Info("lock acquired",
		"run_id", runID,
		"lock_id", lock.LockID,
		"path", path,
		"mode", string(mode),
		"agent_id", agentID,
	)
	return lock, purged, nil
}

func (r *Registry) validateAcquire(path string, mode store.LockMode, leaseToken, agentID string, leaseExpireAt time.Time) error {
	switch {
	case path == "":
		return errors.InvalidArgument("lock path is required")
	case mode != store.LockRead && mode != store.LockWrite:
		return errors.InvalidArgument("invalid lock mode %q", mode)
	case leaseToken == "":
		return errors.InvalidArgument("lease token is required")
	case agentID == "":
		return errors.InvalidArgument("agent id is required")
	case !leaseExpireAt.After(r.now()):
		return errors.InvalidArgument("lock expiry %s is not in the future", leaseExpireAt.Format(time.RFC3339))
	}
	return nil
}

// ReleaseLock deletes every lock on path held under leaseToken. When no
// record matches, the lock belongs to someone else or is already gone, and
// the call fails with ERR_POLICY_DENIED (LOCK_HELD_BY_OTHER).
func (r *Registry) ReleaseLock(runID, path, leaseToken string) error {
	unlock, err := r.store.LockRun(runID, store.ScopeLocks)
	if err != nil {
		return err
	}
	released, err := r.releaseLocked(runID, path, leaseToken)
	unlock()

	if err != nil {
		return err
	}
	for _, l := range released {
		r.notifyHandlersUnlocked(Event{Kind: EventReleased, RunID: runID, Lock: *l})
	}
	return nil
}

// releaseLocked performs a release while the run lock is held.
func (r *Registry) releaseLocked(runID, path, leaseToken string) ([]*Lock, error) {
	locks, err := r.store.ListLocks(runID)
	if err != nil {
		return nil, err
	}

	var released []*Lock
	for _, l := range locks {
		if l.Path != path || l.LeaseToken != leaseToken {
			continue
		}
		if err := r.store.DeleteLock(runID, l.LockID); err != nil {
			if errors.Is(err, errors.ErrLockNotFound) {
				continue
			}
			return released, err
		}
		released = append(released, l)
	}

	if len(released) == 0 {
		return nil, errors.PolicyDenied(errors.DenyLockHeldByOther, "no lock on %q is held with this token", path).
			WithDetail("path", path)
	}
	r.logger.Info("lock released", "run_id", runID, "path", path, "count", len(released))
	return released, nil
}

// ListLocks returns the lock records of a run whose path matches pattern.
// An empty pattern matches every path; "*" does not cross "/" while "**"
// does. Expired records that have not been purged yet are included.
func (r *Registry) ListLocks(runID, pattern string) ([]*Lock, error) {
	var g glob.Glob
	if pattern != "" {
		var err error
		if g, err = glob.Compile(pattern, '/'); err != nil {
			return nil, errors.InvalidArgument("invalid lock path pattern %q", pattern).WithCause(err)
		}
	}

	locks, err := r.store.ListLocks(runID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return locks, nil
	}

	matched := locks[:0]
	for _, l := range locks {
		if g.Match(l.Path) {
			matched = append(matched, l)
		}
	}
	return matched, nil
}

// PurgeExpired removes every expired lock record of a run and returns how
// many were removed.
func (r *Registry) PurgeExpired(runID string) (int, error) {
	unlock, err := r.store.LockRun(runID, store.ScopeLocks)
	if err != nil {
		return 0, err
	}

	locks, err := r.store.ListLocks(runID)
	if err != nil {
		unlock()
		return 0, err
	}
	now := r.now()
	var purged []*Lock
	for _, l := range locks {
		if !l.Expired(now) {
			continue
		}
		if err := r.store.DeleteLock(runID, l.LockID); err != nil && !errors.Is(err, errors.ErrLockNotFound) {
			unlock()
			return len(purged), err
		}
		purged = append(purged, l)
	}
	unlock()

	for _, l := range purged {
		r.notifyHandlersUnlocked(Event{Kind: EventPurged, RunID: runID, Lock: *l})
	}
	return len(purged), nil
}

// ReleaseAll deletes every file in the run's lock directory regardless of
// holder or expiry, including records that cannot be parsed. Failures are
// logged and skipped; the joined failures are returned with the count of
// files removed.
func (r *Registry) ReleaseAll(runID string) (int, error) {
	unlock, err := r.store.LockRun(runID, store.ScopeLocks)
	if err != nil {
		return 0, err
	}
	defer unlock()

	names, err := r.store.LockFileNames(runID)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, name := range names {
		if err := r.store.RemoveLockFile(runID, name); err != nil {
			r.logger.Warn("failed to remove lock file", "run_id", runID, "file", name, "error", err)
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		r.logger.Info("released all locks", "run_id", runID, "count", removed)
	}
	return removed, errors.Join(errs...)
}

// WatchLocks registers a handler called after locks are acquired, released
// or purged by this registry. Handlers run outside the run lock and may call
// back into the registry.
func (r *Registry) WatchLocks(handler func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers = append(r.handlers, handler)
}

func (r *Registry) notifyHandlersUnlocked(ev Event) {
	r.mu.RLock()
	handlers := make([]func(Event), len(r.handlers))
	copy(handlers, r.handlers)
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
