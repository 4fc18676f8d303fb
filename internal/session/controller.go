package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/logging"
)

// ControllerFileName is the name of the controller lock within a run directory.
const ControllerFileName = "controller.lock"

// Controller records the process that drives a run.
type Controller struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	// Internal fields (not serialized)
	path   string
	fs     afero.Fs
	logger *logging.Logger
}

// AcquireController makes this process the controller of a run. A lock
// left by a process that is no longer running on this host is removed
// first. Returns ERR_LOCK_CONFLICT when another live process holds it.
func (m *Manager) AcquireController(runID string) (*Controller, error) {
	if err := m.requireRun(runID); err != nil {
		return nil, err
	}
	fs := m.store.Fs()
	path := m.controllerPath(runID)
	log := m.logger.WithRun(runID)

	if existing, err := readController(fs, path); err == nil {
		if existing.alive() {
			log.Error("failed to acquire controller", "pid", existing.PID, "hostname", existing.Hostname)
			return nil, controllerConflict(runID, existing)
		}
		if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.IOFailure("remove", path, err)
		}
		log.Warn("stale controller lock cleaned", "old_pid", existing.PID)
	}

	c := &Controller{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname(),
		StartedAt: m.now().UTC(),
		path:      path,
		fs:        fs,
		logger:    log,
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal controller: %w", err)
	}

	// O_EXCL fails if another process created the file since we looked
	f, err := fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := readController(fs, path); readErr == nil {
				return nil, controllerConflict(runID, existing)
			}
			return nil, errors.Newf(errors.CodeLockConflict, "run %s already has a controller", runID).
				WithDetail("run_id", runID)
		}
		return nil, errors.IOFailure("create", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = fs.Remove(path)
		return nil, errors.IOFailure("write", path, err)
	}

	log.Info("controller acquired", "pid", c.PID)
	return c, nil
}

// Controller returns the recorded controller of a run, or nil when the run
// has none.
func (m *Manager) Controller(runID string) (*Controller, error) {
	if err := m.requireRun(runID); err != nil {
		return nil, err
	}
	path := m.controllerPath(runID)
	c, err := readController(m.store.Fs(), path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.InvalidArgument("unreadable controller lock %s", path).WithCause(err).WithDetail("path", path)
	}
	return c, nil
}

// checkController fails when a live process other than this one controls
// the run.
func (m *Manager) checkController(runID string) error {
	c, err := m.Controller(runID)
	if err != nil {
		return err
	}
	if c == nil || c.ownedBySelf() || !c.alive() {
		return nil
	}
	return controllerConflict(runID, c)
}

func (m *Manager) controllerPath(runID string) string {
	return filepath.Join(m.store.RunDir(runID), ControllerFileName)
}

// Release removes the controller lock if this process still owns it.
// Safe to call multiple times.
func (c *Controller) Release() error {
	if c == nil || c.path == "" {
		return nil
	}

	existing, err := readController(c.fs, c.path)
	if err != nil {
		// Lock file doesn't exist or can't be read - nothing to do
		return nil
	}
	if existing.PID != c.PID || existing.Hostname != c.Hostname {
		return nil
	}

	if err := c.fs.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.IOFailure("remove", c.path, err)
	}
	c.logger.Info("controller released")
	return nil
}

// alive reports whether the controlling process may still be running.
// Processes on other hosts cannot be probed and are assumed alive.
func (c *Controller) alive() bool {
	if c.Hostname != hostname() {
		return true
	}
	return isProcessAlive(c.PID)
}

func (c *Controller) ownedBySelf() bool {
	return c.PID == os.Getpid() && c.Hostname == hostname()
}

func readController(fs afero.Fs, path string) (*Controller, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	var c Controller
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse controller lock: %w", err)
	}
	c.path = path
	c.fs = fs
	return &c, nil
}

func controllerConflict(runID string, c *Controller) *errors.CoordError {
	return errors.Newf(errors.CodeLockConflict, "run %s is controlled by PID %d on %s", runID, c.PID, c.Hostname).
		WithDetail("run_id", runID).
		WithDetail("pid", c.PID).
		WithDetail("hostname", c.Hostname).
		WithDetail("started_at", c.StartedAt)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On Unix, sending signal 0 checks if process exists without affecting it
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
