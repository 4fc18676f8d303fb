package coordination

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/runboard/internal/config"
	"github.com/Iron-Ham/runboard/internal/filelock"
	"github.com/Iron-Ham/runboard/internal/lease"
	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/mailbox"
	"github.com/Iron-Ham/runboard/internal/session"
	"github.com/Iron-Ham/runboard/internal/store"
	"github.com/Iron-Ham/runboard/internal/taskboard"
)

// Config holds required dependencies for creating a Context.
type Config struct {
	// Settings is the loaded configuration.
	Settings *config.Config
	// BaseDir resolves a relative store root.
	BaseDir string
	// RunID, when it names an existing run, sends logs to that run's
	// debug.log. Otherwise warnings and errors go to stderr.
	RunID string
}

// Context wires every component over one store root. It is safe for
// concurrent use; Close releases what it owns.
type Context struct {
	mu     sync.Mutex
	closed bool

	settings    *config.Config
	logger      *logging.Logger
	ownsLogger  bool
	controllers []*session.Controller

	// Components
	store    *store.Store
	leases   *lease.Manager
	board    *taskboard.Board
	locks    *filelock.Registry
	mailbox  *mailbox.Mailbox
	sessions *session.Manager
}

// New creates a Context from cfg.
func New(cfg Config, opts ...Option) (*Context, error) {
	if cfg.Settings == nil {
		return nil, errors.New("coordination: Settings is required")
	}
	if errs := cfg.Settings.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	if cfg.BaseDir == "" {
		return nil, errors.New("coordination: BaseDir is required")
	}

	cc := &contextConfig{fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(cc)
	}

	root := cfg.Settings.Store.ResolveRoot(cfg.BaseDir)
	storeOpts := []store.Option{store.WithFs(cc.fs)}
	if cc.now != nil {
		storeOpts = append(storeOpts, store.WithClock(cc.now))
	}

	logger, owns := cc.logger, false
	if logger == nil {
		var err error
		logger, err = openLogger(cc.fs, root, cfg)
		if err != nil {
			return nil, err
		}
		owns = true
	}
	st, err := store.New(root, append(storeOpts, store.WithLogger(logger))...)
	if err != nil {
		if owns {
			_ = logger.Close()
		}
		return nil, err
	}

	s := cfg.Settings
	leases := lease.NewManager(st, lease.WithMaxRetries(s.Lease.MaxRetries))
	board := taskboard.NewBoard(st, leases, taskboard.WithDefaultLeaseDuration(s.Lease.DefaultDuration()))
	locks := filelock.NewRegistry(st)
	mb := mailbox.NewMailbox(st)

	return &Context{
		settings:   s,
		logger:     logger,
		ownsLogger: owns,
		store:      st,
		leases:     leases,
		board:      board,
		locks:      locks,
		mailbox:    mb,
		sessions:   session.NewManager(st, board, locks, mb),
	}, nil
}

// openLogger builds the logger described by the logging settings. A run's
// debug.log is only written on the OS filesystem.
func openLogger(fs afero.Fs, root string, cfg Config) (*logging.Logger, error) {
	if !cfg.Settings.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	level := logging.ParseLevel(cfg.Settings.Logging.Level)
	if _, onDisk := fs.(*afero.OsFs); onDisk && cfg.RunID != "" && store.ValidateRunID(cfg.RunID) == nil {
		runDir := filepath.Join(root, store.RunsDirName, cfg.RunID)
		if ok, err := afero.DirExists(fs, runDir); err == nil && ok {
			return logging.NewLoggerWithRotation(runDir, level, cfg.Settings.Logging.Rotation())
		}
	}
	// Without a run there is no debug.log to write; keep the terminal quiet.
	if level == logging.LevelDebug || level == logging.LevelInfo {
		level = logging.LevelWarn
	}
	return logging.NewLogger("", level)
}

// Settings returns the configuration the Context was built from.
func (c *Context) Settings() *config.Config { return c.settings }

// Logger returns the shared logger.
func (c *Context) Logger() *logging.Logger { return c.logger }

// Store returns the durable store.
func (c *Context) Store() *store.Store { return c.store }

// Leases returns the lease manager.
func (c *Context) Leases() *lease.Manager { return c.leases }

// Board returns the task board.
func (c *Context) Board() *taskboard.Board { return c.board }

// Locks returns the file lock registry.
func (c *Context) Locks() *filelock.Registry { return c.locks }

// Mailbox returns the mailbox.
func (c *Context) Mailbox() *mailbox.Mailbox { return c.mailbox }

// Sessions returns the session manager.
func (c *Context) Sessions() *session.Manager { return c.sessions }

// Control makes this process the controller of a run until Close.
func (c *Context) Control(runID string) (*session.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("coordination: context is closed")
	}
	ctrl, err := c.sessions.AcquireController(runID)
	if err != nil {
		return nil, err
	}
	c.controllers = append(c.controllers, ctrl)
	return ctrl, nil
}

// MaintenanceReport summarises one Maintain pass.
type MaintenanceReport struct {
	Leases      *lease.SweepResult `json:"leases"`
	LocksPurged int                `json:"locks_purged"`
	TempRemoved int                `json:"temp_removed"`
}

// Maintain runs the lazy recovery steps of a run eagerly: expired leases
// are swept, expired path locks purged and temp remnants removed.
func (c *Context) Maintain(runID string) (*MaintenanceReport, error) {
	if _, err := c.sessions.GetSession(runID); err != nil {
		return nil, err
	}
	swept, err := c.leases.SweepExpiredLeases(runID)
	if err != nil {
		return nil, err
	}
	purged, err := c.locks.PurgeExpired(runID)
	if err != nil {
		return nil, err
	}
	removed, err := c.store.CleanTemp(runID)
	if err != nil {
		return nil, err
	}
	return &MaintenanceReport{Leases: swept, LocksPurged: purged, TempRemoved: removed}, nil
}

// Watch streams record changes of a run to handler until ctx is done.
// It only works on the OS filesystem.
func (c *Context) Watch(ctx context.Context, runID string, handler func(store.ChangeEvent)) error {
	w, err := c.store.NewWatcher(runID)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	for ev := range w.Events() {
		handler(ev)
	}
	return ctx.Err()
}

// Close releases held controllers and closes the logger if the Context
// opened it. It is idempotent.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for _, ctrl := range c.controllers {
		if err := ctrl.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	c.controllers = nil
	if c.ownsLogger {
		if err := c.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
