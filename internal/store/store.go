package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/logging"
)

// Directory and file names inside a run directory.
const (
	RunsDirName      = "runs"
	IndexFileName    = "index.json"
	TasksDirName     = "tasks"
	LocksDirName     = "locks"
	MailboxDirName   = "mailbox"
	ArtifactsDirName = "artifacts"

	recordExt = ".json"
	ackExt    = ".ack.json"

	// DefaultTempGracePeriod is how old a temp file must be before
	// CleanTemp treats its writer as gone.
	DefaultTempGracePeriod = time.Minute
)

// ignorePatterns match directory entries that are never records.
var ignorePatterns = []string{tempPrefix + "*", "*" + ackExt, "*.lock"}

// Store persists runboard records as JSON files under a root directory.
// It is safe for concurrent use.
type Store struct {
	root   string
	fs     afero.Fs
	logger *logging.Logger
	now    func() time.Time
	ignore []glob.Glob

	tempGrace time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithFs sets the filesystem. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock sets the time source shared by every component built on this
// store.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithTempGracePeriod sets the minimum age of temp files removed by
// CleanTemp.
func WithTempGracePeriod(d time.Duration) Option {
	return func(s *Store) {
		s.tempGrace = d
	}
}

// New creates a Store rooted at root.
func New(root string, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, errors.InvalidArgument("store root is required")
	}
	s := &Store{
		root:   filepath.Clean(root),
		fs:     afero.NewOsFs(),
		logger: logging.NopLogger(),
		now:    time.Now,

		tempGrace: DefaultTempGracePeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, p := range ignorePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "compile ignore pattern %q", p)
		}
		s.ignore = append(s.ignore, g)
	}
	if _, err := compileSchemas(); err != nil {
		return nil, errors.Wrap(err, "load record schemas")
	}
	return s, nil
}

// Root returns the store root directory.
func (s *Store) Root() string { return s.root }

// Fs returns the underlying filesystem.
func (s *Store) Fs() afero.Fs { return s.fs }

// Logger returns the store logger.
func (s *Store) Logger() *logging.Logger { return s.logger }

// Now returns the current time in UTC from the store clock.
func (s *Store) Now() time.Time { return s.now().UTC() }

// RunsDir returns the directory holding every run.
func (s *Store) RunsDir() string { return filepath.Join(s.root, RunsDirName) }

// RunDir returns the directory of a run.
func (s *Store) RunDir(runID string) string { return filepath.Join(s.RunsDir(), runID) }

// TasksDir returns the task record directory of a run.
func (s *Store) TasksDir(runID string) string { return filepath.Join(s.RunDir(runID), TasksDirName) }

// LocksDir returns the lock record directory of a run.
func (s *Store) LocksDir(runID string) string { return filepath.Join(s.RunDir(runID), LocksDirName) }

// MailboxDir returns the message directory of a run.
func (s *Store) MailboxDir(runID string) string {
	return filepath.Join(s.RunDir(runID), MailboxDirName)
}

// ArtifactsDir returns the artifact descriptor directory of a run.
func (s *Store) ArtifactsDir(runID string) string {
	return filepath.Join(s.RunDir(runID), ArtifactsDirName)
}

// IndexPath returns the path of a run's session record.
func (s *Store) IndexPath(runID string) string { return filepath.Join(s.RunDir(runID), IndexFileName) }

// Ignored reports whether a directory entry name is a temp remnant or sidecar.
func (s *Store) Ignored(name string) bool {
	for _, g := range s.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// RunExists reports whether a run directory is present.
func (s *Store) RunExists(runID string) (bool, error) {
	ok, err := afero.DirExists(s.fs, s.RunDir(runID))
	if err != nil {
		return false, errors.IOFailure("stat", s.RunDir(runID), err)
	}
	return ok, nil
}

// -----------------------------------------------------------------------------
// Generic record plumbing
// -----------------------------------------------------------------------------

func (s *Store) writeRecord(schema, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.InvalidArgument("encode %s record", schema).WithCause(err)
	}
	if err := validateJSON(schema, data); err != nil {
		return errors.InvalidArgument("%s record failed validation", schema).
			WithCause(err).
			WithDetail("path", path)
	}
	data = append(data, '\n')
	if err := atomicWriteFile(s.fs, path, data, 0o644); err != nil {
		return errors.IOFailure("write", path, err)
	}
	return nil
}

func readRecord[T any](s *Store, schema, path string, notFound *errors.CoordError) (*T, error) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound.WithDetail("path", path)
		}
		return nil, errors.IOFailure("read", path, err)
	}
	return decodeRecord[T](schema, path, data)
}

func decodeRecord[T any](schema, path string, data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, corrupt(path, err)
	}
	if err := validateJSON(schema, data); err != nil {
		return nil, corrupt(path, err)
	}
	return &v, nil
}

func corrupt(path string, cause error) *errors.CoordError {
	return errors.InvalidArgument("corrupt record %s", path).
		WithCause(cause).
		WithDetail("path", path)
}

// listRecords reads every record file in dir in name order. A missing
// directory is an empty listing. Records deleted between the directory read
// and the file read are skipped.
func listRecords[T any](s *Store, schema, dir string) ([]*T, error) {
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IOFailure("list", dir, err)
	}

	var out []*T
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) || s.Ignored(name) {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := afero.ReadFile(s.fs, path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.IOFailure("read", path, err)
		}
		rec, err := decodeRecord[T](schema, path, data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) deleteRecord(path string, notFound *errors.CoordError) error {
	if err := s.fs.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return notFound.WithDetail("path", path)
		}
		return errors.IOFailure("delete", path, err)
	}
	return nil
}

func checkIDs(runID, kind, id string) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	return ValidateID(kind, id)
}

// -----------------------------------------------------------------------------
// Tasks
// -----------------------------------------------------------------------------

// ReadTask loads a task record.
func (s *Store) ReadTask(runID, taskID string) (*Task, error) {
	if err := checkIDs(runID, "task", taskID); err != nil {
		return nil, err
	}
	return readRecord[Task](s, SchemaTask, s.taskPath(runID, taskID),
		errors.NotFound(errors.CodeTaskNotFound, "task", taskID))
}

// WriteTask validates and atomically persists t. UpdatedAt is always set
// to now; CreatedAt is set when zero.
func (s *Store) WriteTask(t *Task) error {
	if err := checkIDs(t.RunID, "task", t.TaskID); err != nil {
		return err
	}
	now := s.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	return s.writeRecord(SchemaTask, s.taskPath(t.RunID, t.TaskID), t)
}

// ListTasks returns every task of a run ordered by task id.
func (s *Store) ListTasks(runID string) ([]*Task, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	return listRecords[Task](s, SchemaTask, s.TasksDir(runID))
}

// DeleteTask removes a task record.
func (s *Store) DeleteTask(runID, taskID string) error {
	if err := checkIDs(runID, "task", taskID); err != nil {
		return err
	}
	return s.deleteRecord(s.taskPath(runID, taskID), errors.NotFound(errors.CodeTaskNotFound, "task", taskID))
}

func (s *Store) taskPath(runID, taskID string) string {
	return filepath.Join(s.TasksDir(runID), taskID+recordExt)
}

// -----------------------------------------------------------------------------
// Locks
// -----------------------------------------------------------------------------

// ReadLock loads a lock record.
func (s *Store) ReadLock(runID, lockID string) (*LockRecord, error) {
	if err := checkIDs(runID, "lock", lockID); err != nil {
		return nil, err
	}
	return readRecord[LockRecord](s, SchemaLock, s.lockPath(runID, lockID),
		errors.NotFound(errors.CodeLockNotFound, "lock", lockID))
}

// WriteLock validates and atomically persists a lock record.
func (s *Store) WriteLock(runID string, l *LockRecord) error {
	if err := checkIDs(runID, "lock", l.LockID); err != nil {
		return err
	}
	if l.AcquiredAt.IsZero() {
		l.AcquiredAt = s.Now()
	}
	return s.writeRecord(SchemaLock, s.lockPath(runID, l.LockID), l)
}

// ListLocks returns every lock record of a run ordered by lock id.
func (s *Store) ListLocks(runID string) ([]*LockRecord, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	return listRecords[LockRecord](s, SchemaLock, s.LocksDir(runID))
}

// DeleteLock removes a lock record.
func (s *Store) DeleteLock(runID, lockID string) error {
	if err := checkIDs(runID, "lock", lockID); err != nil {
		return err
	}
	return s.deleteRecord(s.lockPath(runID, lockID), errors.NotFound(errors.CodeLockNotFound, "lock", lockID))
}

// LockFileNames returns the names of every entry in the lock directory,
// including unreadable ones, so a forced cleanup can remove them all.
func (s *Store) LockFileNames(runID string) ([]string, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	dir := s.LocksDir(runID)
	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IOFailure("list", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// RemoveLockFile deletes a named entry from the lock directory.
func (s *Store) RemoveLockFile(runID, name string) error {
	if err := ValidateRunID(runID); err != nil {
		return err
	}
	if name != filepath.Base(name) {
		return errors.InvalidArgument("invalid lock file name %q", name)
	}
	path := filepath.Join(s.LocksDir(runID), name)
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.IOFailure("delete", path, err)
	}
	return nil
}

func (s *Store) lockPath(runID, lockID string) string {
	return filepath.Join(s.LocksDir(runID), lockID+recordExt)
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

// ReadSession loads a run's session record.
func (s *Store) ReadSession(runID string) (*Session, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	return readRecord[Session](s, SchemaSession, s.IndexPath(runID),
		errors.NotFound(errors.CodeSessionNotFound, "session", runID))
}

// WriteSession validates and atomically persists a session record. Nil
// summaries are written as empty collections.
func (s *Store) WriteSession(sess *Session) error {
	if err := ValidateRunID(sess.RunID); err != nil {
		return err
	}
	if sess.TasksSummary == nil {
		sess.TasksSummary = map[TaskStatus]int{}
	}
	if sess.MessagesSummary == nil {
		sess.MessagesSummary = map[string]int{}
	}
	if sess.ArtifactsSummary == nil {
		sess.ArtifactsSummary = []string{}
	}
	now := s.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	return s.writeRecord(SchemaSession, s.IndexPath(sess.RunID), sess)
}

// ListSessions returns the session of every run under the root, newest run
// first. Run directories without an index are skipped.
func (s *Store) ListSessions() ([]*Session, error) {
	entries, err := afero.ReadDir(s.fs, s.RunsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.IOFailure("list", s.RunsDir(), err)
	}

	var out []*Session
	for _, entry := range entries {
		if !entry.IsDir() || ValidateRunID(entry.Name()) != nil {
			continue
		}
		sess, err := s.ReadSession(entry.Name())
		if err != nil {
			if errors.Is(err, errors.ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID > out[j].RunID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// ReadMessage loads a mailbox message.
func (s *Store) ReadMessage(runID, msgID string) (*Message, error) {
	if err := checkIDs(runID, "message", msgID); err != nil {
		return nil, err
	}
	return readRecord[Message](s, SchemaMessage, s.messagePath(runID, msgID),
		errors.NotFound(errors.CodeMessageNotFound, "message", msgID))
}

// WriteMessage validates and atomically persists a message.
func (s *Store) WriteMessage(m *Message) error {
	if err := checkIDs(m.RunID, "message", m.MsgID); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.Now()
	}
	return s.writeRecord(SchemaMessage, s.messagePath(m.RunID, m.MsgID), m)
}

// ListMessages returns every message of a run ordered by message id.
// Acknowledgement sidecars are not included.
func (s *Store) ListMessages(runID string) ([]*Message, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	return listRecords[Message](s, SchemaMessage, s.MailboxDir(runID))
}

// ReadAck loads the acknowledgement sidecar of a message. It returns nil
// without error when the message has not been acknowledged.
func (s *Store) ReadAck(runID, msgID string) (*Ack, error) {
	if err := checkIDs(runID, "message", msgID); err != nil {
		return nil, err
	}
	ack, err := readRecord[Ack](s, SchemaAck, s.ackPath(runID, msgID),
		errors.NotFound(errors.CodeMessageNotFound, "ack", msgID))
	if errors.Is(err, errors.ErrMessageNotFound) {
		return nil, nil
	}
	return ack, err
}

// WriteAck persists the acknowledgement sidecar of a message.
func (s *Store) WriteAck(runID string, a *Ack) error {
	if err := checkIDs(runID, "message", a.MsgID); err != nil {
		return err
	}
	if a.AckedAt.IsZero() {
		a.AckedAt = s.Now()
	}
	return s.writeRecord(SchemaAck, s.ackPath(runID, a.MsgID), a)
}

func (s *Store) messagePath(runID, msgID string) string {
	return filepath.Join(s.MailboxDir(runID), msgID+recordExt)
}

func (s *Store) ackPath(runID, msgID string) string {
	return filepath.Join(s.MailboxDir(runID), msgID+ackExt)
}

// -----------------------------------------------------------------------------
// Artifacts
// -----------------------------------------------------------------------------

// WriteArtifact validates and atomically persists an artifact descriptor.
func (s *Store) WriteArtifact(a *Artifact) error {
	if err := checkIDs(a.RunID, "artifact", a.ArtifactID); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.Now()
	}
	return s.writeRecord(SchemaArtifact, filepath.Join(s.ArtifactsDir(a.RunID), a.ArtifactID+recordExt), a)
}

// ListArtifacts returns every artifact descriptor of a run ordered by id.
func (s *Store) ListArtifacts(runID string) ([]*Artifact, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	return listRecords[Artifact](s, SchemaArtifact, s.ArtifactsDir(runID))
}

// -----------------------------------------------------------------------------
// Maintenance
// -----------------------------------------------------------------------------

// CleanTemp removes temp files left in a run directory by writers that
// crashed between creating and renaming them. It returns the number of
// files removed. Files younger than the grace period may belong to a live
// writer in another process and are kept.
func (s *Store) CleanTemp(runID string) (int, error) {
	if err := ValidateRunID(runID); err != nil {
		return 0, err
	}
	dir := s.RunDir(runID)
	if ok, err := s.RunExists(runID); err != nil || !ok {
		return 0, err
	}

	cutoff := s.Now().Add(-s.tempGrace)
	removed := 0
	err := afero.Walk(s.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove temp file", "path", path, "error", err)
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, errors.IOFailure("walk", dir, err)
	}
	return removed, nil
}
