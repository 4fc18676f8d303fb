package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/runboard/internal/errors"
)

// Record kinds reported by the watcher.
const (
	KindTask    = "task"
	KindLock    = "lock"
	KindSession = "session"
	KindMessage = "message"
)

// ChangeEvent reports that a record in a run changed on disk.
type ChangeEvent struct {
	Kind string
	ID   string
	Path string
	Op   fsnotify.Op
}

// Watcher streams record changes of one run. It only works on the OS
// filesystem.
type Watcher struct {
	store  *Store
	runID  string
	events chan ChangeEvent
}

// NewWatcher creates a watcher for runID. Call Start to begin watching.
func (s *Store) NewWatcher(runID string) (*Watcher, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	return &Watcher{
		store:  s,
		runID:  runID,
		events: make(chan ChangeEvent, 64),
	}, nil
}

// Events returns the change channel. It is closed when the context passed
// to Start is done.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.events
}

// Start begins watching in a background goroutine. Events are dropped when
// the consumer falls behind.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.IOFailure("watch", w.store.RunDir(w.runID), err)
	}

	dirs := []string{
		w.store.RunDir(w.runID),
		w.store.TasksDir(w.runID),
		w.store.LocksDir(w.runID),
		w.store.MailboxDir(w.runID),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = fsw.Close()
			return errors.IOFailure("create", dir, err)
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return errors.IOFailure("watch", dir, err)
		}
	}

	logger := w.store.logger.WithRun(w.runID).WithComponent("watcher")
	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				change, ok := w.classify(ev)
				if !ok {
					continue
				}
				select {
				case w.events <- change:
				default:
					logger.Debug("dropped change event", "path", ev.Name)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) classify(ev fsnotify.Event) (ChangeEvent, bool) {
	name := filepath.Base(ev.Name)
	if w.store.Ignored(name) || !strings.HasSuffix(name, recordExt) {
		return ChangeEvent{}, false
	}
	id := strings.TrimSuffix(name, recordExt)

	var kind string
	switch filepath.Dir(ev.Name) {
	case w.store.RunDir(w.runID):
		if name != IndexFileName {
			return ChangeEvent{}, false
		}
		kind, id = KindSession, w.runID
	case w.store.TasksDir(w.runID):
		kind = KindTask
	case w.store.LocksDir(w.runID):
		kind = KindLock
	case w.store.MailboxDir(w.runID):
		kind = KindMessage
	default:
		return ChangeEvent{}, false
	}
	return ChangeEvent{Kind: kind, ID: id, Path: ev.Name, Op: ev.Op}, true
}
