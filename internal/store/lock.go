package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/runboard/internal/errors"
)

// Run lock scopes. Only the index scope is ever held while taking another,
// so the order is index before tasks or locks.
const (
	ScopeTasks = "tasks"
	ScopeLocks = "locks"
	ScopeIndex = "index"

	ScopeMailbox = "mailbox"
)

// runMutexes serialises goroutines per lock file. flock(2) alone would not,
// because a process may hold several descriptors for the same file.
var runMutexes sync.Map // map[string]*sync.Mutex

func mutexFor(key string) *sync.Mutex {
	m, _ := runMutexes.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// LockRun enters the critical section for scope within a run and returns
// the function that leaves it. On an OS filesystem the section also holds an
// exclusive advisory lock on runs/<run_id>/<scope>.lock so other processes
// sharing the directory are excluded too.
func (s *Store) LockRun(runID, scope string) (func(), error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	path := filepath.Join(s.RunDir(runID), scope+".lock")

	mu := mutexFor(path)
	mu.Lock()

	if _, onDisk := s.fs.(*afero.OsFs); !onDisk {
		return mu.Unlock, nil
	}

	fl, err := lockFile(path)
	if err != nil {
		mu.Unlock()
		return nil, errors.IOFailure("lock", path, err)
	}
	return func() {
		if err := fl.unlock(); err != nil {
			s.logger.Warn("failed to release run lock", "path", path, "error", err)
		}
		mu.Unlock()
	}, nil
}

// fileLock is an exclusive advisory lock held on an open file.
type fileLock struct {
	file *os.File
}

func lockFile(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flock(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock: %w", err)
	}
	return &fileLock{file: f}, nil
}

func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	if err := funlock(fl.file); err != nil {
		_ = fl.file.Close()
		fl.file = nil
		return fmt.Errorf("funlock: %w", err)
	}
	err := fl.file.Close()
	fl.file = nil
	return err
}
