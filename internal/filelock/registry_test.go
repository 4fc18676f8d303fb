package filelock

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/store"
)

const testRun = "20250101_120000"

// testClock is a settable clock shared by the store and registry.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(t *testing.T) (*Registry, *store.Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	st, err := store.New("/data", store.WithFs(afero.NewMemMapFs()), store.WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(st), st, clock
}

func TestAcquireLock_ModeCompatibility(t *testing.T) {
	tests := []struct {
		name      string
		held      store.LockMode
		requested store.LockMode
		wantErr   bool
	}{
		{"read then read", store.LockRead, store.LockRead, false},
		{"read then write", store.LockRead, store.LockWrite, true},
		{"write then read", store.LockWrite, store.LockRead, true},
		{"write then write", store.LockWrite, store.LockWrite, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, clock := newTestRegistry(t)
			expire := clock.Now().Add(time.Minute)

			if _, err := reg.AcquireLock(testRun, "ws/a.md", tt.held, "tok-1", "agent-1", expire); err != nil {
				t.Fatalf("first AcquireLock() error = %v", err)
			}
			_, err := reg.AcquireLock(testRun, "ws/a.md", tt.requested, "tok-2", "agent-2", expire)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("second AcquireLock() error = %v", err)
				}
				return
			}
			if errors.CodeOf(err) != errors.CodeLockConflict {
				t.Fatalf("second AcquireLock() error = %v, want ERR_LOCK_CONFLICT", err)
			}
			details := errors.DetailsOf(err)
			if details["agent_id"] != "agent-1" {
				t.Errorf("agent_id detail = %v, want agent-1", details["agent_id"])
			}
			if got, ok := details["lease_expire_at"].(time.Time); !ok || !got.Equal(expire) {
				t.Errorf("lease_expire_at detail = %v, want %v", details["lease_expire_at"], expire)
			}
		})
	}
}

func TestAcquireLock_DifferentPathsIndependent(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	expire := clock.Now().Add(time.Minute)

	if _, err := reg.AcquireLock(testRun, "a", store.LockWrite, "tok-1", "agent-1", expire); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.AcquireLock(testRun, "b", store.LockWrite, "tok-2", "agent-2", expire); err != nil {
		t.Errorf("AcquireLock() on other path error = %v", err)
	}
}

func TestAcquireLock_PurgesExpired(t *testing.T) {
	reg, st, clock := newTestRegistry(t)

	var events []Event
	reg.WatchLocks(func(ev Event) { events = append(events, ev) })

	oldID, err := reg.AcquireLock(testRun, "ws", store.LockWrite, "tok-1", "agent-1", clock.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute) // expiry instant counts as expired
	newID, err := reg.AcquireLock(testRun, "ws", store.LockWrite, "tok-2", "agent-2", clock.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("AcquireLock() after expiry error = %v", err)
	}

	if _, err := st.ReadLock(testRun, oldID); !errors.Is(err, errors.ErrLockNotFound) {
		t.Errorf("expired lock still present: %v", err)
	}
	if _, err := st.ReadLock(testRun, newID); err != nil {
		t.Errorf("new lock missing: %v", err)
	}

	kinds := make([]EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventAcquired, EventPurged, EventAcquired}
	if len(kinds) != len(want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("events = %v, want %v", kinds, want)
			break
		}
	}
}

func TestAcquireLock_InvalidArguments(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	future := clock.Now().Add(time.Minute)

	tests := []struct {
		name   string
		path   string
		mode   store.LockMode
		token  string
		agent  string
		expire time.Time
	}{
		{"empty path", "", store.LockRead, "tok", "a", future},
		{"bad mode", "p", "exclusive", "tok", "a", future},
		{"empty token", "p", store.LockRead, "", "a", future},
		{"empty agent", "p", store.LockRead, "tok", "", future},
		{"past expiry", "p", store.LockRead, "tok", "a", clock.Now()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.AcquireLock(testRun, tt.path, tt.mode, tt.token, tt.agent, tt.expire)
			if !errors.Is(err, errors.ErrInvalidArgument) {
				t.Errorf("AcquireLock() error = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestReleaseLock(t *testing.T) {
	reg, st, clock := newTestRegistry(t)
	expire := clock.Now().Add(time.Minute)

	for _, tok := range []string{"tok-1", "tok-1", "tok-2"} {
		if _, err := reg.AcquireLock(testRun, "shared", store.LockRead, tok, "agent", expire); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("wrong token is denied", func(t *testing.T) {
		err := reg.ReleaseLock(testRun, "shared", "tok-3")
		if errors.CodeOf(err) != errors.CodePolicyDenied {
			t.Fatalf("ReleaseLock() error = %v, want ERR_POLICY_DENIED", err)
		}
		if errors.DenyReasonOf(err) != errors.DenyLockHeldByOther {
			t.Errorf("deny reason = %q, want %q", errors.DenyReasonOf(err), errors.DenyLockHeldByOther)
		}
	})

	t.Run("releases every record with the token", func(t *testing.T) {
		if err := reg.ReleaseLock(testRun, "shared", "tok-1"); err != nil {
			t.Fatalf("ReleaseLock() error = %v", err)
		}
		locks, err := st.ListLocks(testRun)
		if err != nil {
			t.Fatal(err)
		}
		if len(locks) != 1 || locks[0].LeaseToken != "tok-2" {
			t.Errorf("remaining locks = %v, want only tok-2", locks)
		}
	})

	t.Run("second release with same token is denied", func(t *testing.T) {
		err := reg.ReleaseLock(testRun, "shared", "tok-1")
		if errors.DenyReasonOf(err) != errors.DenyLockHeldByOther {
			t.Errorf("ReleaseLock() error = %v, want LOCK_HELD_BY_OTHER", err)
		}
	})
}

func TestListLocks_Pattern(t *testing.T) {
	reg, _, clock := newTestRegistry(t)
	expire := clock.Now().Add(time.Minute)
	for _, p := range []string{"src/a.go", "src/pkg/b.go", "docs/readme.md"} {
		if _, err := reg.AcquireLock(testRun, p, store.LockWrite, "tok", "agent", expire); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		pattern string
		want    int
	}{
		{"", 3},
		{"src/*", 1},
		{"src/**", 2},
		{"*.md", 0},
		{"**.md", 1},
	}
	for _, tt := range tests {
		locks, err := reg.ListLocks(testRun, tt.pattern)
		if err != nil {
			t.Fatalf("ListLocks(%q) error = %v", tt.pattern, err)
		}
		if len(locks) != tt.want {
			t.Errorf("ListLocks(%q) returned %d, want %d", tt.pattern, len(locks), tt.want)
		}
	}
}

func TestPurgeExpired(t *testing.T) {
	reg, st, clock := newTestRegistry(t)
	if _, err := reg.AcquireLock(testRun, "a", store.LockWrite, "tok", "agent", clock.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.AcquireLock(testRun, "b", store.LockWrite, "tok", "agent", clock.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	clock.Advance(time.Minute)

	n, err := reg.PurgeExpired(testRun)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired() = %d, %v; want 1", n, err)
	}
	locks, _ := st.ListLocks(testRun)
	if len(locks) != 1 || locks[0].Path != "b" {
		t.Errorf("remaining locks = %v", locks)
	}
}

func TestReleaseAll_IncludesCorruptFiles(t *testing.T) {
	reg, st, clock := newTestRegistry(t)
	if _, err := reg.AcquireLock(testRun, "a", store.LockWrite, "tok", "agent", clock.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(st.Fs(), filepath.Join(st.LocksDir(testRun), "junk.json"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := reg.ReleaseAll(testRun)
	if err != nil {
		t.Fatalf("ReleaseAll() error = %v", err)
	}
	if n != 2 {
		t.Errorf("ReleaseAll() removed %d, want 2", n)
	}
	names, _ := st.LockFileNames(testRun)
	if len(names) != 0 {
		t.Errorf("lock directory not empty: %v", names)
	}
}

func TestAcquireLock_ConcurrentWritersOnDisk(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(st)
	expire := time.Now().Add(time.Minute)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.AcquireLock(testRun, "ws", store.LockWrite, store.NewLeaseToken(), "agent", expire)
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
				return
			}
			if errors.CodeOf(err) != errors.CodeLockConflict {
				t.Errorf("worker %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("granted %d write locks, want exactly 1", granted)
	}
}
