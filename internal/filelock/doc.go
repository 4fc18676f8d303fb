// Package filelock provides path-scoped read/write locks shared by every
// agent process working on a run.
//
// A lock is a record under runs/<run_id>/locks/ naming a logical resource
// path (not necessarily a real file), a mode, the holder's lease token and
// agent id, and an expiry. Locks are self-healing: there is no background
// sweeper, and every acquire on a path first purges records on that path
// whose expiry has passed.
//
// # Modes
//
// A write lock conflicts with any active lock on the same path. A read lock
// conflicts only with an active write lock, so any number of readers may
// hold a path at once.
//
// # Basic Usage
//
//	reg := filelock.NewRegistry(st)
//
//	lockID, err := reg.AcquireLock(runID, "workspace/report.md", store.LockWrite,
//		leaseToken, "agent-1", time.Now().Add(2*time.Minute))
//
//	// Release with the same token
//	err = reg.ReleaseLock(runID, "workspace/report.md", leaseToken)
//
// # Thread Safety
//
// All [Registry] methods are safe for concurrent use. Read-check-write
// sequences run inside the store's run lock for the "locks" scope, which
// also excludes other processes sharing the directory.
package filelock
