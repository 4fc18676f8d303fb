// Package taskboard manages the tasks of a run and their dependency graph.
//
// Tasks live as individual records in the store and move through a small
// state machine:
//
//	pending --block--> blocked --unblock--> pending
//	pending --claim--> claimed --start--> running --complete--> completed
//	                                      running --fail-----> failed
//
// Lease expiry sends claimed and running tasks back to pending, or to
// failed once the attempt limit is reached (see package lease). Completed
// and failed are terminal.
//
// # Claiming
//
// [Board.ClaimTask] first sweeps expired leases, then checks the task's
// dependencies. A pending task with unfinished dependencies is moved to
// blocked and the claim fails with ERR_TASK_DEPENDENCY_NOT_MET; a blocked
// task whose dependencies have since completed is unblocked and claimed in
// the same call. A successful claim mints a fresh lease token and bumps the
// attempt counter carried over from any previous lease.
//
// # Unblocking
//
// After a completion is durable the board scans for blocked dependents and
// unblocks those whose dependencies are now all completed. Failures in that
// scan are logged and otherwise ignored because the claim-time check
// reaches the same result.
//
// # Thread Safety
//
// Every mutation runs inside the store's run lock for the "tasks" scope, so
// boards in different goroutines or processes sharing a directory observe
// each other's writes in order.
package taskboard
