// Package session drives the lifecycle of a run.
//
// A run session is the index record at runs/<run_id>/index.json. It moves
// through a fixed state machine:
//
//	created → planned → running → finalizing → completed
//	                       │           │
//	                       └──→ failed ←┘
//
// and any non-terminal state may be aborted. Completed, failed and aborted
// are terminal. Transitions outside the table fail with
// ERR_SESSION_INVALID_STATE and write nothing.
//
// The session keeps snapshot summaries of the run's tasks, mailbox and
// artifacts. They are recomputed by [Manager.PlanSession] and
// [Manager.RefreshIndex]; nothing else keeps them current.
//
// # Aborting
//
// [Manager.AbortSession] is a stop-the-world action: it deletes every path
// lock, returns every claimed or running task to pending without a lease,
// and marks the session aborted. Only one controller should drive a run;
// [Manager.AcquireController] records that controller in
// runs/<run_id>/controller.lock and abort refuses to run while another live
// process holds it.
//
// # Lock Order
//
// Session writes hold the run's index lock. Operations that also touch
// tasks or path locks take those scopes while the index lock is held, never
// the other way round.
package session
