// Package coordination provides a Context that wires every runboard
// component together over one store root.
//
// The Context creates and owns:
//
//	Store → Lease Manager → Task Board
//	      → File Lock Registry
//	      → Mailbox
//	      → Session Manager (board + registry + mailbox)
//
// plus the logger they share. Components are built from a loaded
// [config.Config]; nothing is global, so tests build as many isolated
// contexts as they need.
//
// Usage:
//
//	cc, err := coordination.New(coordination.Config{
//	    Settings: cfg,
//	    BaseDir:  cwd,
//	    RunID:    runID, // optional: log to runs/<run_id>/debug.log
//	})
//	if err != nil {
//	    return err
//	}
//	defer cc.Close()
//
//	claim, err := cc.Board().ClaimTask(runID, "t1", "agent-1", 0)
package coordination
