// Package logging provides structured logging for runboard runs.
//
// Loggers wrap log/slog and write one JSON object per line. Child loggers
// carry run_id, task_id, agent_id and component attributes:
//
//	logger, err := logging.NewLoggerWithRotation(runDir, "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithRun(runID).WithTask("t1").Info("task claimed", "attempt", 1)
//
// Every process working on a run appends to the same runs/<run_id>/debug.log.
// Lines are written with O_APPEND, so entries from different processes
// interleave but do not tear. The file is rotated to debug.log.1,
// debug.log.2 and so on when a logger opens it past the configured size.
//
// [AggregateLogs] reads a run's log and its backups back, and [FilterLogs]
// and [WriteLogEntries] select and render entries for the logs command.
//
// A nil *Logger discards everything, and [NopLogger] returns a non-nil
// logger that does the same.
package logging
