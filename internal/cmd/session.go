package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/runboard/internal/session"
	"github.com/Iron-Ham/runboard/internal/store"
	"github.com/Iron-Ham/runboard/internal/taskboard"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions", "run"},
		Short:   "Manage run sessions",
		Long: `Commands for driving a run through its lifecycle:

  created → planned → running → finalizing → completed

A running or finalizing run may fail, and any unfinished run may be aborted.`,
	}

	sessionCmd.AddCommand(
		newSessionCreateCmd(),
		newSessionPlanCmd(),
		newSessionTransitionCmd("start", "Move a planned run to running", (*session.Manager).StartSession),
		newSessionTransitionCmd("finalize", "Move a running run to finalizing", (*session.Manager).FinalizeSession),
		newSessionCompleteCmd(),
		newSessionFailCmd(),
		newSessionAbortCmd(),
		newSessionRefreshCmd(),
		newSessionListCmd(),
		newSessionShowCmd(),
	)
	return sessionCmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		maxTurns int
		timeout  time.Duration
		budget   int64
	)
	cmd := &cobra.Command{
		Use:   "create <goal>",
		Short: "Create a new run",
		Long: `Create a new run with the given goal. The run id is the current UTC
time as YYYYMMDD_HHMMSS. Max turns and timeout default to the session
settings in the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "", func(a *app) error {
				cfg := store.SessionConfig{
					MaxTurns:  a.settings().Session.DefaultMaxTurns,
					TimeoutMs: a.settings().Session.DefaultTimeoutMs,
				}
				if cmd.Flags().Changed("max-turns") {
					cfg.MaxTurns = maxTurns
				}
				if cmd.Flags().Changed("timeout") {
					cfg.TimeoutMs = timeout.Milliseconds()
				}
				if cmd.Flags().Changed("budget-tokens") {
					cfg.BudgetTokens = &budget
				}

				sess, err := a.cc.Sessions().CreateSession(args[0], cfg)
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					fmt.Fprintf(w, "Created run %s\n", sess.RunID)
				})
			})
		},
	}
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "maximum dialogue turns")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "run timeout (e.g. 30m)")
	cmd.Flags().Int64Var(&budget, "budget-tokens", 0, "token budget")
	return cmd
}

// planFile is the on-disk shape of a plan. A bare list of tasks is also
// accepted. JSON plans parse as YAML.
type planFile struct {
	Tasks []taskboard.TaskSpec `yaml:"tasks"`
}

func loadPlan(path string) ([]taskboard.TaskSpec, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-') {
		var tasks []taskboard.TaskSpec
		if err := yaml.Unmarshal(data, &tasks); err != nil {
			return nil, fmt.Errorf("failed to parse plan: %w", err)
		}
		return tasks, nil
	}
	var plan planFile
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	return plan.Tasks, nil
}

func newSessionPlanCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "plan <run-id>",
		Short: "Create a run's tasks from a plan file",
		Long: `Create every task in a YAML or JSON plan file and move the run to planned.

The plan is either a list of tasks or a document with a "tasks" key:

  tasks:
    - task_id: research
      title: Survey the codebase
      type: research
    - task_id: implement
      title: Implement the change
      type: execute
      depends_on: [research]
      input: {files: ["internal/store"]}

The whole plan is rejected, and nothing is written, if any task is invalid,
duplicates an id or closes a dependency cycle.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := loadPlan(file)
			if err != nil {
				return err
			}
			return withApp(cmd, args[0], func(a *app) error {
				sess, err := a.cc.Sessions().PlanSession(args[0], plan)
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					fmt.Fprintf(w, "Planned run %s with %d task(s)\n", sess.RunID, len(plan))
				})
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "plan file (YAML or JSON, - for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newSessionTransitionCmd(use, short string, op func(*session.Manager, string) (*store.Session, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				sess, err := op(a.cc.Sessions(), args[0])
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					fmt.Fprintf(w, "Run %s is %s\n", sess.RunID, a.styles.badge(string(sess.Status)))
				})
			})
		},
	}
}

func newSessionCompleteCmd() *cobra.Command {
	var artifact, direction string
	cmd := &cobra.Command{
		Use:   "complete <run-id>",
		Short: "Record the decision of a finalizing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				sess, err := a.cc.Sessions().CompleteSession(args[0], artifact, direction)
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					fmt.Fprintf(w, "Run %s completed: %s\n", sess.RunID, direction)
				})
			})
		},
	}
	cmd.Flags().StringVar(&artifact, "artifact", "", "artifact id backing the decision")
	cmd.Flags().StringVar(&direction, "direction", "", "decided direction")
	_ = cmd.MarkFlagRequired("artifact")
	return cmd
}

func newSessionFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail <run-id>",
		Short: "Mark a running or finalizing run as failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				sess, err := a.cc.Sessions().FailSession(args[0], reason)
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					fmt.Fprintf(w, "Run %s failed: %s\n", sess.RunID, reason)
				})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "failure reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newSessionAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <run-id>",
		Short: "Stop a run and recover its work",
		Long: `Abort a run. Every path lock is deleted, every claimed or running task
returns to pending without a lease, and the run is marked aborted.

Abort refuses to run while another live process controls the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				result, err := a.cc.Sessions().AbortSession(args[0])
				if err != nil {
					return err
				}
				return a.emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "Run %s aborted\n", result.Session.RunID)
					a.styles.field(w, "Locks released", result.LocksReleased)
					a.styles.field(w, "Tasks recovered", len(result.Recovered))
				})
			})
		},
	}
}

func newSessionRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <run-id>",
		Short: "Recompute a run's task, message and artifact summaries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				sess, err := a.cc.Sessions().RefreshIndex(args[0])
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					a.styles.renderSession(w, sess)
				})
			})
		},
	}
}

func newSessionListCmd() *cobra.Command {
	var statuses []string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, "", func(a *app) error {
				filter := make([]store.SessionStatus, len(statuses))
				for i, s := range statuses {
					filter[i] = store.SessionStatus(s)
				}
				sessions, err := a.cc.Sessions().ListSessions(filter...)
				if err != nil {
					return err
				}
				if sessions == nil {
					sessions = []*store.Session{}
				}
				return a.emit(sessions, func(w io.Writer) {
					a.styles.renderSessions(w, sessions)
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only runs in these statuses")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				sess, err := a.cc.Sessions().GetSession(args[0])
				if err != nil {
					return err
				}
				return a.emit(sess, func(w io.Writer) {
					a.styles.renderSession(w, sess)
				})
			})
		},
	}
}
