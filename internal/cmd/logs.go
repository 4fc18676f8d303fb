package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/logging"
)

func newLogsCmd() *cobra.Command {
	var (
		level, task, agent, component, grep, format string
		since                                       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Show a run's debug log",
		Long: `Show the entries every process wrote to runs/<run-id>/debug.log and its
rotated backups, oldest first.

Examples:
  runboard logs 20250101_120000 --level warn
  runboard logs 20250101_120000 --task implement --since 10m
  runboard logs 20250101_120000 --format csv > run.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				if _, err := a.cc.Sessions().GetSession(args[0]); err != nil {
					return err
				}
				entries, err := logging.AggregateLogs(a.cc.Store().RunDir(args[0]))
				if err != nil {
					return err
				}

				filter := logging.LogFilter{
					Level:           level,
					TaskID:          task,
					AgentID:         agent,
					Component:       component,
					MessageContains: grep,
				}
				if since > 0 {
					filter.Since = time.Now().Add(-since)
				}
				entries = logging.FilterLogs(entries, filter)

				if a.json {
					format = "json"
				}
				return logging.WriteLogEntries(a.out, entries, format)
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "", "minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&task, "task", "", "only entries for this task")
	cmd.Flags().StringVar(&agent, "agent", "", "only entries for this agent")
	cmd.Flags().StringVar(&component, "component", "", "only entries from this component (taskboard, lease, filelock, mailbox, session)")
	cmd.Flags().StringVar(&grep, "grep", "", "only entries whose message contains this text")
	cmd.Flags().DurationVar(&since, "since", 0, "only entries newer than this (e.g. 1h)")
	cmd.Flags().StringVar(&format, "format", "text", "output format (text, json, csv)")
	return cmd
}
