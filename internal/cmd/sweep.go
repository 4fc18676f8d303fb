package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep <run-id>",
		Short: "Recover expired leases and purge expired locks",
		Long: `Run the lazy recovery steps of a run eagerly:

  - tasks whose lease expired go back to pending, or fail once the
    attempt limit (lease.max_retries) is reached
  - expired path locks are deleted
  - temp files left by crashed writers are removed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				report, err := a.cc.Maintain(args[0])
				if err != nil {
					return err
				}
				return a.emit(report, func(w io.Writer) {
					fmt.Fprintln(w, a.styles.header.Render("Sweep "+args[0]))
					a.styles.field(w, "Recovered", orDash(joinIDs(report.Leases.Recovered)))
					a.styles.field(w, "Exhausted", orDash(joinIDs(report.Leases.Exhausted)))
					a.styles.field(w, "Locks purged", report.LocksPurged)
					a.styles.field(w, "Temp removed", report.TempRemoved)
				})
			})
		},
	}
}
