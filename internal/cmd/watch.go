package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/store"
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Stream record changes of a run until interrupted",
		Long: `Print a line for every task, lock, message or index change
written to the run directory by any process. Stops on Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withApp(cmd, args[0], func(a *app) error {
				if _, err := a.cc.Sessions().GetSession(args[0]); err != nil {
					return err
				}
				enc := json.NewEncoder(a.out)
				err := a.cc.Watch(ctx, args[0], func(ev store.ChangeEvent) {
					if a.json {
						_ = enc.Encode(map[string]string{
							"kind": ev.Kind,
							"id":   ev.ID,
							"op":   ev.Op.String(),
							"path": ev.Path,
						})
						return
					}
					fmt.Fprintf(a.out, "%s %-8s %-7s %s\n",
						a.styles.muted.Render(time.Now().Format("15:04:05")), ev.Kind, ev.Op.String(), ev.ID)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}
