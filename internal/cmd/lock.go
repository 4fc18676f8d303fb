package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/store"
)

func newLockCmd() *cobra.Command {
	lockCmd := &cobra.Command{
		Use:     "lock",
		Aliases: []string{"locks"},
		Short:   "Manage path locks of a run",
		Long: `Commands for read/write path locks.

Paths are workspace-relative and may be glob patterns. Any number of
holders may read a path, while a write lock excludes every other holder of
an overlapping path. Expired locks are ignored and purged lazily.`,
	}

	lockCmd.AddCommand(
		newLockAcquireCmd(),
		newLockReleaseCmd(),
		newLockListCmd(),
		newLockPurgeCmd(),
	)
	return lockCmd
}

func newLockAcquireCmd() *cobra.Command {
	var (
		mode, token, agent string
		ttl                time.Duration
	)
	cmd := &cobra.Command{
		Use:   "acquire <run-id> <path>",
		Short: "Acquire a read or write lock on a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				if ttl <= 0 {
					ttl = a.settings().Lock.DefaultDuration()
				}
				expires := a.cc.Store().Now().Add(ttl)
				lockID, err := a.cc.Locks().AcquireLock(args[0], args[1], store.LockMode(mode), token, agent, expires)
				if err != nil {
					return err
				}
				result := map[string]any{"lock_id": lockID, "path": args[1], "mode": mode, "lease_expire_at": expires}
				return a.emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "Locked %s (%s) until %s\n", args[1], a.styles.badge(mode), formatTime(expires))
					a.styles.field(w, "Lock id", lockID)
				})
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(store.LockWrite), "lock mode (read, write)")
	cmd.Flags().StringVar(&token, "token", "", "lease token of the holder")
	cmd.Flags().StringVar(&agent, "agent", "", "holding agent id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lock lifetime (default from lock.default_duration_ms)")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newLockReleaseCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "release <run-id> <path>",
		Short: "Release the locks a lease token holds on a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				if err := a.cc.Locks().ReleaseLock(args[0], args[1], token); err != nil {
					return err
				}
				return a.emit(map[string]string{"released": args[1]}, func(w io.Writer) {
					fmt.Fprintf(w, "Released %s\n", args[1])
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lease token of the holder")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newLockListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <run-id> [pattern]",
		Short: "List locks, optionally only those overlapping a pattern",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := ""
			if len(args) == 2 {
				pattern = args[1]
			}
			return withApp(cmd, args[0], func(a *app) error {
				locks, err := a.cc.Locks().ListLocks(args[0], pattern)
				if err != nil {
					return err
				}
				if locks == nil {
					locks = []*store.LockRecord{}
				}
				return a.emit(locks, func(w io.Writer) {
					a.styles.renderLocks(w, locks, a.cc.Store().Now())
				})
			})
		},
	}
}

func newLockPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <run-id>",
		Short: "Delete expired lock records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				n, err := a.cc.Locks().PurgeExpired(args[0])
				if err != nil {
					return err
				}
				return a.emit(map[string]int{"purged": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Purged %d expired lock(s)\n", n)
				})
			})
		},
	}
}
