package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/store"
	"github.com/Iron-Ham/runboard/internal/taskboard"
)

func newTaskCmd() *cobra.Command {
	taskCmd := &cobra.Command{
		Use:     "task",
		Aliases: []string{"tasks"},
		Short:   "Manage the task board of a run",
		Long: `Commands for creating, claiming and finishing tasks.

Workers claim a ready task, receive a lease token, and must present that
token to start, renew, complete or fail the task. A lease that expires
returns the task to pending, or fails it once its retries are used up.`,
	}

	taskCmd.AddCommand(
		newTaskCreateCmd(),
		newTaskClaimCmd(),
		newTaskStartCmd(),
		newTaskCompleteCmd(),
		newTaskFailCmd(),
		newTaskRenewCmd(),
		newTaskListCmd(),
		newTaskReadyCmd(),
		newTaskShowCmd(),
		newTaskDeleteCmd(),
		newTaskBlockCmd("block", "Block a pending task", (*taskboard.Board).BlockTask),
		newTaskBlockCmd("unblock", "Unblock a task whose dependencies are met", (*taskboard.Board).UnblockTask),
		newTaskDepsCmd(),
	)
	return taskCmd
}

func newTaskCreateCmd() *cobra.Command {
	var (
		title, taskType, role, input string
		deps                         []string
	)
	cmd := &cobra.Command{
		Use:   "create <run-id> <task-id>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := taskboard.TaskSpec{
				TaskID:       args[1],
				Title:        title,
				Type:         store.TaskType(taskType),
				AssignedRole: role,
				DependsOn:    deps,
			}
			if input != "" {
				var v any
				if err := json.Unmarshal([]byte(input), &v); err != nil {
					return fmt.Errorf("--input must be JSON: %w", err)
				}
				spec.Input = v
			}
			return withApp(cmd, args[0], func(a *app) error {
				task, err := a.cc.Board().CreateTask(args[0], spec)
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					fmt.Fprintf(w, "Created task %s (%s)\n", task.TaskID, a.styles.badge(string(task.Status)))
				})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&taskType, "type", string(store.TaskExecute), "task type (research, execute, audit)")
	cmd.Flags().StringVar(&role, "role", "", "role the task is assigned to")
	cmd.Flags().StringVar(&input, "input", "", "task input as a JSON document")
	cmd.Flags().StringSliceVar(&deps, "depends-on", nil, "ids of tasks this task depends on")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskClaimCmd() *cobra.Command {
	var (
		agent string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "claim <run-id> <task-id>",
		Short: "Claim a pending task and receive a lease",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				claim, err := a.cc.Board().ClaimTask(args[0], args[1], agent, ttl)
				if err != nil {
					return err
				}
				return a.emit(claim, func(w io.Writer) {
					fmt.Fprintf(w, "Claimed %s (attempt %d)\n", claim.TaskID, claim.Attempt)
					a.styles.field(w, "Lease token", claim.LeaseToken)
					a.styles.field(w, "Expires", formatTime(claim.LeaseExpireAt))
				})
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "claiming agent id")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease duration (default from lease.default_duration_ms)")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func newTaskStartCmd() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "start <run-id> <task-id>",
		Short: "Mark a claimed task as running",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				task, err := a.cc.Board().StartTask(args[0], args[1], token)
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					fmt.Fprintf(w, "Task %s is %s\n", task.TaskID, a.styles.badge(string(task.Status)))
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lease token from claim")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newTaskCompleteCmd() *cobra.Command {
	var (
		token     string
		artifacts []string
	)
	cmd := &cobra.Command{
		Use:   "complete <run-id> <task-id>",
		Short: "Complete a running task",
		Long: `Complete a running task, attaching the given artifact ids. Dependents
whose dependencies are now all complete are unblocked.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]store.ArtifactRef, len(artifacts))
			for i, id := range artifacts {
				refs[i] = store.ArtifactRef{ArtifactID: id}
			}
			return withApp(cmd, args[0], func(a *app) error {
				task, err := a.cc.Board().CompleteTask(args[0], args[1], token, refs)
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					fmt.Fprintf(w, "Task %s is %s\n", task.TaskID, a.styles.badge(string(task.Status)))
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lease token from claim")
	cmd.Flags().StringSliceVar(&artifacts, "artifact", nil, "artifact ids produced by the task")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newTaskFailCmd() *cobra.Command {
	var token, class, message string
	cmd := &cobra.Command{
		Use:   "fail <run-id> <task-id>",
		Short: "Fail a running task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				task, err := a.cc.Board().FailTask(args[0], args[1], token, store.FailureClass(class), message)
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					fmt.Fprintf(w, "Task %s is %s: %s\n", task.TaskID, a.styles.badge(string(task.Status)), message)
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lease token from claim")
	cmd.Flags().StringVar(&class, "class", string(store.FailureRetryable), "failure class (retryable, non_retryable, policy_denied)")
	cmd.Flags().StringVar(&message, "message", "", "failure message")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newTaskRenewCmd() *cobra.Command {
	var (
		token string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "renew <run-id> <task-id>",
		Short: "Extend the lease of a claimed or running task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				expires, err := a.cc.Board().RenewLease(args[0], args[1], token, ttl)
				if err != nil {
					return err
				}
				result := map[string]any{"task_id": args[1], "lease_expire_at": expires}
				return a.emit(result, func(w io.Writer) {
					fmt.Fprintf(w, "Lease on %s renewed until %s\n", args[1], formatTime(expires))
				})
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "lease token from claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease duration (default from lease.default_duration_ms)")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var (
		statuses          []string
		taskType, role, o string
	)
	cmd := &cobra.Command{
		Use:   "list <run-id>",
		Short: "List tasks in dependency order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := taskboard.Filter{
				Type:  store.TaskType(taskType),
				Role:  role,
				Owner: o,
			}
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, store.TaskStatus(s))
			}
			return withApp(cmd, args[0], func(a *app) error {
				tasks, err := a.cc.Board().ListTasks(args[0], filter)
				if err != nil {
					return err
				}
				return a.emitTasks(tasks)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "only tasks in these statuses")
	cmd.Flags().StringVar(&taskType, "type", "", "only tasks of this type")
	cmd.Flags().StringVar(&role, "role", "", "only tasks assigned to this role")
	cmd.Flags().StringVar(&o, "owner", "", "only tasks leased by this agent")
	return cmd
}

func newTaskReadyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ready <run-id>",
		Short: "List pending tasks whose dependencies are complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				tasks, err := a.cc.Board().Ready(args[0])
				if err != nil {
					return err
				}
				return a.emitTasks(tasks)
			})
		},
	}
}

func (a *app) emitTasks(tasks []*store.Task) error {
	if tasks == nil {
		tasks = []*store.Task{}
	}
	return a.emit(tasks, func(w io.Writer) {
		a.styles.renderTasks(w, tasks)
	})
}

func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id> <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				task, err := a.cc.Board().GetTask(args[0], args[1])
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					a.styles.renderTask(w, task)
				})
			})
		},
	}
}

func newTaskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id> <task-id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				if err := a.cc.Board().DeleteTask(args[0], args[1]); err != nil {
					return err
				}
				return a.emit(map[string]string{"deleted": args[1]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted task %s\n", args[1])
				})
			})
		},
	}
}

func newTaskBlockCmd(use, short string, op func(*taskboard.Board, string, string) (*store.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id> <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				task, err := op(a.cc.Board(), args[0], args[1])
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					fmt.Fprintf(w, "Task %s is %s\n", task.TaskID, a.styles.badge(string(task.Status)))
				})
			})
		},
	}
}

func newTaskDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps <run-id> <task-id> [dep-id...]",
		Short: "Replace the dependencies of a pending or blocked task",
		Long: `Replace the dependencies of a pending or blocked task. With no dep ids
the task depends on nothing. The change is rejected if it would close a cycle.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				task, err := a.cc.Board().UpdateDependencies(args[0], args[1], args[2:])
				if err != nil {
					return err
				}
				return a.emit(task, func(w io.Writer) {
					a.styles.renderTask(w, task)
				})
			})
		},
	}
}
