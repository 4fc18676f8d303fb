package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/runboard/internal/mailbox"
)

func newMessagesCmd() *cobra.Command {
	messagesCmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg", "mailbox"},
		Short:   "Post and read run messages",
	}

	messagesCmd.AddCommand(
		newMessagesPostCmd(),
		newMessagesListCmd(),
		newMessagesAckCmd(),
	)
	return messagesCmd
}

func newMessagesPostCmd() *cobra.Command {
	var (
		msgType, from, to, metadata string
		taskRefs                    []string
	)
	cmd := &cobra.Command{
		Use:   "post <run-id> <content>",
		Short: "Post a message to an agent or to everyone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := mailbox.Message{
				Type:      mailbox.MessageType(msgType),
				FromAgent: from,
				ToAgent:   to,
				TaskRefs:  taskRefs,
				Content:   args[1],
			}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
					return fmt.Errorf("--metadata must be a JSON object: %w", err)
				}
			}
			return withApp(cmd, args[0], func(a *app) error {
				id, err := a.cc.Mailbox().PostMessage(args[0], msg)
				if err != nil {
					return err
				}
				return a.emit(map[string]string{"msg_id": id}, func(w io.Writer) {
					fmt.Fprintf(w, "Posted %s\n", id)
				})
			})
		},
	}
	cmd.Flags().StringVar(&msgType, "type", string(mailbox.MessageStatus), "message type")
	cmd.Flags().StringVar(&from, "from", "", "sending agent id")
	cmd.Flags().StringVar(&to, "to", mailbox.BroadcastRecipient, "recipient agent id")
	cmd.Flags().StringSliceVar(&taskRefs, "task", nil, "referenced task ids")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata as a JSON object")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func newMessagesListCmd() *cobra.Command {
	var (
		types       []string
		from, to    string
		task        string
		since       time.Duration
		unacked     bool
		maxMessages int
	)
	cmd := &cobra.Command{
		Use:   "list <run-id>",
		Short: "List messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				filter := mailbox.Filter{
					From:        from,
					To:          to,
					TaskRef:     task,
					Unacked:     unacked,
					MaxMessages: maxMessages,
				}
				for _, t := range types {
					filter.Types = append(filter.Types, mailbox.MessageType(t))
				}
				if since > 0 {
					filter.Since = a.cc.Store().Now().Add(-since)
				}
				msgs, err := a.cc.Mailbox().GetMessages(args[0], filter)
				if err != nil {
					return err
				}
				if msgs == nil {
					msgs = []*mailbox.Message{}
				}
				return a.emit(msgs, func(w io.Writer) {
					a.styles.renderMessages(w, msgs)
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these message types")
	cmd.Flags().StringVar(&from, "from", "", "only from this agent")
	cmd.Flags().StringVar(&to, "to", "", "only addressed to this agent or broadcast")
	cmd.Flags().StringVar(&task, "task", "", "only referencing this task")
	cmd.Flags().DurationVar(&since, "since", 0, "only messages newer than this (e.g. 10m)")
	cmd.Flags().BoolVar(&unacked, "unacked", false, "only messages nobody acknowledged")
	cmd.Flags().IntVarP(&maxMessages, "limit", "n", 0, "keep only the most recent N")
	return cmd
}

func newMessagesAckCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "ack <run-id> <msg-id>",
		Short: "Acknowledge a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, args[0], func(a *app) error {
				if err := a.cc.Mailbox().Ack(args[0], args[1], agent); err != nil {
					return err
				}
				return a.emit(map[string]string{"acked": args[1]}, func(w io.Writer) {
					fmt.Fprintf(w, "Acknowledged %s\n", args[1])
				})
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "acknowledging agent id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}
