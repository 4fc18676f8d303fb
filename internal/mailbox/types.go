package mailbox

import (
	"time"

	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// Message is a persisted mailbox entry.
type Message = store.Message

// MessageType identifies the kind of message.
type MessageType = store.MessageType

const (
	// MessageTaskDispatch announces that a task was handed to an agent.
	MessageTaskDispatch = store.MessageTaskDispatch

	// MessageTaskResult reports a completed task.
	MessageTaskResult = store.MessageTaskResult

	// MessageTaskFailed reports a failed task.
	MessageTaskFailed = store.MessageTaskFailed

	// MessageEscalation asks the orchestrator to intervene.
	MessageEscalation = store.MessageEscalation

	// MessageQuestion requests help from another agent.
	MessageQuestion = store.MessageQuestion

	// MessageAnswer responds to a question.
	MessageAnswer = store.MessageAnswer

	// MessageStatus provides a progress update.
	MessageStatus = store.MessageStatus

	// MessageDecision records a run-level decision.
	MessageDecision = store.MessageDecision
)

// BroadcastRecipient is the "to" value for messages intended for everyone.
const BroadcastRecipient = "broadcast"

// IsBroadcast returns true if m is addressed to every agent.
func IsBroadcast(m *Message) bool {
	return m.ToAgent == "" || m.ToAgent == BroadcastRecipient
}

var validMessageTypes = map[MessageType]bool{
	MessageTaskDispatch: true,
	MessageTaskResult:   true,
	MessageTaskFailed:   true,
	MessageEscalation:   true,
	MessageQuestion:     true,
	MessageAnswer:       true,
	MessageStatus:       true,
	MessageDecision:     true,
}

// ValidateMessageType returns true if t is a known message type.
func ValidateMessageType(t MessageType) bool {
	return validMessageTypes[t]
}

// Filter selects messages in GetMessages. Zero fields match everything.
type Filter struct {
	Types       []MessageType // Only these types
	From        string        // Only from this sender
	To          string        // Only addressed to this agent, or broadcast
	TaskRef     string        // Only referencing this task
	Since       time.Time     // Only created strictly after this time
	Unacked     bool          // Only messages without an acknowledgement
	MaxMessages int           // Keep only the most recent N (0 = unlimited)
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithLogger sets the mailbox logger.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Mailbox) {
		m.logger = logger
	}
}
