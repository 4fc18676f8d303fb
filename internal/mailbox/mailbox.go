package mailbox

import (
	"slices"

	"github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/logging"
	"github.com/Iron-Ham/runboard/internal/store"
)

// Mailbox posts and reads the messages of runs in a store.
type Mailbox struct {
	store  *store.Store
	logger *logging.Logger
}

// NewMailbox creates a Mailbox backed by st.
func NewMailbox(st *store.Store, opts ...Option) *Mailbox {
	m := &Mailbox{
		store:  st,
		logger: st.Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("mailbox")
	return m
}

// PostMessage validates msg, assigns its id, run and timestamp when unset,
// and persists it. It returns the message id. Messages are never
// overwritten: a caller-supplied id that is already posted fails with
// ERR_INVALID_ARGUMENT.
func (m *Mailbox) PostMessage(runID string, msg Message) (string, error) {
	if !ValidateMessageType(msg.Type) {
		return "", errors.InvalidArgument("invalid message type %q", msg.Type)
	}
	if msg.FromAgent == "" {
		return "", errors.InvalidArgument("message sender is required")
	}
	if msg.RunID != "" && msg.RunID != runID {
		return "", errors.InvalidArgument("message run %q does not match %q", msg.RunID, runID)
	}
	msg.RunID = runID
	if msg.MsgID == "" {
		msg.MsgID = store.NewRecordID("msg")
	} else {
		if err := store.ValidateID("message", msg.MsgID); err != nil {
			return "", err
		}
		unlock, err := m.store.LockRun(runID, store.ScopeMailbox)
		if err != nil {
			return "", err
		}
		defer unlock()

		_, err = m.store.ReadMessage(runID, msg.MsgID)
		switch {
		case err == nil:
			return "", errors.InvalidArgument("message %q already exists", msg.MsgID).
				WithDetail("msg_id", msg.MsgID)
		case !errors.Is(err, errors.ErrMessageNotFound):
			return "", err
		}
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.store.Now()
	}

	if err := m.store.WriteMessage(&msg); err != nil {
		return "", err
	}
	m.logger.WithRun(runID).Debug("message posted",
		"msg_id", msg.MsgID,
		"type", string(msg.Type),
		"from", msg.FromAgent,
		"to", msg.ToAgent,
	)
	return msg.MsgID, nil
}

// GetMessages returns the messages of a run matching filter in
// chronological order.
func (m *Mailbox) GetMessages(runID string, filter Filter) ([]*Message, error) {
	msgs, err := m.store.ListMessages(runID)
	if err != nil {
		return nil, err
	}
	sortMessages(msgs)

	var result []*Message
	for _, msg := range msgs {
		if !matches(msg, filter) {
			continue
		}
		if filter.Unacked {
			ack, err := m.store.ReadAck(runID, msg.MsgID)
			if err != nil {
				return nil, err
			}
			if ack != nil {
				continue
			}
		}
		result = append(result, msg)
	}

	if filter.MaxMessages > 0 && len(result) > filter.MaxMessages {
		result = result[len(result)-filter.MaxMessages:]
	}
	return result, nil
}

func matches(msg *Message, f Filter) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, msg.Type) {
		return false
	}
	if f.From != "" && msg.FromAgent != f.From {
		return false
	}
	if f.To != "" && msg.ToAgent != f.To && !IsBroadcast(msg) {
		return false
	}
	if f.TaskRef != "" && !slices.Contains(msg.TaskRefs, f.TaskRef) {
		return false
	}
	if !f.Since.IsZero() && !msg.CreatedAt.After(f.Since) {
		return false
	}
	return true
}

// Ack records that agentID consumed a message. Acknowledging again
// overwrites the previous acknowledgement.
func (m *Mailbox) Ack(runID, msgID, agentID string) error {
	if agentID == "" {
		return errors.InvalidArgument("agent id is required")
	}
	if _, err := m.store.ReadMessage(runID, msgID); err != nil {
		return err
	}
	return m.store.WriteAck(runID, &store.Ack{MsgID: msgID, AgentID: agentID})
}

// CountByType tallies the messages of a run by type.
func (m *Mailbox) CountByType(runID string) (map[string]int, error) {
	msgs, err := m.store.ListMessages(runID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, msg := range msgs {
		counts[string(msg.Type)]++
	}
	return counts, nil
}
