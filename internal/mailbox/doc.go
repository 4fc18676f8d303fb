// Package mailbox provides the run-scoped message log agents and the
// orchestrator use to report task dispatch, results, failures and
// escalations.
//
// # Architecture
//
// Each message is one JSON record written atomically by the store:
//
//	runs/<run_id>/mailbox/<msg_id>.json       the message
//	runs/<run_id>/mailbox/<msg_id>.ack.json   acknowledgement sidecar
//
// Acknowledgements are sidecar files so a message record is never
// rewritten after it is posted.
//
// # Main Types
//
//   - [Message]: a message with sender, optional recipient, type, task refs
//     and content
//   - [Filter]: selection criteria for [Mailbox.GetMessages]
//   - [Mailbox]: post, query and acknowledge messages of a run
//
// # Addressing
//
// A message with an empty recipient, or addressed to [BroadcastRecipient],
// is visible to every agent. Filtering by recipient returns the agent's
// direct messages together with broadcasts.
//
// # Thread Safety
//
// Posting never rewrites existing files, so concurrent posts from many
// processes are safe without locking.
package mailbox
