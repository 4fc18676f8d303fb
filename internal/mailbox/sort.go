package mailbox

import "sort"

// sortMessages sorts messages chronologically, breaking ties by id.
func sortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].MsgID < msgs[j].MsgID
	})
}
