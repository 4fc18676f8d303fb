package mailbox

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders messages as a human-readable block grouped by type, in
// order of first appearance. Returns an empty string for no messages.
func Format(messages []*Message) string {
	if len(messages) == 0 {
		return ""
	}

	groups := make(map[MessageType][]*Message)
	var typeOrder []MessageType
	for _, msg := range messages {
		if _, exists := groups[msg.Type]; !exists {
			typeOrder = append(typeOrder, msg.Type)
		}
		groups[msg.Type] = append(groups[msg.Type], msg)
	}

	var b strings.Builder
	for i, mt := range typeOrder {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(fmt.Sprintf("[%s]\n", strings.ToUpper(string(mt))))
		for _, msg := range groups[mt] {
			header := msg.FromAgent
			if !IsBroadcast(msg) {
				header += " -> " + msg.ToAgent
			}
			b.WriteString(fmt.Sprintf("  %s  %s  %s\n", msg.CreatedAt.Format("15:04:05"), msg.MsgID, header))
			if len(msg.TaskRefs) > 0 {
				b.WriteString(fmt.Sprintf("  Tasks: %s\n", strings.Join(msg.TaskRefs, ", ")))
			}
			b.WriteString(fmt.Sprintf("  %s\n", msg.Content))
			if len(msg.Metadata) > 0 {
				b.WriteString(fmt.Sprintf("  Metadata: %s\n", formatMetadata(msg.Metadata)))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatMetadata formats a metadata map as a compact key=value string.
// Keys are sorted for deterministic output.
func formatMetadata(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
