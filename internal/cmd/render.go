package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/runboard/internal/filelock"
	"github.com/Iron-Ham/runboard/internal/mailbox"
	"github.com/Iron-Ham/runboard/internal/store"
)

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on dark terminals
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	greenColor   = lipgloss.Color("#10B981") // Green
	amberColor   = lipgloss.Color("#F59E0B") // Amber
	redColor     = lipgloss.Color("#F87171") // Red
	blueColor    = lipgloss.Color("#60A5FA") // Blue
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
)

// styles renders command output. The zero-value styles print plain text,
// which is what pipes and files get.
type styles struct {
	header lipgloss.Style
	label  lipgloss.Style
	muted  lipgloss.Style
	status map[string]lipgloss.Style
}

func newStyles(color bool) styles {
	if !color {
		return styles{
			header: lipgloss.NewStyle(),
			label:  lipgloss.NewStyle(),
			muted:  lipgloss.NewStyle(),
		}
	}
	fg := func(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
	return styles{
		header: lipgloss.NewStyle().Bold(true).Foreground(primaryColor),
		label:  lipgloss.NewStyle().Foreground(mutedColor),
		muted:  fg(mutedColor),
		status: map[string]lipgloss.Style{
			// Task statuses
			string(store.TaskPending):   fg(mutedColor),
			string(store.TaskBlocked):   fg(amberColor),
			string(store.TaskClaimed):   fg(blueColor),
			string(store.TaskRunning):   fg(greenColor),
			string(store.TaskCompleted): fg(primaryColor),
			string(store.TaskFailed):    fg(redColor),
			// Session statuses not shared with tasks
			string(store.SessionCreated):    fg(mutedColor),
			string(store.SessionPlanned):    fg(blueColor),
			string(store.SessionFinalizing): fg(amberColor),
			string(store.SessionAborted):    fg(redColor),
			// Lock modes
			string(store.LockRead):  fg(blueColor),
			string(store.LockWrite): fg(amberColor),
		},
	}
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (s styles) badge(status string) string {
	if st, ok := s.status[status]; ok {
		return st.Render(status)
	}
	return status
}

func (s styles) field(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %v\n", s.label.Render(fmt.Sprintf("%-14s", label+":")), value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func joinIDs(ids []string) string {
	return strings.Join(ids, ", ")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

func (s styles) renderSession(w io.Writer, sess *store.Session) {
	fmt.Fprintf(w, "%s %s\n", s.header.Render("Run "+sess.RunID), s.badge(string(sess.Status)))
	s.field(w, "Goal", sess.Goal)
	s.field(w, "Max turns", sess.Config.MaxTurns)
	s.field(w, "Timeout", time.Duration(sess.Config.TimeoutMs)*time.Millisecond)
	if sess.Config.BudgetTokens != nil {
		s.field(w, "Budget", fmt.Sprintf("%d tokens", *sess.Config.BudgetTokens))
	}
	s.field(w, "Tasks", s.taskCounts(sess.TasksSummary))
	s.field(w, "Messages", formatCounts(sess.MessagesSummary))
	s.field(w, "Artifacts", orDash(strings.Join(sess.ArtifactsSummary, ", ")))
	if sess.Decision != nil {
		s.field(w, "Decision", fmt.Sprintf("%s (%s) at %s", sess.Decision.Direction, sess.Decision.ArtifactID, formatTime(sess.Decision.DecidedAt)))
	}
	if sess.FailureReason != "" {
		s.field(w, "Failure", sess.FailureReason)
	}
	s.field(w, "Created", formatTime(sess.CreatedAt))
	s.field(w, "Updated", formatTime(sess.UpdatedAt))
}

func (s styles) renderSessions(w io.Writer, sessions []*store.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, s.muted.Render("No runs found."))
		return
	}
	fmt.Fprintln(w, s.header.Render(fmt.Sprintf("%-16s %-11s %s", "RUN", "STATUS", "GOAL")))
	for _, sess := range sessions {
		fmt.Fprintf(w, "%-16s %s %s\n", sess.RunID, pad(s.badge(string(sess.Status)), string(sess.Status), 11), sess.Goal)
	}
}

func (s styles) taskCounts(counts map[store.TaskStatus]int) string {
	var parts []string
	for _, st := range store.AllTaskStatuses() {
		if n := counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", s.badge(string(st)), n))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k, n := range counts {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "-"
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s %d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}

// pad right-pads a rendered string to width using the visible length of raw.
func pad(rendered, raw string, width int) string {
	if n := width - len(raw); n > 0 {
		return rendered + strings.Repeat(" ", n)
	}
	return rendered
}

// -----------------------------------------------------------------------------
// Tasks
// -----------------------------------------------------------------------------

func (s styles) renderTask(w io.Writer, t *store.Task) {
	fmt.Fprintf(w, "%s %s\n", s.header.Render("Task "+t.TaskID), s.badge(string(t.Status)))
	s.field(w, "Title", t.Title)
	s.field(w, "Type", t.Type)
	s.field(w, "Role", orDash(t.AssignedRole))
	s.field(w, "Depends on", orDash(strings.Join(t.DependsOn, ", ")))
	if len(t.BlockingTasks) > 0 {
		s.field(w, "Blocked by", strings.Join(t.BlockingTasks, ", "))
	}
	if t.Lease != nil {
		state := "active"
		if !t.HasActiveLease() {
			state = "stale"
		}
		s.field(w, "Lease", fmt.Sprintf("%s attempt %d, %s until %s", t.Lease.OwnerAgentID, t.Lease.Attempt, state, formatTime(t.Lease.LeaseExpireAt)))
	}
	if len(t.ArtifactRefs) > 0 {
		ids := make([]string, len(t.ArtifactRefs))
		for i, ref := range t.ArtifactRefs {
			ids[i] = ref.ArtifactID
		}
		s.field(w, "Artifacts", strings.Join(ids, ", "))
	}
	if t.FailureClass != "" {
		s.field(w, "Failure", fmt.Sprintf("%s: %s", t.FailureClass, t.FailureMessage))
	}
	if len(t.Input) > 0 {
		s.field(w, "Input", string(t.Input))
	}
	s.field(w, "Updated", formatTime(t.UpdatedAt))
}

func (s styles) renderTasks(w io.Writer, tasks []*store.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, s.muted.Render("No tasks."))
		return
	}
	fmt.Fprintln(w, s.header.Render(fmt.Sprintf("%-20s %-10s %-9s %-14s %s", "TASK", "STATUS", "TYPE", "OWNER", "TITLE")))
	for _, t := range tasks {
		owner := "-"
		if t.HasActiveLease() {
			owner = t.Lease.OwnerAgentID
		}
		fmt.Fprintf(w, "%-20s %s %-9s %-14s %s\n", t.TaskID, pad(s.badge(string(t.Status)), string(t.Status), 10), t.Type, owner, t.Title)
	}
}

// -----------------------------------------------------------------------------
// Locks and messages
// -----------------------------------------------------------------------------

func (s styles) renderLocks(w io.Writer, locks []*filelock.Lock, now time.Time) {
	if len(locks) == 0 {
		fmt.Fprintln(w, s.muted.Render("No locks."))
		return
	}
	fmt.Fprintln(w, s.header.Render(fmt.Sprintf("%-30s %-6s %-14s %s", "PATH", "MODE", "AGENT", "EXPIRES")))
	for _, l := range locks {
		expires := formatTime(l.LeaseExpireAt)
		if l.Expired(now) {
			expires = s.muted.Render(expires + " (expired)")
		}
		fmt.Fprintf(w, "%-30s %s %-14s %s\n", l.Path, pad(s.badge(string(l.Mode)), string(l.Mode), 6), l.AgentID, expires)
	}
}

func (s styles) renderMessages(w io.Writer, msgs []*mailbox.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, s.muted.Render("No messages."))
		return
	}
	fmt.Fprintln(w, mailbox.Format(msgs))
}
