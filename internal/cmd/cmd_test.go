package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	rberrors "github.com/Iron-Ham/runboard/internal/errors"
	"github.com/Iron-Ham/runboard/internal/store"
	"github.com/Iron-Ham/runboard/internal/taskboard"
)

// testEnv isolates viper state, the user config dir and the store root.
type testEnv struct {
	t    *testing.T
	root string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("RUNBOARD_LOGGING_ENABLED", "false")
	return &testEnv{t: t, root: t.TempDir()}
}

// run executes a fresh command tree and returns captured stdout.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append([]string{"--root", e.root}, args...))
	err := root.Execute()
	return buf.String(), err
}

// runJSON executes a command in --json mode and decodes its output into v.
func (e *testEnv) runJSON(v any, args ...string) {
	e.t.Helper()
	out, err := e.run(append([]string{"--json"}, args...)...)
	if err != nil {
		e.t.Fatalf("runboard %s: %v", strings.Join(args, " "), err)
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		e.t.Fatalf("runboard %s: bad JSON %q: %v", strings.Join(args, " "), out, err)
	}
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	if root.Use != "runboard" {
		t.Errorf("root.Use = %q, want %q", root.Use, "runboard")
	}

	expectedCmds := []string{"session", "task", "lock", "messages", "artifact", "sweep", "watch", "logs", "config"}
	cmdMap := make(map[string]bool)
	for _, cmd := range root.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range expectedCmds {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestRunWorkflow(t *testing.T) {
	env := newTestEnv(t)

	var sess store.Session
	env.runJSON(&sess, "session", "create", "ship the feature", "--max-turns", "4", "--timeout", "10m")
	if sess.Status != store.SessionCreated || sess.Config.MaxTurns != 4 || sess.Config.TimeoutMs != 600000 {
		t.Fatalf("created session = %+v", sess)
	}
	runID := sess.RunID
	if _, err := os.Stat(filepath.Join(env.root, store.RunsDirName, runID, store.IndexFileName)); err != nil {
		t.Fatalf("index.json not written under --root: %v", err)
	}

	planPath := filepath.Join(t.TempDir(), "plan.yaml")
	plan := `tasks:
  - task_id: research
    title: Survey the codebase
    type: research
  - task_id: implement
    title: Implement the change
    type: execute
    depends_on: [research]
    input: {files: ["internal/store"]}
`
	if err := os.WriteFile(planPath, []byte(plan), 0o644); err != nil {
		t.Fatal(err)
	}
	env.runJSON(&sess, "session", "plan", runID, "--file", planPath)
	if sess.Status != store.SessionPlanned {
		t.Fatalf("status after plan = %s, want planned", sess.Status)
	}
	env.runJSON(&sess, "session", "start", runID)

	var ready []*store.Task
	env.runJSON(&ready, "task", "ready", runID)
	if len(ready) != 1 || ready[0].TaskID != "research" {
		t.Fatalf("ready = %v, want [research]", ready)
	}

	var claim taskboard.Claim
	env.runJSON(&claim, "task", "claim", runID, "research", "--agent", "worker-1", "--ttl", "1m")
	if claim.LeaseToken == "" || claim.Attempt != 1 {
		t.Fatalf("claim = %+v", claim)
	}

	// A second claim is rejected with a structured error.
	_, err := env.run("task", "claim", runID, "research", "--agent", "worker-2")
	if code := rberrors.CodeOf(err); code != rberrors.CodeLeaseConflict {
		t.Errorf("second claim code = %s, want %s", code, rberrors.CodeLeaseConflict)
	}

	var lock map[string]any
	env.runJSON(&lock, "lock", "acquire", runID, "internal/**", "--token", claim.LeaseToken, "--agent", "worker-1")
	if lock["lock_id"] == "" {
		t.Errorf("lock acquire = %v", lock)
	}
	_, err = env.run("lock", "acquire", runID, "internal/store/store.go", "--mode", "read", "--token", "other", "--agent", "worker-2")
	if code := rberrors.CodeOf(err); code != rberrors.CodeLockConflict {
		t.Errorf("overlapping acquire code = %s, want %s", code, rberrors.CodeLockConflict)
	}

	var task store.Task
	env.runJSON(&task, "task", "start", runID, "research", "--token", claim.LeaseToken)
	var art store.Artifact
	env.runJSON(&art, "artifact", "add", runID, "--id", "survey", "--kind", "report", "--by", "worker-1")
	env.runJSON(&task, "task", "complete", runID, "research", "--token", claim.LeaseToken, "--artifact", "survey")
	if task.Status != store.TaskCompleted || len(task.ArtifactRefs) != 1 {
		t.Fatalf("completed task = %+v", task)
	}
	env.runJSON(&lock, "lock", "release", runID, "internal/**", "--token", claim.LeaseToken)

	var posted map[string]string
	env.runJSON(&posted, "messages", "post", runID, "survey done", "--type", "task_result", "--from", "worker-1", "--task", "research")
	var msgs []*store.Message
	env.runJSON(&msgs, "messages", "list", runID, "--unacked")
	if len(msgs) != 1 || msgs[0].MsgID != posted["msg_id"] {
		t.Fatalf("messages = %v", msgs)
	}
	env.runJSON(&posted, "messages", "ack", runID, msgs[0].MsgID, "--agent", "orchestrator")
	env.runJSON(&msgs, "messages", "list", runID, "--unacked")
	if len(msgs) != 0 {
		t.Errorf("unacked after ack = %d, want 0", len(msgs))
	}

	env.runJSON(&ready, "task", "ready", runID)
	if len(ready) != 1 || ready[0].TaskID != "implement" {
		t.Fatalf("ready after completing research = %v, want [implement]", ready)
	}

	env.runJSON(&sess, "session", "refresh", runID)
	if sess.TasksSummary[store.TaskCompleted] != 1 || sess.MessagesSummary["task_result"] != 1 {
		t.Errorf("summaries = %v / %v", sess.TasksSummary, sess.MessagesSummary)
	}
	if len(sess.ArtifactsSummary) != 1 || sess.ArtifactsSummary[0] != "survey" {
		t.Errorf("ArtifactsSummary = %v, want [survey]", sess.ArtifactsSummary)
	}

	env.runJSON(&sess, "session", "finalize", runID)
	env.runJSON(&sess, "session", "complete", runID, "--artifact", "survey", "--direction", "ship it")
	if sess.Status != store.SessionCompleted || sess.Decision == nil || sess.Decision.Direction != "ship it" {
		t.Fatalf("completed session = %+v", sess)
	}

	_, err = env.run("session", "abort", runID)
	if code := rberrors.CodeOf(err); code != rberrors.CodeSessionInvalidState {
		t.Errorf("abort of completed run code = %s, want %s", code, rberrors.CodeSessionInvalidState)
	}
}

func TestSessionAbort(t *testing.T) {
	env := newTestEnv(t)

	var sess store.Session
	env.runJSON(&sess, "session", "create", "goal")
	runID := sess.RunID
	env.runJSON(&sess, "session", "plan", runID, "--file", writePlan(t, `[{"task_id": "t1", "title": "one", "type": "execute"}]`))
	env.runJSON(&sess, "session", "start", runID)

	var claim taskboard.Claim
	env.runJSON(&claim, "task", "claim", runID, "t1", "--agent", "worker")
	var lock map[string]any
	env.runJSON(&lock, "lock", "acquire", runID, "a.go", "--token", claim.LeaseToken, "--agent", "worker")

	var result struct {
		Session       store.Session `json:"session"`
		LocksReleased int           `json:"locks_released"`
		Recovered     []string      `json:"recovered"`
	}
	env.runJSON(&result, "session", "abort", runID)
	if result.Session.Status != store.SessionAborted || result.LocksReleased != 1 {
		t.Errorf("abort result = %+v", result)
	}
	if len(result.Recovered) != 1 || result.Recovered[0] != "t1" {
		t.Errorf("Recovered = %v, want [t1]", result.Recovered)
	}

	var locks []*store.LockRecord
	env.runJSON(&locks, "lock", "list", runID)
	if len(locks) != 0 {
		t.Errorf("locks after abort = %d, want 0", len(locks))
	}
	var task store.Task
	env.runJSON(&task, "task", "show", runID, "t1")
	if task.Status != store.TaskPending || task.Lease != nil {
		t.Errorf("task after abort = %s lease %v, want pending without lease", task.Status, task.Lease)
	}
}

func TestPlanRejectsCycle(t *testing.T) {
	env := newTestEnv(t)

	var sess store.Session
	env.runJSON(&sess, "session", "create", "goal")
	plan := writePlan(t, `
- task_id: a
  title: A
  type: execute
  depends_on: [b]
- task_id: b
  title: B
  type: execute
  depends_on: [a]
`)
	_, err := env.run("session", "plan", sess.RunID, "--file", plan)
	if code := rberrors.CodeOf(err); code != rberrors.CodeInvalidArgument {
		t.Fatalf("cyclic plan code = %s, want %s", code, rberrors.CodeInvalidArgument)
	}

	var tasks []*store.Task
	env.runJSON(&tasks, "task", "list", sess.RunID)
	if len(tasks) != 0 {
		t.Errorf("tasks after rejected plan = %d, want 0", len(tasks))
	}
	env.runJSON(&sess, "session", "show", sess.RunID)
	if sess.Status != store.SessionCreated {
		t.Errorf("status = %s, want created", sess.Status)
	}
}

func TestSessionList(t *testing.T) {
	env := newTestEnv(t)

	var sessions []*store.Session
	env.runJSON(&sessions, "session", "list")
	if len(sessions) != 0 {
		t.Fatalf("sessions in empty root = %d, want 0", len(sessions))
	}

	out, err := env.run("session", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No runs found.") {
		t.Errorf("text output = %q", out)
	}

	_, err = env.run("session", "show", "20240101_000000")
	if code := rberrors.CodeOf(err); code != rberrors.CodeSessionNotFound {
		t.Errorf("show missing code = %s, want %s", code, rberrors.CodeSessionNotFound)
	}
}

func TestSweep(t *testing.T) {
	env := newTestEnv(t)

	var sess store.Session
	env.runJSON(&sess, "session", "create", "goal")
	var report struct {
		LocksPurged int `json:"locks_purged"`
		TempRemoved int `json:"temp_removed"`
	}
	env.runJSON(&report, "sweep", sess.RunID)
	if report.LocksPurged != 0 || report.TempRemoved != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestConfigCommands(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Created config file") {
		t.Errorf("init output = %q", out)
	}
	if _, err := env.run("config", "init"); err == nil {
		t.Error("second config init should fail")
	}

	out, err = env.run("config", "set", "lease.max_retries", "5")
	if err != nil {
		t.Fatalf("config set: %v", err)
	}
	if !strings.Contains(out, "Set lease.max_retries = 5") {
		t.Errorf("set output = %q", out)
	}

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "tui.max_output_lines", "10"},
		{"bad level", "logging.level", "loud"},
		{"bad bool", "logging.enabled", "yes"},
		{"not an int", "lease.max_retries", "many"},
		{"fails validation", "lease.max_retries", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.run("config", "set", tt.key, tt.value); err == nil {
				t.Errorf("config set %s %s should fail", tt.key, tt.value)
			}
		})
	}

	viper.Reset()
	out, err = env.run("config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "max_retries: 5") {
		t.Errorf("show output missing saved value:\n%s", out)
	}
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("RUNBOARD_LOGGING_ENABLED", "true")
	t.Setenv("RUNBOARD_LOGGING_LEVEL", "debug")

	var sess store.Session
	env.runJSON(&sess, "session", "create", "goal")
	env.runJSON(&sess, "session", "plan", sess.RunID, "--file", writePlan(t, `[{"task_id": "t1", "title": "one", "type": "execute"}]`))

	var entries []map[string]any
	env.runJSON(&entries, "logs", sess.RunID, "--task", "t1")
	if len(entries) == 0 {
		t.Fatal("expected log entries for t1")
	}
	for _, e := range entries {
		if e["task_id"] != "t1" {
			t.Errorf("entry for other task: %v", e)
		}
	}

	out, err := env.run("logs", sess.RunID, "--component", "session", "--grep", "planned")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "session planned") {
		t.Errorf("text logs missing transition:\n%s", out)
	}
}

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
