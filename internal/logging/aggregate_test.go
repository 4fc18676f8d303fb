package logging

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeRunLog(t *testing.T, dir string) {
	t.Helper()
	logger, err := NewLogger(dir, LevelDebug)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	run := logger.WithRun("20250101_120000")
	run.WithComponent("taskboard").WithTask("t1").WithAgent("worker-1").Info("task claimed", "attempt", 1)
	run.WithComponent("taskboard").WithTask("t2").Debug("task created")
	run.WithComponent("filelock").WithAgent("worker-1").Warn("lock conflict", "path", "a.go")
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAggregateLogs(t *testing.T) {
	t.Run("parses entries from run directory", func(t *testing.T) {
		dir := t.TempDir()
		writeRunLog(t, dir)

		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatalf("AggregateLogs failed: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(entries))
		}

		first := entries[0]
		if first.Message != "task claimed" || first.Level != LevelInfo {
			t.Errorf("first entry = %q at %s", first.Message, first.Level)
		}
		if first.RunID != "20250101_120000" || first.TaskID != "t1" || first.AgentID != "worker-1" || first.Component != "taskboard" {
			t.Errorf("context fields = %+v", first)
		}
		if first.Attrs["attempt"] != float64(1) {
			t.Errorf("expected attempt=1, got %v", first.Attrs["attempt"])
		}
		if _, ok := first.Attrs["run_id"]; ok {
			t.Error("run_id should not be duplicated into attrs")
		}
	})

	t.Run("includes rotated backups", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, LogFileName)
		old := `{"time":"2025-01-01T11:00:00Z","level":"INFO","msg":"old"}` + "\n"
		if err := os.WriteFile(BackupPath(path, 1), []byte(old), 0o644); err != nil {
			t.Fatal(err)
		}
		writeRunLog(t, dir)

		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 4 || entries[0].Message != "old" {
			t.Errorf("expected backup entry first of 4, got %d entries starting %q", len(entries), entries[0].Message)
		}
	})

	t.Run("skips torn lines", func(t *testing.T) {
		dir := t.TempDir()
		content := `{"time":"2025-01-01T12:00:00Z","level":"INFO","msg":"ok"}` + "\n" + `{"time":"2025-01-01T12:00:01Z","lev`
		if err := os.WriteFile(filepath.Join(dir, LogFileName), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		entries, err := AggregateLogs(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected 1 entry, got %d", len(entries))
		}
	})

	t.Run("returns error for missing log file", func(t *testing.T) {
		if _, err := AggregateLogs(t.TempDir()); err == nil {
			t.Error("expected error for missing log file")
		}
	})
}

func TestFilterLogs(t *testing.T) {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	entries := []LogEntry{
		{Timestamp: base, Level: LevelDebug, Message: "task created", TaskID: "t1", Component: "taskboard"},
		{Timestamp: base.Add(time.Minute), Level: LevelInfo, Message: "task claimed", TaskID: "t1", AgentID: "a1", Component: "taskboard"},
		{Timestamp: base.Add(2 * time.Minute), Level: LevelWarn, Message: "lock conflict", AgentID: "a2", Component: "filelock"},
		{Timestamp: base.Add(3 * time.Minute), Level: LevelError, Message: "index write failed", Component: "session"},
	}

	tests := []struct {
		name   string
		filter LogFilter
		want   []string
	}{
		{"empty filter", LogFilter{}, []string{"task created", "task claimed", "lock conflict", "index write failed"}},
		{"level", LogFilter{Level: "warn"}, []string{"lock conflict", "index write failed"}},
		{"since", LogFilter{Since: base.Add(90 * time.Second)}, []string{"lock conflict", "index write failed"}},
		{"until", LogFilter{Until: base.Add(time.Minute)}, []string{"task created", "task claimed"}},
		{"task", LogFilter{TaskID: "t1"}, []string{"task created", "task claimed"}},
		{"agent", LogFilter{AgentID: "a2"}, []string{"lock conflict"}},
		{"component", LogFilter{Component: "session"}, []string{"index write failed"}},
		{"message", LogFilter{MessageContains: "task"}, []string{"task created", "task claimed"}},
		{"combined", LogFilter{TaskID: "t1", Level: LevelInfo}, []string{"task claimed"}},
		{"no match", LogFilter{AgentID: "nobody"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterLogs(entries, tt.filter)
			var msgs []string
			for _, e := range got {
				msgs = append(msgs, e.Message)
			}
			if strings.Join(msgs, "|") != strings.Join(tt.want, "|") {
				t.Errorf("FilterLogs() = %v, want %v", msgs, tt.want)
			}
		})
	}
}

func TestWriteLogEntries(t *testing.T) {
	entries := []LogEntry{{
		Timestamp: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		Level:     LevelInfo,
		Message:   "task claimed",
		RunID:     "20250101_120000",
		TaskID:    "t1",
		AgentID:   "a1",
		Component: "taskboard",
		Attrs:     map[string]any{"attempt": 1},
	}}

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogEntries(&buf, entries, "text"); err != nil {
			t.Fatal(err)
		}
		want := `[2025-01-01 12:00:00.000] INFO - task claimed (component=taskboard, task=t1, agent=a1) {"attempt":1}` + "\n"
		if buf.String() != want {
			t.Errorf("text = %q, want %q", buf.String(), want)
		}
	})

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogEntries(&buf, entries, "JSON"); err != nil {
			t.Fatal(err)
		}
		var decoded []LogEntry
		if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if len(decoded) != 1 || decoded[0].TaskID != "t1" {
			t.Errorf("decoded = %+v", decoded)
		}
	})

	t.Run("csv", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteLogEntries(&buf, entries, "csv"); err != nil {
			t.Fatal(err)
		}
		records, err := csv.NewReader(&buf).ReadAll()
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 2 || records[1][4] != "t1" || records[1][7] != `{"attempt":1}` {
			t.Errorf("records = %v", records)
		}
	})

	t.Run("unsupported format", func(t *testing.T) {
		if err := WriteLogEntries(&bytes.Buffer{}, entries, "xml"); err == nil {
			t.Error("expected error for unsupported format")
		}
	})
}
