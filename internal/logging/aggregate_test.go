package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("failed to write log: %v", err)
	}
}

func TestParseLogEntry(t *testing.T) {
	line := `{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"issue finished","build_id":"ab12","dag_level":1,"issue":"core","outcome":"COMPLETED"}`

	e, err := ParseLogEntry(line)
	if err != nil {
		t.Fatalf("ParseLogEntry failed: %v", err)
	}
	if e.Message != "issue finished" {
		t.Errorf("Message = %q, want %q", e.Message, "issue finished")
	}
	if e.Issue != "core" {
		t.Errorf("Issue = %q, want %q", e.Issue, "core")
	}
	if e.DAGLevel == nil || *e.DAGLevel != 1 {
		t.Errorf("DAGLevel = %v, want 1", e.DAGLevel)
	}
	if e.Attrs["outcome"] != "COMPLETED" {
		t.Errorf("Attrs[outcome] = %v, want COMPLETED", e.Attrs["outcome"])
	}

	if _, err := ParseLogEntry("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestAggregateLogs(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, filepath.Join(dir, LogFileName+".1"),
		`{"time":"2026-01-02T10:00:00Z","level":"INFO","msg":"first"}`,
	)
	writeLog(t, filepath.Join(dir, LogFileName),
		`{"time":"2026-01-02T10:00:02Z","level":"WARN","msg":"third","issue":"api"}`,
		`garbage`,
		`{"time":"2026-01-02T10:00:01Z","level":"DEBUG","msg":"second"}`,
	)

	entries, err := AggregateLogs(dir)
	if err != nil {
		t.Fatalf("AggregateLogs failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Message != want {
			t.Errorf("entries[%d].Message = %q, want %q", i, entries[i].Message, want)
		}
	}

	if _, err := AggregateLogs(t.TempDir()); err == nil {
		t.Error("expected error for directory without logs")
	}
}

func TestFilterLogs(t *testing.T) {
	one := 1
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	entries := []LogEntry{
		{Timestamp: base, Level: LevelDebug, Message: "setup", Phase: "merge"},
		{Timestamp: base.Add(time.Minute), Level: LevelWarn, Message: "review failed", Issue: "core", DAGLevel: &one},
		{Timestamp: base.Add(2 * time.Minute), Level: LevelError, Message: "merge conflict", Issue: "api", Phase: "merge"},
	}

	tests := []struct {
		name   string
		filter LogFilter
		want   int
	}{
		{"empty", LogFilter{}, 3},
		{"min level", LogFilter{MinLevel: "warn"}, 2},
		{"issue", LogFilter{Issue: "core"}, 1},
		{"phase", LogFilter{Phase: "merge"}, 2},
		{"dag level", LogFilter{DAGLevel: &one}, 1},
		{"since", LogFilter{Since: base.Add(90 * time.Second)}, 1},
		{"message", LogFilter{MessageContains: "conflict"}, 1},
		{"combined", LogFilter{MinLevel: "error", Phase: "merge"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(FilterLogs(entries, tt.filter)); got != tt.want {
				t.Errorf("len(FilterLogs()) = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteEntries(t *testing.T) {
	two := 2
	entries := []LogEntry{{
		Timestamp: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
		Level:     LevelInfo,
		Message:   "level completed",
		DAGLevel:  &two,
		Issue:     "core",
	}}

	var buf bytes.Buffer
	if err := WriteEntries(&buf, entries, "text"); err != nil {
		t.Fatalf("WriteEntries(text) failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(level=2, issue=core)") {
		t.Errorf("text output = %q, missing context", buf.String())
	}

	buf.Reset()
	if err := WriteEntries(&buf, entries, "json"); err != nil {
		t.Fatalf("WriteEntries(json) failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"dag_level":2`) {
		t.Errorf("json output = %q, missing dag_level", buf.String())
	}

	if err := WriteEntries(&buf, entries, "csv"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
