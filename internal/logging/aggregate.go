package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed engine log line.
type LogEntry struct {
	Timestamp time.Time      `json:"time"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	BuildID   string         `json:"build_id,omitempty"`
	Issue     string         `json:"issue,omitempty"`
	Phase     string         `json:"phase,omitempty"`
	DAGLevel  *int           `json:"dag_level,omitempty"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Empty fields match everything; set fields
// are combined with AND.
type LogFilter struct {
	// MinLevel keeps entries at or above this severity.
	MinLevel        string
	Since           time.Time
	Issue           string
	Phase           string
	DAGLevel        *int
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// AggregateLogs reads engine.log and its rotated backups from dir and
// returns every parseable entry sorted by timestamp. Malformed lines are
// skipped.
func AggregateLogs(dir string) ([]LogEntry, error) {
	base := filepath.Join(dir, LogFileName)
	paths, _ := filepath.Glob(base + ".*")
	paths = append(paths, base)

	var entries []LogEntry
	found := false
	for _, p := range paths {
		fileEntries, err := readLogFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		found = true
		entries = append(entries, fileEntries...)
	}
	if !found {
		return nil, fmt.Errorf("no engine log found in %s", dir)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func readLogFile(path string) ([]LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := ParseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return entries, nil
}

// ParseLogEntry decodes one JSON log line.
func ParseLogEntry(line string) (LogEntry, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				entry.Timestamp, _ = time.Parse(time.RFC3339Nano, s)
			}
		case "msg":
			entry.Message, _ = v.(string)
		case "build_id":
			entry.BuildID, _ = v.(string)
		case "issue":
			entry.Issue, _ = v.(string)
		case "phase":
			entry.Phase, _ = v.(string)
		case "level":
			entry.Level, _ = v.(string)
		case "dag_level":
			if n, ok := v.(json.Number); ok {
				if i, err := n.Int64(); err == nil {
					idx := int(i)
					entry.DAGLevel = &idx
				}
			}
		default:
			entry.Attrs[k] = v
		}
	}
	return entry, nil
}

// FilterLogs returns the entries matching filter.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
	}
	return out
}

func matchesFilter(e LogEntry, f LogFilter) bool {
	if f.MinLevel != "" {
		want, ok1 := levelOrder[strings.ToUpper(f.MinLevel)]
		got, ok2 := levelOrder[e.Level]
		if ok1 && ok2 && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if f.Issue != "" && e.Issue != f.Issue {
		return false
	}
	if f.Phase != "" && e.Phase != f.Phase {
		return false
	}
	if f.DAGLevel != nil && (e.DAGLevel == nil || *e.DAGLevel != *f.DAGLevel) {
		return false
	}
	if f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains) {
		return false
	}
	return true
}

// WriteEntries renders entries to w as "json" (one object per line) or
// "text".
func WriteEntries(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	case "", "text":
		for _, e := range entries {
			if _, err := fmt.Fprintln(w, FormatEntry(e)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: json, text)", format)
	}
}

// FormatEntry renders an entry as a single human-readable line:
// [TIME] LEVEL message (context) {attrs}
func FormatEntry(e LogEntry) string {
	parts := []string{
		fmt.Sprintf("[%s]", e.Timestamp.Format("2006-01-02 15:04:05.000")),
		fmt.Sprintf("%-5s", e.Level),
		e.Message,
	}

	var ctx []string
	if e.DAGLevel != nil {
		ctx = append(ctx, fmt.Sprintf("level=%d", *e.DAGLevel))
	}
	if e.Issue != "" {
		ctx = append(ctx, "issue="+e.Issue)
	}
	if e.Phase != "" {
		ctx = append(ctx, "phase="+e.Phase)
	}
	if len(ctx) > 0 {
		parts = append(parts, "("+strings.Join(ctx, ", ")+")")
	}
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}
