package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View build logs",
	Long: `View and filter the engine log of a build, including rotated backups.

Examples:
  # Show the last 50 entries
  issueforge logs --artifacts .issueforge/builds/3f2a9c1d

  # Everything one issue logged at warn or above
  issueforge logs --artifacts DIR --issue auth-api --level warn -n 0

  # Entries from the last hour as JSON lines
  issueforge logs --artifacts DIR --since 1h --format json

  # Follow the log while a build runs
  issueforge logs --artifacts DIR -f`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsArtifacts string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsIssue     string
	logsPhase     string
	logsDAGLevel  int
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsArtifacts, "artifacts", "", "Artifacts directory of the build")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsIssue, "issue", "", "Only entries for this issue")
	logsCmd.Flags().StringVar(&logsPhase, "phase", "", "Only entries for this phase (e.g. coder, merge)")
	logsCmd.Flags().IntVar(&logsDAGLevel, "dag-level", -1, "Only entries for this DAG level")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format: text or json")
	_ = logsCmd.MarkFlagRequired("artifacts")
}

func logsFilter() (logging.LogFilter, error) {
	f := logging.LogFilter{
		Issue:           logsIssue,
		Phase:           logsPhase,
		MessageContains: logsGrep,
	}
	if logsLevel != "" {
		level := strings.ToUpper(logsLevel)
		if !slices.Contains(logging.ValidLevels(), level) {
			return f, fmt.Errorf("invalid level %q (valid: %s)", logsLevel, strings.Join(logging.ValidLevels(), ", "))
		}
		f.MinLevel = level
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("invalid duration format: %w", err)
		}
		f.Since = time.Now().Add(-d)
	}
	if logsDAGLevel >= 0 {
		lvl := logsDAGLevel
		f.DAGLevel = &lvl
	}
	return f, nil
}

func runLogs(cmd *cobra.Command, _ []string) error {
	filter, err := logsFilter()
	if err != nil {
		return err
	}
	dir := dag.ExecutionDir(logsArtifacts)
	out := cmd.OutOrStdout()

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return followLogs(ctx, out, dir, filter)
	}

	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		return fmt.Errorf("read logs: %w", err)
	}
	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
		return nil
	}
	return logging.WriteEntries(out, entries, logsFormat)
}

// followLogs prints entries appended to engine.log until ctx is done.
func followLogs(ctx context.Context, out io.Writer, dir string, filter logging.LogFilter) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	path := filepath.Join(dir, logging.LogFileName)
	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	fmt.Fprintf(out, "Following logs... (Ctrl+C to stop)\n\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != path {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// Rotated: start over on the new file.
				offset = 0
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				next, err := printFrom(out, path, offset, filter)
				if err != nil {
					return err
				}
				offset = next
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch logs: %w", err)
		}
	}
}

// printFrom writes the complete lines of path after offset and returns the
// offset just past the last complete line.
func printFrom(out io.Writer, path string, offset int64, filter logging.LogFilter) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return offset, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("failed to seek: %w", err)
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			// A partial trailing line is read again on the next write.
			return offset, nil
		}
		offset += int64(len(line))
		entry, perr := logging.ParseLogEntry(strings.TrimSpace(line))
		if perr != nil {
			continue
		}
		if matched := logging.FilterLogs([]logging.LogEntry{entry}, filter); len(matched) > 0 {
			if err := logging.WriteEntries(out, matched, logsFormat); err != nil {
				return offset, err
			}
		}
	}
}
