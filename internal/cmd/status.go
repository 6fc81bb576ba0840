package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/issueforge/internal/dag"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of a build",
	Long: `Show the checkpointed state of a build: level progress, every issue's
outcome, merges, replans, and accepted debt.

With --watch the summary is redrawn whenever the checkpoint changes.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var (
	statusArtifacts string
	statusJSON      bool
	statusWatch     bool
)

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusArtifacts, "artifacts", "", "Artifacts directory of the build")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the checkpoint summary as JSON")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "Redraw on every checkpoint write")
	_ = statusCmd.MarkFlagRequired("artifacts")
}

// statusOutput is the --json document.
type statusOutput struct {
	BuildID           string             `json:"build_id"`
	CurrentLevel      int                `json:"current_level"`
	TotalLevels       int                `json:"total_levels"`
	IntegrationBranch string             `json:"integration_branch,omitempty"`
	InFlight          []string           `json:"in_flight,omitempty"`
	Summary           dag.Summary        `json:"summary"`
	Issues            []issueStatus      `json:"issues"`
	Replans           []dag.ReplanRecord `json:"replans,omitempty"`
}

type issueStatus struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cp := dag.NewCheckpointer(statusArtifacts)
	out := cmd.OutOrStdout()

	show := func() error {
		state, err := cp.Load()
		if err != nil {
			return err
		}
		if statusJSON {
			return writeStatusJSON(out, state)
		}
		fmt.Fprintln(out, renderStatus(state, terminalWidth()))
		return nil
	}

	if !statusWatch {
		return show()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchCheckpoint(ctx, cp, func() {
		if !statusJSON {
			fmt.Fprint(out, "\033[H\033[2J")
		}
		if err := show(); err != nil {
			fmt.Fprintln(out, errorStyle.Render(err.Error()))
		}
	})
}

// watchCheckpoint calls redraw once and then after every write to the
// checkpoint file until ctx is done.
func watchCheckpoint(ctx context.Context, cp *dag.Checkpointer, redraw func()) error {
	if err := os.MkdirAll(cp.Dir(), 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// The checkpoint is replaced by rename, so watch the directory.
	if err := watcher.Add(cp.Dir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cp.Dir(), err)
	}

	redraw()
	target := filepath.Base(cp.Path())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				redraw()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch checkpoint: %w", err)
		}
	}
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 100
	}
	return width
}

func buildStatus(state *dag.DAGState) statusOutput {
	out := statusOutput{
		BuildID:           state.BuildID,
		CurrentLevel:      state.CurrentLevel,
		TotalLevels:       len(state.Levels),
		IntegrationBranch: state.IntegrationBranch,
		InFlight:          state.InFlight,
		Summary:           state.Summary(),
		Replans:           state.ReplanHistory,
	}
	for lvl, names := range state.Levels {
		for _, name := range names {
			st := issueStatus{Name: name, Level: lvl, Outcome: "PENDING"}
			if r, ok := state.Result(name); ok {
				st.Outcome = string(r.Outcome)
				st.Attempts = r.Attempts
				st.Error = r.Error
			}
			out.Issues = append(out.Issues, st)
		}
	}
	return out
}

func writeStatusJSON(w io.Writer, state *dag.DAGState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildStatus(state))
}

// renderStatus draws the human summary, truncating error text to width.
func renderStatus(state *dag.DAGState, width int) string {
	st := buildStatus(state)
	// Border and padding take four columns.
	inner := width - 4
	var b strings.Builder

	b.WriteString(titleStyle.Render("Build "+st.BuildID) + "\n\n")
	level := fmt.Sprintf("%d/%d", min(st.CurrentLevel+1, st.TotalLevels), st.TotalLevels)
	if st.CurrentLevel >= st.TotalLevels {
		level = fmt.Sprintf("done (%d levels)", st.TotalLevels)
	}
	b.WriteString(labelStyle.Render("Level") + level + "\n")
	if st.IntegrationBranch != "" {
		b.WriteString(labelStyle.Render("Branch") + st.IntegrationBranch + "\n")
	}
	if len(st.InFlight) > 0 {
		b.WriteString(labelStyle.Render("In flight") + strings.Join(st.InFlight, ", ") + "\n")
	}
	b.WriteString(labelStyle.Render("Result") + st.Summary.Rationale + "\n\n")

	nameWidth := 12
	for _, iss := range st.Issues {
		nameWidth = max(nameWidth, lipgloss.Width(iss.Name))
	}
	nameStyle := lipgloss.NewStyle().Width(nameWidth + 2)
	outcomeCol := lipgloss.NewStyle().Width(22)

	current := -1
	for _, iss := range st.Issues {
		if iss.Level != current {
			current = iss.Level
			b.WriteString(mutedStyle.Render(fmt.Sprintf("level %d", current)) + "\n")
		}
		o := dag.IssueOutcome(iss.Outcome)
		line := "  " + nameStyle.Render(iss.Name) + outcomeCol.Render(outcomeStyle(o).Render(iss.Outcome))
		if iss.Error != "" {
			room := inner - lipgloss.Width(line) - 1
			if room > 3 {
				line += " " + mutedStyle.Render(truncate(iss.Error, room))
			}
		}
		b.WriteString(line + "\n")
	}

	if len(st.Replans) > 0 {
		b.WriteString("\n" + titleStyle.Render("Replans") + "\n")
		for _, r := range st.Replans {
			b.WriteString(fmt.Sprintf("  %s %s\n", warningStyle.Render(string(r.Decision.Action)), truncate(r.Decision.Rationale, max(inner-20, 10))))
		}
	}
	if len(state.AccumulatedDebt) > 0 {
		b.WriteString("\n" + labelStyle.Render("Debt") + fmt.Sprintf("%d accepted items\n", len(state.AccumulatedDebt)))
	}

	return boxStyle.MaxWidth(width).Render(strings.TrimRight(b.String(), "\n"))
}

// truncate fits s on one line of n visual columns.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if lipgloss.Width(s) <= n {
		return s
	}
	return ansi.Truncate(s, n, "...")
}
