package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/event"
)

// progress prints build events as they happen.
type progress struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out}
}

func (p *progress) subscribe(bus *event.Bus) {
	bus.Subscribe(event.TypeBuildStarted, p.handle)
	bus.Subscribe(event.TypeLevelStarted, p.handle)
	bus.Subscribe(event.TypeIssueFinished, p.handle)
	bus.Subscribe(event.TypeMergeCompleted, p.handle)
	bus.Subscribe(event.TypeReplanApplied, p.handle)
	bus.Subscribe(event.TypeLevelCompleted, p.handle)
	bus.Subscribe(event.TypeBuildCompleted, p.handle)
}

func (p *progress) handle(ev event.Event) {
	line := progressLine(ev)
	if line == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func progressLine(ev event.Event) string {
	switch e := ev.(type) {
	case event.BuildStartedEvent:
		if e.Resumed {
			return titleStyle.Render(fmt.Sprintf("Resuming build %s at level %d/%d", e.BuildID, e.StartLevel+1, e.Levels))
		}
		return titleStyle.Render(fmt.Sprintf("Build %s: %d issues in %d levels", e.BuildID, e.Issues, e.Levels))
	case event.LevelStartedEvent:
		return fmt.Sprintf("%s %s", titleStyle.Render(fmt.Sprintf("Level %d", e.Level)), strings.Join(e.Issues, ", "))
	case event.IssueFinishedEvent:
		o := dag.IssueOutcome(e.Outcome)
		return fmt.Sprintf("  %-24s %s %s", e.Issue, outcomeStyle(o).Render(e.Outcome),
			mutedStyle.Render(fmt.Sprintf("(%d attempts, %d advisor)", e.Attempts, e.AdvisorInvocations)))
	case event.MergeCompletedEvent:
		line := fmt.Sprintf("  merged %d", len(e.Merged))
		if len(e.Unmerged) > 0 {
			line += ", " + warningStyle.Render("unmerged "+strings.Join(e.Unmerged, ", "))
		}
		if e.TestsPassed != nil {
			if *e.TestsPassed {
				line += ", " + successStyle.Render("integration tests passed")
			} else {
				line += ", " + errorStyle.Render("integration tests failed")
			}
		}
		return mutedStyle.Render(line)
	case event.ReplanAppliedEvent:
		return warningStyle.Render(fmt.Sprintf("  replan %s (%s): %s", e.Action, strings.Join(e.TriggeredBy, ", "), e.Rationale))
	case event.LevelCompletedEvent:
		return mutedStyle.Render(fmt.Sprintf("  level %d done in %s: %d completed, %d failed, %d skipped",
			e.Level, e.Duration.Round(time.Millisecond), e.Completed, e.Failed, e.Skipped))
	case event.BuildCompletedEvent:
		style := successStyle
		switch {
		case e.Aborted || e.Failed > 0:
			style = errorStyle
		case e.Skipped > 0:
			style = warningStyle
		}
		return style.Render(fmt.Sprintf("Build %s finished in %s: %s", e.BuildID, e.Duration.Round(time.Millisecond), e.Rationale))
	}
	return ""
}
