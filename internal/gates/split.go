package gates

import (
	"time"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// SplitGate replaces issues the advisor asked to split with their
// sub-issues. Splits are local replans and do not consume replan budget.
type SplitGate struct {
	describer *Describer
	bus       *event.Bus
	logger    *logging.Logger
}

// NewSplitGate creates a SplitGate. describer and bus may be nil.
func NewSplitGate(describer *Describer, bus *event.Bus, logger *logging.Logger) *SplitGate {
	return &SplitGate{describer: describer, bus: bus, logger: logging.OrNop(logger)}
}

// Apply absorbs every FAILED_NEEDS_SPLIT result. A split the graph rejects
// (a cycle, an unknown name, no sub-issues) skips the original issue and
// its dependents instead. It reports whether the graph changed, in which
// case levels were recomputed.
func (g *SplitGate) Apply(state *dag.DAGState, lr dag.LevelResult) bool {
	changed := false
	for _, r := range lr.FailedWith(dag.OutcomeFailedNeedsSplit) {
		logger := g.logger.WithLevel(lr.Level).WithIssue(r.Issue)

		var subs []dag.Issue
		rationale := ""
		if r.Split != nil {
			subs = r.Split.SubIssues
			rationale = r.Split.Rationale
		}

		decision, err := dag.SplitDecision(state.AllIssues, r.Issue, subs, rationale)
		if err == nil {
			err = dag.ApplyReplan(state, decision)
		}
		rec := dag.ReplanRecord{
			Level:       lr.Level,
			TriggeredBy: []string{r.Issue},
			Decision:    decision,
			Local:       true,
			Timestamp:   time.Now(),
		}
		if err != nil {
			rec.Error = err.Error()
			state.RecordReplan(rec)
			skipped := dag.SkipIssue(state, r.Issue, "split rejected: "+err.Error())
			logger.Warn("split rejected, skipping issue", "error", err.Error(), "skipped", skipped)
			continue
		}

		state.RecordReplan(rec)
		changed = true
		if err := g.describer.Write(decision.NewIssues...); err != nil {
			logger.Warn("failed to write sub-issue descriptions", "error", err.Error())
		}
		names := make([]string, 0, len(decision.NewIssues))
		for _, iss := range decision.NewIssues {
			names = append(names, iss.Name)
		}
		logger.Info("issue split", "sub_issues", names)
		g.bus.Publish(event.NewReplanAppliedEvent(string(decision.Action), rec.TriggeredBy, true, rationale))
	}
	return changed
}
