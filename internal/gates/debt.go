package gates

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// DebtGate folds accepted debt and advisor adaptations into the state.
type DebtGate struct {
	logger *logging.Logger
}

// NewDebtGate creates a DebtGate.
func NewDebtGate(logger *logging.Logger) *DebtGate {
	return &DebtGate{logger: logging.OrNop(logger)}
}

// Apply records the debt carried by every successful result and appends
// every result's adaptations to the ledger. Each transitive dependent of an
// issue that shipped with debt gets a note describing the gap. It returns
// the number of debt items recorded.
func (g *DebtGate) Apply(state *dag.DAGState, lr dag.LevelResult) int {
	recorded := 0
	for _, bucket := range [][]dag.IssueResult{lr.Completed, lr.Failed, lr.Skipped} {
		for _, r := range bucket {
			state.AdaptationHistory = append(state.AdaptationHistory, r.Adaptations...)
		}
	}

	for _, r := range lr.Completed {
		if len(r.DebtItems) == 0 {
			continue
		}
		state.AccumulatedDebt = append(state.AccumulatedDebt, r.DebtItems...)
		recorded += len(r.DebtItems)

		note := debtNote(r)
		for _, dep := range dag.TransitiveDependents(state.AllIssues, r.Issue) {
			if iss, ok := state.Issue(dep); ok {
				iss.DebtNotes = append(iss.DebtNotes, note)
			}
		}
		g.logger.WithLevel(lr.Level).Info("debt recorded",
			"issue", r.Issue, "items", len(r.DebtItems), "outcome", string(r.Outcome))
	}
	return recorded
}

func debtNote(r dag.IssueResult) string {
	descs := make([]string, 0, len(r.DebtItems))
	for _, d := range r.DebtItems {
		descs = append(descs, fmt.Sprintf("%s (%s)", d.Description, d.Severity))
	}
	return fmt.Sprintf("dependency %q shipped without: %s", r.Issue, strings.Join(descs, "; "))
}
