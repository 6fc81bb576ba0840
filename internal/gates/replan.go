package gates

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// ReplanOutcome tells the scheduler what to do after the replan gate.
type ReplanOutcome struct {
	// Restart is set after a structural replan; the level loop resumes at 0.
	Restart bool
	// Abort is set when the replanner stopped the build.
	Abort bool
	// Skipped lists issues skipped because of the failures handled here.
	Skipped []string
}

// ReplanGate consults the outer replanner about unrecoverable and
// escalated failures.
type ReplanGate struct {
	caps      *capability.Dispatcher
	cfg       dag.ExecutionConfig
	describer *Describer
	bus       *event.Bus
	logger    *logging.Logger
}

// NewReplanGate creates a ReplanGate. describer and bus may be nil.
func NewReplanGate(caps *capability.Dispatcher, cfg dag.ExecutionConfig, describer *Describer, bus *event.Bus, logger *logging.Logger) *ReplanGate {
	return &ReplanGate{caps: caps, cfg: cfg, describer: describer, bus: bus, logger: logging.OrNop(logger)}
}

// Apply handles lr's FAILED_UNRECOVERABLE and FAILED_ESCALATED results.
//
// With replanning disabled or the budget spent, dependents of the failures
// are skipped without asking. Otherwise the replanner decides: ABORT stops
// the build, CONTINUE skips dependents, MODIFY_DAG and REDUCE_SCOPE rewrite
// the graph and restart the level loop. Every consulted decision costs one
// unit of budget. A replanner failure, or a rewrite the graph rejects, is
// handled like CONTINUE. Under CONTINUE the failed issue keeps its FAILED
// result and only its dependents are marked skipped.
func (g *ReplanGate) Apply(ctx context.Context, state *dag.DAGState, lr dag.LevelResult) ReplanOutcome {
	failed := lr.FailedWith(dag.OutcomeFailedUnrecoverable, dag.OutcomeFailedEscalated)
	if len(failed) == 0 {
		return ReplanOutcome{}
	}
	logger := g.logger.WithLevel(lr.Level)

	names := make([]string, 0, len(failed))
	var escalations []string
	for _, r := range failed {
		names = append(names, r.Issue)
		if r.Escalation != nil {
			escalations = append(escalations, fmt.Sprintf("%s: %s (%s)", r.Issue, r.Escalation.Reason, r.Escalation.Diagnosis))
		}
	}

	if !g.cfg.EnableReplanning || state.ReplanCount >= g.cfg.MaxReplans {
		logger.Info("replanning unavailable, skipping dependents",
			"enabled", g.cfg.EnableReplanning, "replans", state.ReplanCount, "failed", names)
		return ReplanOutcome{Skipped: skipDependents(state, failed)}
	}

	rec := dag.ReplanRecord{Level: lr.Level, TriggeredBy: names, Timestamp: time.Now()}
	decision, err := g.caps.Replan(ctx, capability.ReplanRequest{
		DAG:          state.Context(),
		Issues:       state.AllIssues,
		Failed:       failed,
		Escalations:  escalations,
		ReplanCount:  state.ReplanCount,
		MaxReplans:   g.cfg.MaxReplans,
		CurrentLevel: state.CurrentLevel,
	})
	if err != nil {
		logger.Warn("replanner failed, continuing without it", "error", err.Error())
		rec.Decision = dag.ReplanDecision{Action: dag.ReplanContinue, Rationale: "replanner unavailable"}
		rec.Error = err.Error()
		state.RecordReplan(rec)
		return ReplanOutcome{Skipped: skipDependents(state, failed)}
	}

	rec.Decision = decision
	logger.Info("replanner decided", "action", string(decision.Action), "rationale", decision.Rationale)

	switch decision.Action {
	case dag.ReplanAbort:
		state.ReplanCount++
		state.Aborted = true
		state.AbortReason = decision.Rationale
		state.RecordReplan(rec)
		g.publish(decision, names)
		return ReplanOutcome{Abort: true}

	case dag.ReplanModifyDAG, dag.ReplanReduceScope:
		if err := dag.ApplyReplan(state, decision); err != nil {
			logger.Warn("replan rejected by graph validation", "error", err.Error())
			rec.Error = err.Error()
			state.ReplanCount++
			state.RecordReplan(rec)
			return ReplanOutcome{Skipped: skipDependents(state, failed)}
		}
		state.ReplanCount++
		state.RecordReplan(rec)
		if err := g.describer.Write(append(decision.NewIssues, decision.UpdatedIssues...)...); err != nil {
			logger.Warn("failed to write issue descriptions", "error", err.Error())
		}
		g.publish(decision, names)
		return ReplanOutcome{Restart: true}

	default:
		if decision.Action != dag.ReplanContinue {
			logger.Warn("unknown replan action, treating as CONTINUE", "action", string(decision.Action))
			rec.Decision.Action = dag.ReplanContinue
		}
		state.ReplanCount++
		state.RecordReplan(rec)
		g.publish(rec.Decision, names)
		return ReplanOutcome{Skipped: skipDependents(state, failed)}
	}
}

func (g *ReplanGate) publish(d dag.ReplanDecision, triggeredBy []string) {
	g.bus.Publish(event.NewReplanAppliedEvent(string(d.Action), triggeredBy, false, d.Rationale))
}

// skipDependents skips everything downstream of each failure and annotates
// it with the failure.
func skipDependents(state *dag.DAGState, failed []dag.IssueResult) []string {
	var skipped []string
	for _, r := range failed {
		note := fmt.Sprintf("dependency %q failed (%s)", r.Issue, r.Outcome)
		if r.Error != "" {
			note += ": " + r.Error
		}
		skipped = append(skipped, dag.SkipWithDependents(state, r.Issue, note)...)
	}
	return skipped
}
