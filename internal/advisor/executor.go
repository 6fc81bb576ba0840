// Package advisor runs one issue end to end: it drives the coding loop and,
// when an attempt fails, asks the issue advisor how to adapt.
//
// An issue gets at most max_advisor_invocations+1 coding-loop rounds. The
// advisor can relax the acceptance criteria, suggest a new approach, accept
// the work with debt, ask for a split, or escalate to the replanner. When an
// attempt dies on a transient error (timeout, transport) the retry advisor
// is asked first; both advisors draw on the same invocation budget.
package advisor

import (
	"context"
	"slices"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/codingloop"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/telemetry"
)

// Debt kinds recorded by the advisor loop.
const (
	DebtDroppedCriterion     = "dropped_criterion"
	DebtMissingFunctionality = "missing_functionality"
)

// CodingLoop runs one coding-loop attempt.
type CodingLoop interface {
	Run(ctx context.Context, iss dag.Issue) (dag.IssueResult, error)
}

var _ CodingLoop = (*codingloop.Loop)(nil)

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = logging.OrNop(l) }
}

// WithSink attaches an observability sink.
func WithSink(s event.Sink) Option {
	return func(e *Executor) { e.sink = s }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// Executor is the per-issue executor. It is safe for concurrent use.
type Executor struct {
	loop   CodingLoop
	caps   *capability.Dispatcher
	cfg    dag.ExecutionConfig
	logger *logging.Logger
	sink   event.Sink
	tracer trace.Tracer
	now    func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(loop CodingLoop, caps *capability.Dispatcher, cfg dag.ExecutionConfig, opts ...Option) *Executor {
	e := &Executor{
		loop:   loop,
		caps:   caps,
		cfg:    cfg,
		logger: logging.NopLogger(),
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// run carries the bookkeeping of one Execute call.
type run struct {
	original    dag.Issue
	current     dag.Issue
	attempts    int
	invocations int
	adaptations []dag.IssueAdaptation
	debt        []dag.DebtItem
	history     []dag.IterationRecord
}

// Execute runs iss to a terminal outcome. It never returns FAILED_RETRYABLE.
func (e *Executor) Execute(ctx context.Context, iss dag.Issue, dagCtx dag.DAGContext) dag.IssueResult {
	ctx, span := e.tracer.Start(ctx, "issue."+iss.Name,
		trace.WithAttributes(attribute.String("issue", iss.Name)))
	defer span.End()

	logger := e.logger.WithIssue(iss.Name)
	r := &run{original: iss, current: iss.Clone()}
	rounds := e.cfg.MaxAdvisorInvocations + 1

	var last dag.IssueResult
	for round := 1; round <= rounds; round++ {
		res, loopErr := e.loop.Run(ctx, r.current)
		r.attempts += res.Attempts
		r.history = append(r.history, res.IterationHistory...)
		last = res

		if res.Outcome.IsSuccess() {
			if round > 1 {
				logger.Info("issue recovered after adaptation", "round", round)
			}
			return e.finish(span, r, last)
		}
		if ctx.Err() != nil || !e.cfg.EnableIssueAdvisor || r.invocations >= e.cfg.MaxAdvisorInvocations {
			return e.finish(span, r, last)
		}

		if loopErr != nil && errors.IsRetryable(loopErr) {
			if e.consultRetryAdvisor(ctx, r, round, loopErr, dagCtx, logger) {
				continue
			}
			if r.invocations >= e.cfg.MaxAdvisorInvocations {
				return e.finish(span, r, last)
			}
		}

		r.invocations++
		decision, err := e.caps.IssueAdvisor(ctx, capability.AdvisorRequest{
			Issue:            r.current,
			Round:            round,
			Failure:          failureText(last),
			IterationHistory: last.IterationHistory,
			PriorAdaptations: slices.Clone(r.adaptations),
			DAG:              dagCtx,
		})
		if err != nil {
			logger.Warn("issue advisor failed, keeping last result", "error", err.Error())
			return e.finish(span, r, last)
		}

		logger.Info("issue advisor decided", "round", round, "action", string(decision.Action))
		event.Note(e.sink, "advisor decision", map[string]string{
			"issue":  iss.Name,
			"round":  strconv.Itoa(round),
			"action": string(decision.Action),
		})

		adaptation := dag.IssueAdaptation{
			Issue:            iss.Name,
			Round:            round,
			Type:             decision.Action,
			OriginalCriteria: slices.Clone(r.current.AcceptanceCriteria),
			Diagnosis:        decision.Diagnosis,
			Rationale:        decision.Rationale,
			NewApproach:      decision.NewApproach,
			Timestamp:        e.now(),
		}

		switch decision.Action {
		case dag.AdvisorRetryModified:
			if len(decision.ModifiedCriteria) == 0 {
				logger.Warn("RETRY_MODIFIED without criteria, keeping current ones")
				adaptation.ModifiedCriteria = slices.Clone(r.current.AcceptanceCriteria)
				r.adaptations = append(r.adaptations, adaptation)
				continue
			}
			adaptation.ModifiedCriteria = slices.Clone(decision.ModifiedCriteria)
			r.adaptations = append(r.adaptations, adaptation)
			for _, c := range r.current.AcceptanceCriteria {
				if !slices.Contains(decision.ModifiedCriteria, c) {
					r.debt = append(r.debt, dag.DebtItem{
						Issue:       iss.Name,
						Kind:        DebtDroppedCriterion,
						Description: c,
						Severity:    dag.DebtMedium,
					})
				}
			}
			r.current.AcceptanceCriteria = slices.Clone(decision.ModifiedCriteria)

		case dag.AdvisorRetryApproach:
			r.adaptations = append(r.adaptations, adaptation)
			r.current.ApproachGuidance = decision.NewApproach
			r.current.PriorError = failureText(last)

		case dag.AdvisorAcceptWithDebt:
			r.adaptations = append(r.adaptations, adaptation)
			for _, missing := range decision.MissingFunctionality {
				r.debt = append(r.debt, dag.DebtItem{
					Issue:       iss.Name,
					Kind:        DebtMissingFunctionality,
					Description: missing,
					Severity:    dag.DebtMedium,
				})
			}
			last.Outcome = dag.OutcomeCompletedWithDebt
			last.Error = ""
			if last.Summary == "" {
				last.Summary = decision.Rationale
			}
			return e.finish(span, r, last)

		case dag.AdvisorSplit:
			r.adaptations = append(r.adaptations, adaptation)
			last.Outcome = dag.OutcomeFailedNeedsSplit
			last.Split = &dag.SplitRequest{
				Rationale: firstNonEmpty(decision.Rationale, decision.Diagnosis),
				SubIssues: decision.SubIssues,
			}
			return e.finish(span, r, last)

		case dag.AdvisorEscalateToReplan:
			r.adaptations = append(r.adaptations, adaptation)
			last.Outcome = dag.OutcomeFailedEscalated
			last.Escalation = &dag.Escalation{
				Diagnosis: decision.Diagnosis,
				Reason:    firstNonEmpty(decision.EscalationReason, decision.Rationale),
			}
			return e.finish(span, r, last)

		default:
			logger.Warn("issue advisor returned unknown action", "action", string(decision.Action))
			return e.finish(span, r, last)
		}
	}
	return e.finish(span, r, last)
}

// consultRetryAdvisor reports whether the next round should run with the
// retry advisor's modified context.
func (e *Executor) consultRetryAdvisor(ctx context.Context, r *run, round int, loopErr error, dagCtx dag.DAGContext, logger *logging.Logger) bool {
	r.invocations++
	advice, err := e.caps.RetryAdvisor(ctx, capability.RetryAdviceRequest{
		Issue:   r.current,
		Error:   loopErr.Error(),
		Attempt: round,
		DAG:     dagCtx,
	})
	if err != nil {
		logger.Warn("retry advisor failed", "error", err.Error())
		return false
	}
	if !advice.ShouldRetry {
		logger.Info("retry advisor declined", "diagnosis", advice.Diagnosis)
		return false
	}

	r.adaptations = append(r.adaptations, dag.IssueAdaptation{
		Issue:       r.original.Name,
		Round:       round,
		Type:        dag.AdvisorRetryAdvised,
		Diagnosis:   advice.Diagnosis,
		NewApproach: advice.ModifiedContext,
		Timestamp:   e.now(),
	})
	if advice.ModifiedContext != "" {
		r.current.ApproachGuidance = advice.ModifiedContext
	}
	r.current.PriorError = loopErr.Error()
	logger.Info("retrying after transient failure", "round", round)
	return true
}

func (e *Executor) finish(span trace.Span, r *run, res dag.IssueResult) dag.IssueResult {
	res.Issue = r.original.Name
	if res.BranchName == "" {
		res.BranchName = r.original.BranchName
	}
	if res.RepoName == "" {
		res.RepoName = r.original.TargetRepo
	}
	res.Attempts = r.attempts
	res.AdvisorInvocations = r.invocations
	res.Adaptations = r.adaptations
	res.DebtItems = append(res.DebtItems, r.debt...)
	res.IterationHistory = r.history
	span.SetAttributes(
		attribute.String("issue.outcome", string(res.Outcome)),
		attribute.Int("issue.attempts", res.Attempts),
		attribute.Int("issue.advisor_invocations", res.AdvisorInvocations),
	)
	return res
}

func failureText(res dag.IssueResult) string {
	switch {
	case res.Error != "" && res.Summary != "":
		return res.Error + ": " + res.Summary
	case res.Error != "":
		return res.Error
	}
	return res.Summary
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
