// Package codingloop runs one issue through iterative coder and review
// cycles until the work is approved, blocked, or the iteration cap is hit.
//
// Issues flagged with guidance.needs_deeper_qa take the QA path: QA and the
// reviewer run concurrently and a synthesizer makes the call. Everyone else
// takes the reviewer-only path. Review, QA, and synthesis failures fall back
// to safe defaults; a coder failure ends the attempt.
package codingloop

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/memory"
)

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(lp *Loop) { lp.logger = logging.OrNop(l) }
}

// WithSink attaches an observability sink.
func WithSink(s event.Sink) Option {
	return func(lp *Loop) { lp.sink = s }
}

// WithMaxIterations overrides the iteration cap.
func WithMaxIterations(n int) Option {
	return func(lp *Loop) {
		if n > 0 {
			lp.maxIterations = n
		}
	}
}

// WithIterationStore enables mid-issue checkpoints.
func WithIterationStore(s *IterationStore) Option {
	return func(lp *Loop) { lp.store = s }
}

// Loop is the inner per-issue state machine. It is safe for concurrent use
// by issues of the same level.
type Loop struct {
	caps          *capability.Dispatcher
	memory        *memory.Store
	store         *IterationStore
	maxIterations int
	logger        *logging.Logger
	sink          event.Sink
}

// New creates a Loop.
func New(caps *capability.Dispatcher, mem *memory.Store, opts ...Option) *Loop {
	lp := &Loop{
		caps:          caps,
		memory:        mem,
		maxIterations: dag.DefaultExecutionConfig().MaxCodingIterations,
		logger:        logging.NopLogger(),
	}
	if lp.memory == nil {
		lp.memory = memory.NewStore()
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// MaxIterations returns the iteration cap.
func (lp *Loop) MaxIterations() int {
	return lp.maxIterations
}

// verdict is the outcome of reviewing one iteration.
type verdict struct {
	action   string
	stuck    bool
	review   capability.ReviewResult
	qa       *capability.QAResult
	feedback string
	summary  string
}

// Run executes the loop for iss. The error is non-nil only when the coder
// itself failed, in which case the result is FAILED_UNRECOVERABLE and the
// error carries the cause so callers can tell a transient failure from a
// rejection. When ctx is cancelled Run returns without an outcome and leaves
// the iteration state on disk for the next run.
func (lp *Loop) Run(ctx context.Context, iss dag.Issue) (dag.IssueResult, error) {
	logger := lp.logger.WithIssue(iss.Name)

	st, resumed, err := lp.store.Load(iss.Name)
	if err != nil {
		logger.Warn("discarding unreadable iteration state", "error", err.Error())
		st, resumed = IterationState{}, false
	}
	st.Issue = iss.Name
	if resumed {
		logger.Info("resuming coding loop", "iteration", st.Iteration)
	}

	result := dag.IssueResult{
		Issue:      iss.Name,
		BranchName: iss.BranchName,
		RepoName:   iss.TargetRepo,
	}
	finish := func(outcome dag.IssueOutcome, summary, errMsg string) dag.IssueResult {
		result.Outcome = outcome
		result.Attempts = st.Iteration
		result.FilesChanged = st.FilesChanged
		result.IterationHistory = st.History
		result.Summary = summary
		result.Error = errMsg
		if err := lp.store.Delete(iss.Name); err != nil {
			logger.Warn("failed to remove iteration state", "error", err.Error())
		}
		return result
	}

	for st.Iteration < lp.maxIterations {
		st.Iteration++
		iteration := st.Iteration
		ilog := logger.With("iteration", iteration)

		coded, err := lp.caps.Coder(ctx, capability.CoderRequest{
			Issue:        iss,
			Iteration:    iteration,
			Feedback:     st.Feedback,
			Memory:       lp.memory.Snapshot(iss.DependsOn),
			WorktreePath: iss.WorktreePath,
			BranchName:   iss.BranchName,
		})
		if err != nil {
			if ctx.Err() != nil {
				ilog.Info("coding loop interrupted", "error", err.Error())
				return result, err
			}
			ilog.Warn("coder failed", "error", err.Error())
			lp.recordFailure(iss.Name, "coder failed: "+err.Error())
			return finish(dag.OutcomeFailedUnrecoverable, "", err.Error()), err
		}
		st.FilesChanged = mergeFiles(st.FilesChanged, coded.FilesChanged)

		var v verdict
		if iss.NeedsDeeperQA() {
			v = lp.reviewDeep(ctx, iss, iteration, coded, st.History, ilog)
		} else {
			v = lp.reviewDefault(ctx, iss, iteration, coded, ilog)
		}
		// Iteration state on disk stays at the last finished iteration.
		if err := ctx.Err(); err != nil {
			ilog.Info("coding loop interrupted", "error", err.Error())
			return result, err
		}

		rec := dag.IterationRecord{
			Iteration:    iteration,
			Action:       v.action,
			Summary:      coded.Summary,
			FilesChanged: coded.FilesChanged,
			Approved:     v.review.Approved,
			Blocking:     v.review.Blocking,
			Stuck:        v.stuck,
			Feedback:     v.feedback,
		}
		if v.qa != nil {
			passed := v.qa.Passed
			rec.QAPassed = &passed
		}
		st.History = append(st.History, rec)
		ilog.Info("coding iteration finished", "action", v.action, "stuck", v.stuck)
		event.Note(lp.sink, "coding iteration", map[string]string{
			"issue":     iss.Name,
			"iteration": strconv.Itoa(iteration),
			"action":    v.action,
		})

		switch {
		case v.stuck:
			lp.recordFailure(iss.Name, "stuck: "+v.summary)
			return finish(dag.OutcomeFailedUnrecoverable, v.summary, "synthesizer reported the loop is stuck"), nil
		case v.action == capability.ActionApprove:
			lp.recordSuccess(iss, coded, iteration)
			return finish(dag.OutcomeCompleted, coded.Summary, ""), nil
		case v.action == capability.ActionBlock:
			lp.recordFailure(iss.Name, "blocked: "+v.summary)
			lp.recordBugs(iss.Name, v.review.BlockingDebt())
			return finish(dag.OutcomeFailedUnrecoverable, v.summary, "review blocked the change"), nil
		}

		st.Feedback = v.feedback
		if err := lp.store.Save(st); err != nil {
			ilog.Warn("failed to save iteration state", "error", err.Error())
		}
	}

	lp.recordFailure(iss.Name, fmt.Sprintf("not approved after %d iterations", st.Iteration))
	return finish(dag.OutcomeFailedUnrecoverable, "",
		fmt.Sprintf("not approved after %d iterations", st.Iteration)), nil
}

func (lp *Loop) reviewDefault(ctx context.Context, iss dag.Issue, iteration int, coded capability.CoderResult, logger *logging.Logger) verdict {
	review := lp.review(ctx, iss, iteration, coded, logger)
	v := verdict{action: DecideDefault(review), review: review, summary: review.Summary}
	if v.action == capability.ActionFix {
		v.feedback = buildFeedback(review.Feedback, nil, review)
	}
	return v
}

func (lp *Loop) reviewDeep(ctx context.Context, iss dag.Issue, iteration int, coded capability.CoderResult, history []dag.IterationRecord, logger *logging.Logger) verdict {
	var (
		qa     capability.QAResult
		review capability.ReviewResult
		wg     conc.WaitGroup
	)
	wg.Go(func() { qa = lp.qa(ctx, iss, iteration, coded, logger) })
	wg.Go(func() { review = lp.review(ctx, iss, iteration, coded, logger) })
	if r := wg.WaitAndRecover(); r != nil {
		logger.Error("QA or review panicked", "panic", r.String())
		review = capability.ReviewResult{Feedback: "review crashed"}
	}

	v := verdict{review: review, qa: &qa}
	synth, err := lp.caps.Synthesize(ctx, capability.SynthesisRequest{
		Issue:     iss,
		Iteration: iteration,
		QA:        qa,
		Review:    review,
		History:   history,
	})
	if err != nil || !validAction(synth.Action) {
		if err == nil {
			err = errors.NewCapabilityError("unknown action "+strconv.Quote(synth.Action), errors.ErrMalformedResult)
		}
		logger.Warn("synthesizer unavailable, using fallback decision", "error", err.Error())
		v.action = DecideFallback(qa, review)
		v.summary = review.Summary
		if v.action == capability.ActionFix {
			v.feedback = buildFeedback(review.Feedback, qa.TestFailures, review)
		}
		return v
	}

	v.action = synth.Action
	v.stuck = synth.Stuck
	v.summary = synth.Summary
	if v.action == capability.ActionFix {
		v.feedback = buildFeedback(firstNonEmpty(synth.Feedback, review.Feedback), qa.TestFailures, review)
	}
	return v
}

// review calls the reviewer. A failure counts as approved and non-blocking.
func (lp *Loop) review(ctx context.Context, iss dag.Issue, iteration int, coded capability.CoderResult, logger *logging.Logger) capability.ReviewResult {
	res, err := lp.caps.Review(ctx, capability.ReviewRequest{
		Issue:        iss,
		Iteration:    iteration,
		CoderSummary: coded.Summary,
		FilesChanged: coded.FilesChanged,
		WorktreePath: iss.WorktreePath,
	})
	if err != nil {
		logger.Warn("reviewer unavailable, approving", "error", err.Error())
		return capability.ReviewResult{Approved: true, Summary: "review unavailable: " + err.Error()}
	}
	return res
}

// qa calls QA. A failure counts as passed.
func (lp *Loop) qa(ctx context.Context, iss dag.Issue, iteration int, coded capability.CoderResult, logger *logging.Logger) capability.QAResult {
	var strategy string
	if iss.Guidance != nil {
		strategy = iss.Guidance.TestingStrategy
	}
	res, err := lp.caps.QA(ctx, capability.QARequest{
		Issue:           iss,
		Iteration:       iteration,
		CoderSummary:    coded.Summary,
		FilesChanged:    coded.FilesChanged,
		WorktreePath:    iss.WorktreePath,
		TestingStrategy: strategy,
	})
	if err != nil {
		logger.Warn("QA unavailable, treating as passed", "error", err.Error())
		return capability.QAResult{Passed: true, Summary: "qa unavailable: " + err.Error()}
	}
	return res
}

func (lp *Loop) recordSuccess(iss dag.Issue, coded capability.CoderResult, iteration int) {
	if coded.Conventions != "" {
		lp.memory.SetIfAbsent(memory.KeyConventions, coded.Conventions)
	}
	lp.memory.Set(memory.InterfacesKey(iss.Name), firstNonEmpty(coded.Interface, coded.Summary))
	lp.memory.Append(memory.KeyBuildHealth,
		fmt.Sprintf("%s: approved on iteration %d (%d files)", iss.Name, iteration, len(coded.FilesChanged)),
		memory.MaxBuildHealth)
}

func (lp *Loop) recordFailure(issue, pattern string) {
	lp.memory.Append(memory.KeyFailurePatterns, issue+": "+pattern, memory.MaxFailurePatterns)
}

func (lp *Loop) recordBugs(issue string, items []dag.DebtItem) {
	for _, d := range items {
		lp.memory.Append(memory.KeyBugPatterns, issue+": "+d.Description, memory.MaxBugPatterns)
	}
}

// buildFeedback assembles the next iteration's instructions.
func buildFeedback(base string, failures []string, review capability.ReviewResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	if len(failures) > 0 {
		b.WriteString("\n\nFailing tests:\n")
		for _, f := range failures {
			b.WriteString("- " + f + "\n")
		}
	}
	if blocking := review.BlockingDebt(); len(blocking) > 0 {
		b.WriteString("\n\nMust fix:\n")
		for _, d := range blocking {
			b.WriteString("- " + d.Description + "\n")
		}
	}
	return strings.TrimSpace(b.String())
}

func mergeFiles(have, add []string) []string {
	for _, f := range add {
		if !slices.Contains(have, f) {
			have = append(have, f)
		}
	}
	return have
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
