package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/issueforge/internal/advisor"
	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/gates"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/metrics"
	"github.com/Iron-Ham/issueforge/internal/telemetry"
)

// IssueExecutor runs one issue to a terminal outcome.
type IssueExecutor interface {
	Execute(ctx context.Context, iss dag.Issue, dagCtx dag.DAGContext) dag.IssueResult
}

var _ IssueExecutor = (*advisor.Executor)(nil)

// SweepFunc removes residual worktrees of a build from a repository.
type SweepFunc func(ctx context.Context, repoPath, buildID string) ([]string, error)

// Scheduler is the level scheduler. A Scheduler may run several builds in
// sequence but not concurrently.
type Scheduler struct {
	caps *capability.Dispatcher
	exec IssueExecutor
	cfg  dag.ExecutionConfig

	checkpointer *dag.Checkpointer
	describer    *gates.Describer
	worktreeDir  gates.WorktreeDirFunc
	sweep        SweepFunc

	bus     *event.Bus
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *logging.Logger
}

// New creates a Scheduler.
func New(caps *capability.Dispatcher, exec IssueExecutor, cfg dag.ExecutionConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		caps:   caps,
		exec:   exec,
		cfg:    cfg,
		tracer: telemetry.Tracer(),
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// build holds the per-Run collaborators.
type build struct {
	state      *dag.DAGState
	cp         *dag.Checkpointer
	isolated   bool
	worktrees  *gates.WorktreeGate
	merge      *gates.MergeGate
	debt       *gates.DebtGate
	split      *gates.SplitGate
	replan     *gates.ReplanGate
	cleanup    *gates.CleanupHandle
	logger     *logging.Logger
	checkpoint error
}

// Resume loads the checkpoint written by cp and continues the build.
// Issues that were in flight when the checkpoint was written run again.
func (s *Scheduler) Resume(ctx context.Context, cp *dag.Checkpointer) (*dag.DAGState, error) {
	state, err := cp.Load()
	if err != nil {
		return nil, err
	}
	state.InFlight = nil
	prev := s.checkpointer
	s.checkpointer = cp
	defer func() { s.checkpointer = prev }()
	return s.Run(ctx, state)
}

// Run executes state until every level is consumed or the replanner
// aborts. It always writes a final checkpoint and returns the final state;
// the error is non-nil only when ctx was cancelled or the final checkpoint
// could not be written.
func (s *Scheduler) Run(ctx context.Context, state *dag.DAGState) (*dag.DAGState, error) {
	started := time.Now()
	b := s.newBuild(state)
	resumed := state.CurrentLevel > 0 || len(state.CompletedIssues)+len(state.FailedIssues)+len(state.SkippedIssues) > 0

	b.logger.Info("build starting",
		"issues", len(state.AllIssues),
		"levels", len(state.Levels),
		"resumed", resumed,
		"start_level", state.CurrentLevel)
	s.bus.Publish(event.NewBuildStartedEvent(state.BuildID, len(state.AllIssues), len(state.Levels), resumed, state.CurrentLevel))

	if s.cfg.EnableGitIsolation {
		b.isolated = s.gitInit(ctx, b)
	}
	s.save(b)

	var runErr error
	for state.CurrentLevel < len(state.Levels) {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		idx := state.CurrentLevel
		active := s.unblocked(b, s.activeIssues(b, idx))
		if len(active) == 0 {
			state.CurrentLevel++
			continue
		}

		restart, abort, err := s.runLevel(ctx, b, idx, active)
		if err != nil {
			runErr = err
			break
		}
		switch {
		case abort:
			state.CurrentLevel = len(state.Levels)
		case restart:
			state.CurrentLevel = 0
		default:
			state.CurrentLevel++
		}
		s.save(b)
	}

	if errs := b.cleanup.Wait(); len(errs) > 0 {
		b.logger.Warn("final cleanup reported errors", "errors", errs)
	}
	b.cleanup = nil
	state.InFlight = nil
	s.save(b)
	s.sweepResidual(context.WithoutCancel(ctx), b)

	sum := state.Summary()
	b.logger.Info("build finished",
		"completed", sum.Completed,
		"failed", sum.Failed,
		"skipped", sum.Skipped,
		"aborted", sum.Aborted,
		"rationale", sum.Rationale)
	s.bus.Publish(event.NewBuildCompletedEvent(state.BuildID, sum.Completed, sum.Failed, sum.Skipped,
		sum.Aborted, sum.Rationale, time.Since(started)))

	return state, errors.Join(runErr, b.checkpoint)
}

func (s *Scheduler) newBuild(state *dag.DAGState) *build {
	cp := s.checkpointer
	if cp == nil {
		cp = dag.NewCheckpointer(state.ArtifactsDir)
	}
	describer := s.describer
	if describer == nil {
		describer = gates.NewDescriber(state.ArtifactsDir)
	}
	logger := s.logger.WithBuild(state.BuildID)
	return &build{
		state:     state,
		cp:        cp,
		worktrees: gates.NewWorktreeGate(s.caps, s.worktreeDir, logger),
		merge:     gates.NewMergeGate(s.caps, s.cfg, s.bus, logger),
		debt:      gates.NewDebtGate(logger),
		split:     gates.NewSplitGate(describer, s.bus, logger),
		replan:    gates.NewReplanGate(s.caps, s.cfg, describer, s.bus, logger),
		logger:    logger,
	}
}

// activeIssues returns the unfinished issues of level idx. The previous
// level's cleanup is awaited first so worktree paths are free again.
func (s *Scheduler) activeIssues(b *build, idx int) []dag.Issue {
	active := b.state.ActiveIssues(idx)
	if len(active) > 0 && b.cleanup != nil {
		if errs := b.cleanup.Wait(); len(errs) > 0 {
			b.logger.Warn("cleanup reported errors", "errors", errs)
		}
		b.cleanup = nil
	}
	return active
}

// unblocked skips issues with a dependency that finished without success.
// Structural replans can leave such issues behind.
func (s *Scheduler) unblocked(b *build, active []dag.Issue) []dag.Issue {
	out := active[:0]
	for _, iss := range active {
		blocker := ""
		for _, dep := range iss.DependsOn {
			if r, ok := b.state.Result(dep); ok && !r.Outcome.IsSuccess() {
				blocker = dep
				break
			}
		}
		if blocker == "" {
			out = append(out, iss)
			continue
		}
		note := fmt.Sprintf("dependency %q did not complete", blocker)
		skipped := dag.SkipIssue(b.state, iss.Name, note)
		b.logger.Info("skipping blocked issue", "issue", iss.Name, "blocker", blocker, "skipped", skipped)
	}
	return out
}

// runLevel runs one level and its gates.
func (s *Scheduler) runLevel(ctx context.Context, b *build, idx int, active []dag.Issue) (restart, abort bool, err error) {
	started := time.Now()
	state := b.state
	logger := b.logger.WithLevel(idx)

	names := make([]string, len(active))
	for i, iss := range active {
		names[i] = iss.Name
	}

	ctx, span := s.tracer.Start(ctx, fmt.Sprintf("level.%d", idx),
		trace.WithAttributes(
			attribute.Int("dag.level", idx),
			attribute.StringSlice("dag.issues", names),
		))
	defer span.End()

	logger.Info("level starting", "issues", names)
	s.bus.Publish(event.NewLevelStartedEvent(idx, names))

	if b.isolated {
		active = b.worktrees.Setup(ctx, state, active)
	}
	state.InFlight = names
	s.save(b)

	lr := s.executeLevel(ctx, state, idx, active)
	if cerr := ctx.Err(); cerr != nil {
		// Results of interrupted issues are dropped so they run again on resume.
		for _, r := range lr.Completed {
			state.RecordResult(r)
			s.publishIssue(idx, r)
		}
		s.save(b)
		span.SetStatus(codes.Error, "cancelled")
		return false, false, cerr
	}
	for _, bucket := range [][]dag.IssueResult{lr.Completed, lr.Failed, lr.Skipped} {
		for _, r := range bucket {
			state.RecordResult(r)
			s.publishIssue(idx, r)
		}
	}
	s.save(b)

	if b.isolated {
		record := b.merge.Merge(ctx, state, lr)
		b.cleanup = gates.StartCleanup(ctx, s.caps, state, lr, record, logger)
	}

	if n := b.debt.Apply(state, lr); n > 0 {
		logger.Info("debt recorded", "items", n)
	}
	restart = b.split.Apply(state, lr)
	out := b.replan.Apply(ctx, state, lr)
	restart = restart || out.Restart
	abort = out.Abort

	span.SetAttributes(
		attribute.Int("dag.completed", len(lr.Completed)),
		attribute.Int("dag.failed", len(lr.Failed)),
		attribute.Bool("dag.restart", restart),
	)
	if abort {
		span.SetStatus(codes.Error, "build aborted")
	}

	elapsed := time.Since(started)
	logger.Info("level finished",
		"completed", len(lr.Completed),
		"failed", len(lr.Failed),
		"skipped", len(lr.Skipped)+len(out.Skipped),
		"restart", restart,
		"abort", abort,
		"duration", elapsed.String())
	s.bus.Publish(event.NewLevelCompletedEvent(idx, len(lr.Completed), len(lr.Failed), len(lr.Skipped)+len(out.Skipped), elapsed))
	return restart, abort, nil
}

// executeLevel runs every active issue concurrently and collects one result
// per issue in active order. A panicking issue becomes FAILED_UNRECOVERABLE.
func (s *Scheduler) executeLevel(ctx context.Context, state *dag.DAGState, idx int, active []dag.Issue) dag.LevelResult {
	dagCtx := state.Context()

	p := pool.NewWithResults[dag.IssueResult]()
	if s.cfg.MaxConcurrentIssues > 0 {
		p = p.WithMaxGoroutines(s.cfg.MaxConcurrentIssues)
	}
	for _, iss := range active {
		p.Go(func() dag.IssueResult {
			return s.executeIssue(ctx, iss, dagCtx)
		})
	}

	byName := make(map[string]dag.IssueResult, len(active))
	for _, r := range p.Wait() {
		byName[r.Issue] = r
	}

	lr := dag.LevelResult{Level: idx}
	for _, iss := range active {
		r, ok := byName[iss.Name]
		if !ok {
			r = dag.IssueResult{Issue: iss.Name, Outcome: dag.OutcomeFailedUnrecoverable, Error: "no result"}
		}
		lr.Add(r)
	}
	return lr
}

func (s *Scheduler) executeIssue(ctx context.Context, iss dag.Issue, dagCtx dag.DAGContext) dag.IssueResult {
	s.metrics.IssueStarted()
	defer s.metrics.IssueFinished()

	var res dag.IssueResult
	var pc panics.Catcher
	pc.Try(func() { res = s.exec.Execute(ctx, iss, dagCtx) })
	if rec := pc.Recovered(); rec != nil {
		s.logger.WithIssue(iss.Name).Error("issue panicked", "panic", rec.String())
		res = dag.IssueResult{
			Outcome:    dag.OutcomeFailedUnrecoverable,
			BranchName: iss.BranchName,
			Error:      fmt.Sprintf("panic: %v", rec.Value),
		}
	}
	if res.Issue == "" {
		res.Issue = iss.Name
	}
	if !res.Outcome.IsTerminal() || res.Outcome == "" {
		res.Outcome = dag.OutcomeFailedUnrecoverable
	}
	return res
}

func (s *Scheduler) publishIssue(level int, r dag.IssueResult) {
	s.bus.Publish(event.NewIssueFinishedEvent(r.Issue, level, string(r.Outcome), r.Attempts, r.AdvisorInvocations))
}

// save writes a checkpoint. Failures are logged and remembered; the build
// keeps going.
func (s *Scheduler) save(b *build) {
	if err := b.cp.Save(b.state); err != nil {
		b.logger.Error("checkpoint failed", "path", b.cp.Path(), "error", err.Error())
		b.checkpoint = err
		return
	}
	b.checkpoint = nil
	s.bus.Publish(event.NewCheckpointSavedEvent(b.cp.Path(), b.state.CurrentLevel))
}
