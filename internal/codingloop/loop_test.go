package codingloop

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/capability/capabilitytest"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/memory"
)

func newLoop(t *testing.T, fake *capabilitytest.Fake, opts ...Option) (*Loop, *memory.Store) {
	t.Helper()
	mem := memory.NewStore()
	return New(capability.NewDispatcher(fake), mem, opts...), mem
}

func coreIssue() dag.Issue {
	return dag.Issue{
		Name:               "core",
		Title:              "Core types",
		AcceptanceCriteria: []string{"types compile"},
		SequenceNumber:     1,
	}
}

func deepIssue() dag.Issue {
	iss := coreIssue()
	iss.Guidance = &dag.Guidance{NeedsDeeperQA: true, TestingStrategy: "unit"}
	return iss
}

func TestLoop_ExhaustsIterations(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "tried", FilesChanged: []string{"core.go"}}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: false, Feedback: "still wrong"})
	lp, mem := newLoop(t, fake, WithMaxIterations(3))

	res, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeFailedUnrecoverable, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.IterationHistory, 3)
	assert.Equal(t, 3, fake.CallCount(capability.KindCoder))
	assert.Equal(t, []string{"core.go"}, res.FilesChanged)
	assert.Len(t, mem.List(memory.KeyFailurePatterns), 1)
}

func TestLoop_FeedbackFlowsToNextIteration(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "done"}).
		Queue(capability.KindCodeReviewer,
			capabilitytest.Response{Result: capability.ReviewResult{
				Feedback: "handle nil",
				DebtItems: []dag.DebtItem{
					{Description: "panics on nil input", Severity: dag.DebtHigh},
					{Description: "naming", Severity: dag.DebtLow},
				},
			}},
			capabilitytest.Response{Result: capability.ReviewResult{Approved: true}},
		)
	lp, _ := newLoop(t, fake)

	res, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Attempts)

	reqs := capabilitytest.Payloads[capability.CoderRequest](fake, capability.KindCoder)
	require.Len(t, reqs, 2)
	assert.Empty(t, reqs[0].Feedback)
	assert.Contains(t, reqs[1].Feedback, "handle nil")
	assert.Contains(t, reqs[1].Feedback, "panics on nil input")
	assert.NotContains(t, reqs[1].Feedback, "naming")
	assert.Equal(t, 2, reqs[1].Iteration)
}

func TestLoop_BlockingReviewStopsImmediately(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "done"}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{
			Approved: true,
			Blocking: true,
			Summary:  "deletes user data",
			DebtItems: []dag.DebtItem{
				{Description: "drops table", Severity: dag.DebtHigh},
			},
		})
	lp, mem := newLoop(t, fake)

	res, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeFailedUnrecoverable, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []string{"core: drops table"}, mem.List(memory.KeyBugPatterns))
}

func TestLoop_SuccessSignals(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{
			Summary:     "added Store",
			Interface:   "type Store interface{ Get(string) }",
			Conventions: "use testify",
		}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: true})
	lp, mem := newLoop(t, fake)
	mem.Set(memory.KeyConventions, "already known")

	res, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeCompleted, res.Outcome)
	assert.Equal(t, "already known", mem.GetString(memory.KeyConventions))
	assert.Equal(t, "type Store interface{ Get(string) }", mem.GetString(memory.InterfacesKey("core")))
	assert.Len(t, mem.List(memory.KeyBuildHealth), 1)
}

func TestLoop_CoderSeesDependencyInterfaces(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "ok"}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: true})
	lp, mem := newLoop(t, fake)
	mem.Set(memory.InterfacesKey("base"), "func Base()")
	mem.Set(memory.InterfacesKey("unrelated"), "func Other()")

	iss := coreIssue()
	iss.DependsOn = []string{"base"}
	_, err := lp.Run(context.Background(), iss)
	require.NoError(t, err)

	reqs := capabilitytest.Payloads[capability.CoderRequest](fake, capability.KindCoder)
	require.Len(t, reqs, 1)
	assert.Equal(t, map[string]string{"base": "func Base()"}, reqs[0].Memory.Interfaces)
}

func TestLoop_CoderFailureIsFatal(t *testing.T) {
	fake := capabilitytest.New().
		Fail(capability.KindCoder, errors.New("connection reset"))
	lp, _ := newLoop(t, fake)

	res, err := lp.Run(context.Background(), coreIssue())
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, dag.OutcomeFailedUnrecoverable, res.Outcome)
	assert.Contains(t, res.Error, "connection reset")
	assert.Zero(t, fake.CallCount(capability.KindCodeReviewer))
}

func TestLoop_ReviewerFailureDegradesToApproval(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "ok"}).
		Fail(capability.KindCodeReviewer, errors.New("reviewer down"))
	lp, _ := newLoop(t, fake)

	res, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeCompleted, res.Outcome)
}

func TestLoop_DeepPathUsesSynthesizer(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "ok"}).
		Return(capability.KindQA, capability.QAResult{Passed: false, TestFailures: []string{"TestX"}}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: false}).
		Return(capability.KindQASynthesizer, capability.SynthesisResult{Action: capability.ActionApprove})
	lp, _ := newLoop(t, fake)

	res, err := lp.Run(context.Background(), deepIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeCompleted, res.Outcome, "synthesizer is authoritative")
	require.Len(t, res.IterationHistory, 1)
	require.NotNil(t, res.IterationHistory[0].QAPassed)
	assert.False(t, *res.IterationHistory[0].QAPassed)

	synth := capabilitytest.Payloads[capability.SynthesisRequest](fake, capability.KindQASynthesizer)
	require.Len(t, synth, 1)
	assert.Equal(t, []string{"TestX"}, synth[0].QA.TestFailures)

	qa := capabilitytest.Payloads[capability.QARequest](fake, capability.KindQA)
	require.Len(t, qa, 1)
	assert.Equal(t, "unit", qa[0].TestingStrategy)
}

func TestLoop_DeepPathFallbackWhenSynthesizerFails(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "ok"}).
		Queue(capability.KindQA,
			capabilitytest.Response{Result: capability.QAResult{Passed: false, TestFailures: []string{"TestY"}}},
			capabilitytest.Response{Result: capability.QAResult{Passed: true}},
		).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: true}).
		Fail(capability.KindQASynthesizer, errors.New("synth down"))
	lp, _ := newLoop(t, fake)

	res, err := lp.Run(context.Background(), deepIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, res.Attempts)

	reqs := capabilitytest.Payloads[capability.CoderRequest](fake, capability.KindCoder)
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Feedback, "TestY")
}

func TestLoop_StuckOverridesAction(t *testing.T) {
	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "ok"}).
		Return(capability.KindQA, capability.QAResult{Passed: false}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{}).
		Return(capability.KindQASynthesizer, capability.SynthesisResult{Action: capability.ActionFix, Stuck: true})
	lp, _ := newLoop(t, fake, WithMaxIterations(5))

	res, err := lp.Run(context.Background(), deepIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeFailedUnrecoverable, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.IterationHistory[0].Stuck)
}

func TestLoop_ResumesFromIterationState(t *testing.T) {
	dir := t.TempDir()
	store := NewIterationStore(dir)
	require.NoError(t, store.Save(IterationState{
		Issue:        "core",
		Iteration:    2,
		Feedback:     "fix the nil case",
		FilesChanged: []string{"a.go"},
		History: []dag.IterationRecord{
			{Iteration: 1, Action: capability.ActionFix},
			{Iteration: 2, Action: capability.ActionFix},
		},
	}))

	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "ok", FilesChanged: []string{"b.go"}}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Approved: true})
	lp, _ := newLoop(t, fake, WithIterationStore(store), WithMaxIterations(5))

	res, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	assert.Equal(t, dag.OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []string{"a.go", "b.go"}, res.FilesChanged)
	assert.Len(t, res.IterationHistory, 3)

	reqs := capabilitytest.Payloads[capability.CoderRequest](fake, capability.KindCoder)
	require.Len(t, reqs, 1)
	assert.Equal(t, 3, reqs[0].Iteration)
	assert.Equal(t, "fix the nil case", reqs[0].Feedback)

	_, err = os.Stat(store.Path("core"))
	assert.True(t, os.IsNotExist(err), "iteration state is removed once the loop ends")
}

func TestLoop_SavesStateBetweenIterations(t *testing.T) {
	store := NewIterationStore(t.TempDir())
	var seen []IterationState
	fake := capabilitytest.New().
		On(capability.KindCoder, func(context.Context, any) (any, error) {
			if st, ok, _ := store.Load("core"); ok {
				seen = append(seen, st)
			}
			return capability.CoderResult{Summary: "ok"}, nil
		}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Feedback: "again"})
	lp, _ := newLoop(t, fake, WithIterationStore(store), WithMaxIterations(3))

	_, err := lp.Run(context.Background(), coreIssue())
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, 1, seen[0].Iteration)
	assert.Equal(t, 2, seen[1].Iteration)
	assert.Equal(t, "again", seen[1].Feedback)
}

func TestIterationStore_CorruptIsReported(t *testing.T) {
	store := NewIterationStore(t.TempDir())
	require.NoError(t, os.MkdirAll(store.dir, 0o755))
	require.NoError(t, os.WriteFile(store.Path("core"), []byte("{"), 0o644))

	_, ok, err := store.Load("core")
	assert.False(t, ok)
	assert.ErrorIs(t, err, errors.ErrCheckpointCorrupt)
}

func TestIterationStore_NilIsNoop(t *testing.T) {
	var store *IterationStore
	require.NoError(t, store.Save(IterationState{Issue: "x"}))
	_, ok, err := store.Load("x")
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.NoError(t, store.Delete("x"))
}

func TestLoop_CancelKeepsIterationState(t *testing.T) {
	store := NewIterationStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	fake := capabilitytest.New().
		On(capability.KindCoder, func(ctx context.Context, _ any) (any, error) {
			calls++
			if calls == 3 {
				cancel()
				return nil, ctx.Err()
			}
			return capability.CoderResult{Summary: "partial"}, nil
		}).
		Return(capability.KindCodeReviewer, capability.ReviewResult{Feedback: "keep going"})
	lp, mem := newLoop(t, fake, WithIterationStore(store), WithMaxIterations(5))

	res, err := lp.Run(ctx, coreIssue())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Outcome)
	assert.Empty(t, mem.List(memory.KeyFailurePatterns), "an interrupted issue is not a failure")

	st, ok, err := store.Load("core")
	require.NoError(t, err)
	require.True(t, ok, "iteration state survives cancellation")
	assert.Equal(t, 2, st.Iteration)
	assert.Equal(t, "keep going", st.Feedback)
	assert.Len(t, st.History, 2)
}

func TestLoop_CancelDuringReviewIsNotApproval(t *testing.T) {
	store := NewIterationStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fake := capabilitytest.New().
		Return(capability.KindCoder, capability.CoderResult{Summary: "done"}).
		On(capability.KindCodeReviewer, func(ctx context.Context, _ any) (any, error) {
			cancel()
			return nil, ctx.Err()
		})
	lp, _ := newLoop(t, fake, WithIterationStore(store))

	res, err := lp.Run(ctx, coreIssue())
	require.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, dag.OutcomeCompleted, res.Outcome)
	_, ok, _ := store.Load("core")
	assert.False(t, ok, "no iteration finished, nothing to resume from")
}
