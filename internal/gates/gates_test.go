package gates

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/capability/capabilitytest"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/event"
)

func newState(t *testing.T, issues ...dag.Issue) *dag.DAGState {
	t.Helper()
	for i := range issues {
		if issues[i].SequenceNumber == 0 {
			issues[i].SequenceNumber = i + 1
		}
	}
	s, err := dag.NewDAGState("b1", "/repo", t.TempDir(), issues)
	require.NoError(t, err)
	s.IntegrationBranch = "integration/b1"
	return s
}

func completedResult(name, branch, repo string) dag.IssueResult {
	return dag.IssueResult{Issue: name, Outcome: dag.OutcomeCompleted, BranchName: branch, RepoName: repo}
}

func mergeAll(_ context.Context, payload any) (any, error) {
	req := payload.(capability.MergeRequest)
	return capability.MergeResult{Merged: req.Branches, NeedsIntegrationTest: true}, nil
}

// -----------------------------------------------------------------------------
// Worktree gate
// -----------------------------------------------------------------------------

func TestWorktreeGate_InjectsAssignments(t *testing.T) {
	state := newState(t, dag.Issue{Name: "core"}, dag.Issue{Name: "api"})
	fake := capabilitytest.New().On(capability.KindWorkspaceSetup, func(_ context.Context, payload any) (any, error) {
		req := payload.(capability.WorkspaceSetupRequest)
		res := capability.WorkspaceSetupResult{Errors: map[string]string{}}
		for _, spec := range req.Issues {
			if spec.Issue == "api" {
				res.Errors["api"] = "disk full"
				continue
			}
			res.Worktrees = append(res.Worktrees, capability.WorktreeAssignment{
				Issue: spec.Issue, Path: "/wt/" + spec.Issue, Branch: "issue/" + spec.Issue,
			})
		}
		return res, nil
	})
	gate := NewWorktreeGate(capability.NewDispatcher(fake), func(repo string) string { return repo + "/wt" }, nil)

	out := gate.Setup(context.Background(), state, state.ActiveIssues(0))
	require.Len(t, out, 2)

	byName := map[string]dag.Issue{}
	for _, iss := range out {
		byName[iss.Name] = iss
	}
	assert.Equal(t, "/wt/core", byName["core"].WorktreePath)
	assert.Empty(t, byName["api"].WorktreePath, "failed assignment runs without isolation")

	planned, _ := state.Issue("core")
	assert.Equal(t, "issue/core", planned.BranchName)

	reqs := capabilitytest.Payloads[capability.WorkspaceSetupRequest](fake, capability.KindWorkspaceSetup)
	require.Len(t, reqs, 1)
	assert.Equal(t, "integration/b1", reqs[0].BaseBranch)
	assert.Equal(t, "/repo/wt", reqs[0].WorktreeDir)
	assert.Equal(t, "b1", reqs[0].BuildID)
}

// -----------------------------------------------------------------------------
// Merge gate
// -----------------------------------------------------------------------------

func TestMergeGate_MultiRepoOneCallPerRepository(t *testing.T) {
	state := newState(t,
		dag.Issue{Name: "endpoint", TargetRepo: "api"},
		dag.Issue{Name: "handler", TargetRepo: "api"},
		dag.Issue{Name: "client", TargetRepo: "lib"},
	)
	state.Workspace = &dag.WorkspaceManifest{Repos: []dag.WorkspaceRepo{
		{Name: "api", Path: "/ws/api", Role: dag.RolePrimary},
		{Name: "lib", Path: "/ws/lib", Role: dag.RoleDependency},
	}}
	state.SetRepoInitOutcome("lib", dag.GitInitOutcome{Success: true, IntegrationBranch: "integration/lib"})

	var mu sync.Mutex
	calls := map[string][]string{}
	fake := capabilitytest.New().On(capability.KindMerger, func(ctx context.Context, payload any) (any, error) {
		req := payload.(capability.MergeRequest)
		mu.Lock()
		calls[req.RepoName] = append(calls[req.RepoName], req.Branches...)
		mu.Unlock()
		if req.RepoName == "lib" {
			assert.Equal(t, "integration/lib", req.IntegrationBranch)
			assert.Equal(t, "/ws/lib", req.RepoPath)
		}
		return mergeAll(ctx, payload)
	})
	cfg := dag.DefaultExecutionConfig()
	cfg.EnableIntegrationTesting = false
	gate := NewMergeGate(capability.NewDispatcher(fake), cfg, nil, nil)

	lr := dag.LevelResult{Level: 0}
	lr.Add(completedResult("endpoint", "issue/01-endpoint", "api"))
	lr.Add(completedResult("handler", "issue/02-handler", "api"))
	lr.Add(completedResult("client", "issue/03-client", "lib"))

	record := gate.Merge(context.Background(), state, lr)
	assert.Equal(t, 2, fake.CallCount(capability.KindMerger))
	assert.ElementsMatch(t, []string{"issue/01-endpoint", "issue/02-handler"}, calls["api"])
	assert.Equal(t, []string{"issue/03-client"}, calls["lib"])
	assert.Len(t, record.Repos, 2)
	assert.Empty(t, record.Unmerged())
	assert.Len(t, state.MergeHistory, 1)
}

func TestMergeGate_MultiRepoDoesNotRetry(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a", TargetRepo: "api"}, dag.Issue{Name: "b", TargetRepo: "lib"})
	state.Workspace = &dag.WorkspaceManifest{Repos: []dag.WorkspaceRepo{
		{Name: "api", Path: "/ws/api"}, {Name: "lib", Path: "/ws/lib"},
	}}
	fake := capabilitytest.New().On(capability.KindMerger, func(ctx context.Context, payload any) (any, error) {
		if payload.(capability.MergeRequest).RepoName == "lib" {
			return nil, errors.New("push rejected")
		}
		return mergeAll(ctx, payload)
	})
	cfg := dag.DefaultExecutionConfig()
	cfg.EnableIntegrationTesting = false
	gate := NewMergeGate(capability.NewDispatcher(fake), cfg, nil, nil)

	lr := dag.LevelResult{}
	lr.Add(completedResult("a", "issue/a", "api"))
	lr.Add(completedResult("b", "issue/b", "lib"))

	record := gate.Merge(context.Background(), state, lr)
	assert.Equal(t, 2, fake.CallCount(capability.KindMerger))
	assert.Equal(t, []string{"issue/b"}, record.Unmerged())
}

func TestMergeGate_SingleRepoRetriesOnce(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a"}, dag.Issue{Name: "b"})
	fake := capabilitytest.New().Queue(capability.KindMerger,
		capabilitytest.Response{Result: capability.MergeResult{
			Merged: []string{"issue/a"}, Failed: []string{"issue/b"}, NeedsIntegrationTest: true,
		}},
		capabilitytest.Response{Result: capability.MergeResult{Merged: []string{"issue/b"}}},
	)
	cfg := dag.DefaultExecutionConfig()
	cfg.EnableIntegrationTesting = false
	gate := NewMergeGate(capability.NewDispatcher(fake), cfg, nil, nil)

	lr := dag.LevelResult{}
	lr.Add(completedResult("a", "issue/a", ""))
	lr.Add(completedResult("b", "issue/b", ""))

	record := gate.Merge(context.Background(), state, lr)
	require.Len(t, record.Repos, 1)
	repo := record.Repos[0]
	assert.Equal(t, 2, repo.Attempts)
	assert.True(t, repo.Success)
	assert.Equal(t, []string{"issue/a", "issue/b"}, repo.Merged)
	assert.True(t, repo.NeedsIntegrationTest)

	reqs := capabilitytest.Payloads[capability.MergeRequest](fake, capability.KindMerger)
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{"issue/b"}, reqs[1].Branches)
	assert.Equal(t, "integration/b1", reqs[0].IntegrationBranch)
}

func TestMergeGate_SingleRepoGivesUpAfterRetry(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a"})
	fake := capabilitytest.New().Fail(capability.KindMerger, errors.New("conflict"))
	gate := NewMergeGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil)

	lr := dag.LevelResult{}
	lr.Add(completedResult("a", "issue/a", ""))

	record := gate.Merge(context.Background(), state, lr)
	assert.Equal(t, 2, fake.CallCount(capability.KindMerger))
	assert.Equal(t, []string{"issue/a"}, record.Unmerged())
	assert.Nil(t, record.IntegrationTest, "nothing merged, nothing to test")
}

func TestMergeGate_IntegrationTestRetries(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a"})
	fake := capabilitytest.New().
		On(capability.KindMerger, mergeAll).
		Queue(capability.KindIntegrationTester,
			capabilitytest.Response{Result: capability.IntegrationTestResult{Passed: false, Failures: []string{"TestE2E"}}},
			capabilitytest.Response{Result: capability.IntegrationTestResult{Passed: true, Summary: "green"}},
		)
	cfg := dag.DefaultExecutionConfig()
	cfg.MaxIntegrationTestRetries = 2

	bus := event.NewBus(nil)
	var got []event.MergeCompletedEvent
	bus.Subscribe(event.TypeMergeCompleted, func(e event.Event) { got = append(got, e.(event.MergeCompletedEvent)) })
	gate := NewMergeGate(capability.NewDispatcher(fake), cfg, bus, nil)

	lr := dag.LevelResult{}
	lr.Add(completedResult("a", "issue/a", ""))

	record := gate.Merge(context.Background(), state, lr)
	require.NotNil(t, record.IntegrationTest)
	assert.True(t, record.IntegrationTest.Passed)
	assert.Equal(t, 2, record.IntegrationTest.Attempts)

	require.Len(t, got, 1)
	require.NotNil(t, got[0].TestsPassed)
	assert.True(t, *got[0].TestsPassed)
}

func TestMergeGate_IntegrationTestExhausted(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a"})
	fake := capabilitytest.New().
		On(capability.KindMerger, mergeAll).
		Return(capability.KindIntegrationTester, capability.IntegrationTestResult{Failures: []string{"TestE2E"}})
	cfg := dag.DefaultExecutionConfig()
	cfg.MaxIntegrationTestRetries = 1
	gate := NewMergeGate(capability.NewDispatcher(fake), cfg, nil, nil)

	lr := dag.LevelResult{}
	lr.Add(completedResult("a", "issue/a", ""))

	record := gate.Merge(context.Background(), state, lr)
	require.NotNil(t, record.IntegrationTest)
	assert.False(t, record.IntegrationTest.Passed)
	assert.Equal(t, 2, record.IntegrationTest.Attempts)
	assert.Equal(t, []string{"TestE2E"}, record.IntegrationTest.Failures)
}

func TestStartCleanup_WaitsAndKeepsUnmergedBranches(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a"}, dag.Issue{Name: "b"})
	for _, name := range []string{"a", "b"} {
		iss, _ := state.Issue(name)
		iss.WorktreePath = "/wt/" + name
		iss.BranchName = "issue/" + name
	}
	release := make(chan struct{})
	fake := capabilitytest.New().On(capability.KindWorkspaceCleanup, func(context.Context, any) (any, error) {
		<-release
		return capability.WorkspaceCleanupResult{Errors: []string{"busy"}}, nil
	})

	lr := dag.LevelResult{}
	lr.Add(completedResult("a", "issue/a", ""))
	lr.Add(dag.IssueResult{Issue: "b", Outcome: dag.OutcomeFailedUnrecoverable})
	record := dag.MergeRecord{Repos: []dag.RepoMerge{{Repo: "primary", Merged: []string{"issue/a"}}}}

	h := StartCleanup(context.Background(), capability.NewDispatcher(fake), state, lr, record, nil)
	select {
	case <-h.done:
		t.Fatal("cleanup finished before the capability answered")
	default:
	}
	close(release)
	assert.Equal(t, []string{"busy"}, h.Wait())

	reqs := capabilitytest.Payloads[capability.WorkspaceCleanupRequest](fake, capability.KindWorkspaceCleanup)
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"/wt/a", "/wt/b"}, reqs[0].Worktrees)
	assert.Equal(t, []string{"issue/a"}, reqs[0].Branches)

	a, _ := state.Issue("a")
	assert.Empty(t, a.WorktreePath)
	assert.Equal(t, "issue/a", a.BranchName)
}

func TestCleanupHandle_NilAndEmpty(t *testing.T) {
	var h *CleanupHandle
	assert.Nil(t, h.Wait())

	state := newState(t, dag.Issue{Name: "a"})
	h = StartCleanup(context.Background(), nil, state, dag.LevelResult{}, dag.MergeRecord{}, nil)
	assert.Nil(t, h.Wait())
}

// -----------------------------------------------------------------------------
// Debt gate
// -----------------------------------------------------------------------------

func TestDebtGate_RecordsAndAnnotates(t *testing.T) {
	state := newState(t,
		dag.Issue{Name: "core"},
		dag.Issue{Name: "api", DependsOn: []string{"core"}},
		dag.Issue{Name: "ui", DependsOn: []string{"api"}},
		dag.Issue{Name: "docs"},
	)
	lr := dag.LevelResult{}
	lr.Add(dag.IssueResult{
		Issue:   "core",
		Outcome: dag.OutcomeCompletedWithDebt,
		DebtItems: []dag.DebtItem{
			{Issue: "core", Description: "no streaming", Severity: dag.DebtMedium},
		},
		Adaptations: []dag.IssueAdaptation{{Issue: "core", Type: dag.AdvisorAcceptWithDebt}},
	})
	lr.Add(dag.IssueResult{
		Issue:       "docs",
		Outcome:     dag.OutcomeFailedUnrecoverable,
		Adaptations: []dag.IssueAdaptation{{Issue: "docs", Type: dag.AdvisorRetryApproach}},
	})

	n := NewDebtGate(nil).Apply(state, lr)
	assert.Equal(t, 1, n)
	assert.Len(t, state.AccumulatedDebt, 1)
	assert.Len(t, state.AdaptationHistory, 2)

	for _, name := range []string{"api", "ui"} {
		iss, _ := state.Issue(name)
		require.Len(t, iss.DebtNotes, 1, name)
		assert.Contains(t, iss.DebtNotes[0], "no streaming")
	}
	docs, _ := state.Issue("docs")
	assert.Empty(t, docs.DebtNotes)
}

// -----------------------------------------------------------------------------
// Split gate
// -----------------------------------------------------------------------------

func splitResult(name string, subs ...dag.Issue) dag.IssueResult {
	return dag.IssueResult{
		Issue:   name,
		Outcome: dag.OutcomeFailedNeedsSplit,
		Split:   &dag.SplitRequest{Rationale: "too big", SubIssues: subs},
	}
}

func TestSplitGate_ReplacesIssueAndRepointsDependents(t *testing.T) {
	state := newState(t,
		dag.Issue{Name: "base"},
		dag.Issue{Name: "core", DependsOn: []string{"base"}},
		dag.Issue{Name: "api", DependsOn: []string{"core"}},
	)
	lr := dag.LevelResult{Level: 1}
	lr.Add(splitResult("core", dag.Issue{Name: "core-types"}, dag.Issue{Name: "core-io", DependsOn: []string{"core-types"}}))
	state.RecordResult(lr.Failed[0])

	describer := NewDescriber(state.ArtifactsDir)
	changed := NewSplitGate(describer, nil, nil).Apply(state, lr)
	require.True(t, changed)

	_, ok := state.Issue("core")
	assert.False(t, ok, "parent removed")
	assert.False(t, state.IsDone("core"))

	types, ok := state.Issue("core-types")
	require.True(t, ok)
	assert.Equal(t, "core", types.ParentIssue)
	assert.Contains(t, types.DependsOn, "base")

	api, _ := state.Issue("api")
	assert.ElementsMatch(t, []string{"core-types", "core-io"}, api.DependsOn)

	require.Len(t, state.ReplanHistory, 1)
	assert.True(t, state.ReplanHistory[0].Local)
	assert.Zero(t, state.ReplanCount, "splits do not consume replan budget")

	_, err := os.Stat(describer.Path(*types))
	assert.NoError(t, err)
}

func TestSplitGate_CycleSkipsOriginal(t *testing.T) {
	state := newState(t,
		dag.Issue{Name: "core"},
		dag.Issue{Name: "api", DependsOn: []string{"core"}},
	)
	lr := dag.LevelResult{}
	// the sub-issue depends on api, which will be re-pointed at the sub-issue
	lr.Add(splitResult("core", dag.Issue{Name: "core-a", DependsOn: []string{"api"}}))
	state.RecordResult(lr.Failed[0])

	changed := NewSplitGate(nil, nil, nil).Apply(state, lr)
	assert.False(t, changed)

	_, ok := state.Issue("core")
	assert.True(t, ok, "graph left untouched")
	_, ok = state.Issue("core-a")
	assert.False(t, ok)

	res, ok := state.Result("core")
	require.True(t, ok)
	assert.Equal(t, dag.OutcomeSkipped, res.Outcome)
	res, _ = state.Result("api")
	assert.Equal(t, dag.OutcomeSkipped, res.Outcome)

	require.Len(t, state.ReplanHistory, 1)
	assert.NotEmpty(t, state.ReplanHistory[0].Error)
}

func TestSplitGate_EmptySplitSkips(t *testing.T) {
	state := newState(t, dag.Issue{Name: "core"})
	lr := dag.LevelResult{}
	lr.Add(splitResult("core"))
	state.RecordResult(lr.Failed[0])

	assert.False(t, NewSplitGate(nil, nil, nil).Apply(state, lr))
	res, _ := state.Result("core")
	assert.Equal(t, dag.OutcomeSkipped, res.Outcome)
}

// -----------------------------------------------------------------------------
// Replan gate
// -----------------------------------------------------------------------------

func replanFixture(t *testing.T) (*dag.DAGState, dag.LevelResult) {
	t.Helper()
	state := newState(t,
		dag.Issue{Name: "core"},
		dag.Issue{Name: "util"},
		dag.Issue{Name: "api", DependsOn: []string{"core"}},
		dag.Issue{Name: "ui", DependsOn: []string{"api"}},
		dag.Issue{Name: "cli", DependsOn: []string{"util"}},
	)
	lr := dag.LevelResult{}
	lr.Add(dag.IssueResult{Issue: "core", Outcome: dag.OutcomeFailedUnrecoverable, Error: "tests fail"})
	lr.Add(dag.IssueResult{Issue: "util", Outcome: dag.OutcomeCompleted})
	for _, r := range append(lr.Completed, lr.Failed...) {
		state.RecordResult(r)
	}
	return state, lr
}

func TestReplanGate_ContinueSkipsTransitiveDependents(t *testing.T) {
	state, lr := replanFixture(t)
	fake := capabilitytest.New().Return(capability.KindReplanner, dag.ReplanDecision{
		Action: dag.ReplanContinue, Rationale: "carry on",
	})
	gate := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil, nil)

	out := gate.Apply(context.Background(), state, lr)
	assert.False(t, out.Restart)
	assert.False(t, out.Abort)
	assert.ElementsMatch(t, []string{"api", "ui"}, out.Skipped)
	assert.Equal(t, 1, state.ReplanCount)

	var skipped []string
	for _, r := range state.SkippedIssues {
		skipped = append(skipped, r.Issue)
	}
	assert.ElementsMatch(t, []string{"api", "ui"}, skipped)
	assert.False(t, state.IsDone("cli"), "unrelated issue still runs")
	require.Len(t, state.FailedIssues, 1)
	assert.Equal(t, "core", state.FailedIssues[0].Issue, "failed issue keeps its result")

	ui, _ := state.Issue("ui")
	require.NotEmpty(t, ui.FailureNotes)
	assert.Contains(t, ui.FailureNotes[0], "core")
}

func TestReplanGate_ModifyRestartsAndDescribes(t *testing.T) {
	state, lr := replanFixture(t)
	fake := capabilitytest.New().Return(capability.KindReplanner, dag.ReplanDecision{
		Action:        dag.ReplanModifyDAG,
		RemovedIssues: []string{"core"},
		NewIssues:     []dag.Issue{{Name: "core-lite", SequenceNumber: 9}},
		UpdatedIssues: []dag.Issue{{Name: "api", DependsOn: []string{"core-lite"}, SequenceNumber: 3}},
		Rationale:     "smaller core",
	})
	describer := NewDescriber(state.ArtifactsDir)
	bus := event.NewBus(nil)
	var actions []string
	bus.Subscribe(event.TypeReplanApplied, func(e event.Event) {
		actions = append(actions, e.(event.ReplanAppliedEvent).Action)
	})
	gate := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), describer, bus, nil)

	out := gate.Apply(context.Background(), state, lr)
	assert.True(t, out.Restart)
	assert.Equal(t, 1, state.ReplanCount)
	assert.Equal(t, []string{string(dag.ReplanModifyDAG)}, actions)

	_, ok := state.Issue("core")
	assert.False(t, ok)
	assert.True(t, slices.ContainsFunc(state.Levels, func(l []string) bool { return slices.Contains(l, "core-lite") }))

	entries, err := os.ReadDir(filepath.Join(state.ArtifactsDir, PlanDirName, IssuesDirName))
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestReplanGate_RejectedModifyFallsBackToSkip(t *testing.T) {
	state, lr := replanFixture(t)
	fake := capabilitytest.New().Return(capability.KindReplanner, dag.ReplanDecision{
		Action:        dag.ReplanModifyDAG,
		UpdatedIssues: []dag.Issue{{Name: "api", DependsOn: []string{"ui"}}},
	})
	gate := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil, nil)

	out := gate.Apply(context.Background(), state, lr)
	assert.False(t, out.Restart)
	assert.ElementsMatch(t, []string{"api", "ui"}, out.Skipped)
	require.Len(t, state.ReplanHistory, 1)
	assert.NotEmpty(t, state.ReplanHistory[0].Error)
}

func TestReplanGate_Abort(t *testing.T) {
	state, lr := replanFixture(t)
	fake := capabilitytest.New().Return(capability.KindReplanner, dag.ReplanDecision{
		Action: dag.ReplanAbort, Rationale: "requirements are contradictory",
	})
	gate := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil, nil)

	out := gate.Apply(context.Background(), state, lr)
	assert.True(t, out.Abort)
	assert.True(t, state.Aborted)
	assert.Equal(t, "requirements are contradictory", state.AbortReason)
}

func TestReplanGate_BudgetExhaustedSkipsWithoutAsking(t *testing.T) {
	state, lr := replanFixture(t)
	state.ReplanCount = 2
	fake := capabilitytest.New()
	gate := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil, nil)

	out := gate.Apply(context.Background(), state, lr)
	assert.ElementsMatch(t, []string{"api", "ui"}, out.Skipped)
	assert.Zero(t, fake.CallCount(capability.KindReplanner))
	assert.Equal(t, 2, state.ReplanCount)
}

func TestReplanGate_ReplannerFailureActsLikeContinue(t *testing.T) {
	state, lr := replanFixture(t)
	fake := capabilitytest.New().Fail(capability.KindReplanner, errors.New("timeout"))
	gate := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil, nil)

	out := gate.Apply(context.Background(), state, lr)
	assert.ElementsMatch(t, []string{"api", "ui"}, out.Skipped)
	assert.Zero(t, state.ReplanCount)
}

func TestReplanGate_NoFailuresIsNoop(t *testing.T) {
	state := newState(t, dag.Issue{Name: "a"})
	fake := capabilitytest.New()
	out := NewReplanGate(capability.NewDispatcher(fake), dag.DefaultExecutionConfig(), nil, nil, nil).
		Apply(context.Background(), state, dag.LevelResult{})
	assert.Equal(t, ReplanOutcome{}, out)
}

// -----------------------------------------------------------------------------
// Describer
// -----------------------------------------------------------------------------

func TestRenderDescription(t *testing.T) {
	body, err := RenderDescription(dag.Issue{
		Name:               "core-io",
		Title:              "Core IO",
		Description:        "Read and write files.",
		AcceptanceCriteria: []string{"reads", "writes"},
		DependsOn:          []string{"core-types"},
		ParentIssue:        "core",
		FilesToCreate:      []string{"io.go"},
		SequenceNumber:     102,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, "# Core IO\n"))
	assert.Contains(t, body, "- Split from: `core`")
	assert.Contains(t, body, "- Depends on: `core-types`")
	assert.Contains(t, body, "- [ ] reads")
	assert.Contains(t, body, "- create `io.go`")
}

func TestDescriber_PathNaming(t *testing.T) {
	d := NewDescriber("/art")
	assert.Equal(t, "/art/plan/issues/issue-07-core.md", d.Path(dag.Issue{Name: "core", SequenceNumber: 7}))
}
