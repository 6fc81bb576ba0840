package gates

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// MergeGate merges a level's completed branches into the integration
// branch and runs the integration tester when asked to.
//
// A single-repository build retries a failed merge once. A multi-repository
// build merges every repository concurrently and does not retry.
type MergeGate struct {
	caps   *capability.Dispatcher
	cfg    dag.ExecutionConfig
	bus    *event.Bus
	logger *logging.Logger
}

// NewMergeGate creates a MergeGate. bus may be nil.
func NewMergeGate(caps *capability.Dispatcher, cfg dag.ExecutionConfig, bus *event.Bus, logger *logging.Logger) *MergeGate {
	return &MergeGate{caps: caps, cfg: cfg, bus: bus, logger: logging.OrNop(logger)}
}

// mergeJob is one merger call.
type mergeJob struct {
	repo     dag.WorkspaceRepo
	branch   string
	branches []string
}

// Merge merges lr's completed branches, appends the record to the state's
// merge history, and returns it. Merge failures are recorded, never raised.
func (g *MergeGate) Merge(ctx context.Context, state *dag.DAGState, lr dag.LevelResult) dag.MergeRecord {
	record := dag.MergeRecord{Level: lr.Level, Timestamp: time.Now()}
	jobs := g.jobs(state, lr)
	if len(jobs) == 0 {
		return record
	}

	if state.Workspace.IsMultiRepo() {
		record.Repos = g.mergeMultiRepo(ctx, jobs, lr.Level)
	} else {
		record.Repos = []dag.RepoMerge{g.mergeWithRetry(ctx, jobs[0], lr.Level)}
	}

	if g.cfg.EnableIntegrationTesting {
		record.IntegrationTest = g.integrationTest(ctx, jobs, record.Repos, lr.Level)
	}

	state.MergeHistory = append(state.MergeHistory, record)

	var merged []string
	for _, r := range record.Repos {
		merged = append(merged, r.Merged...)
	}
	var passed *bool
	if record.IntegrationTest != nil {
		p := record.IntegrationTest.Passed
		passed = &p
	}
	g.bus.Publish(event.NewMergeCompletedEvent(lr.Level, merged, record.Unmerged(), passed))
	return record
}

// jobs groups completed branches by their resolved repository.
func (g *MergeGate) jobs(state *dag.DAGState, lr dag.LevelResult) []mergeJob {
	var jobs []mergeJob
	for _, r := range lr.Completed {
		if r.BranchName == "" {
			continue
		}
		iss := dag.Issue{Name: r.Issue, TargetRepo: r.RepoName}
		if planned, ok := state.Issue(r.Issue); ok {
			iss = *planned
		}
		repo := state.ResolveRepo(iss)
		idx := slices.IndexFunc(jobs, func(j mergeJob) bool { return j.repo.Name == repo.Name })
		if idx < 0 {
			jobs = append(jobs, mergeJob{repo: repo, branch: integrationBranch(state, repo.Name)})
			idx = len(jobs) - 1
		}
		jobs[idx].branches = append(jobs[idx].branches, r.BranchName)
	}
	return jobs
}

func (g *MergeGate) request(job mergeJob, branches []string, level int) capability.MergeRequest {
	return capability.MergeRequest{
		RepoPath:          job.repo.Path,
		RepoName:          job.repo.Name,
		IntegrationBranch: job.branch,
		Branches:          branches,
		Level:             level,
	}
}

// mergeWithRetry runs one merger call and, if it errors or leaves branches
// unmerged, one more call for whatever is left.
func (g *MergeGate) mergeWithRetry(ctx context.Context, job mergeJob, level int) dag.RepoMerge {
	logger := g.logger.WithLevel(level).With("repo", job.repo.Name)
	out := dag.RepoMerge{Repo: job.repo.Name, Attempts: 1}

	res, err := g.caps.Merge(ctx, g.request(job, job.branches, level))
	remaining := job.branches
	if err == nil {
		out.Merged = res.Merged
		out.NeedsIntegrationTest = res.NeedsIntegrationTest
		remaining = res.Failed
		if res.Success() {
			out.Success = true
			return out
		}
		logger.Warn("merge left branches unmerged, retrying", "failed", res.Failed)
	} else {
		logger.Warn("merge failed, retrying", "error", err.Error())
	}

	out.Attempts = 2
	retry, err := g.caps.Merge(ctx, g.request(job, remaining, level))
	if err != nil {
		logger.Error("merge retry failed", "error", err.Error())
		out.Failed = remaining
		out.Error = err.Error()
		return out
	}
	out.Merged = append(out.Merged, retry.Merged...)
	out.Failed = retry.Failed
	out.NeedsIntegrationTest = out.NeedsIntegrationTest || retry.NeedsIntegrationTest
	out.Success = retry.Success()
	return out
}

// mergeMultiRepo runs one merger call per repository concurrently. A failed
// call marks that repository's branches unmerged; siblings are unaffected.
func (g *MergeGate) mergeMultiRepo(ctx context.Context, jobs []mergeJob, level int) []dag.RepoMerge {
	results := make([]dag.RepoMerge, len(jobs))
	var eg errgroup.Group
	for i, job := range jobs {
		eg.Go(func() error {
			out := dag.RepoMerge{Repo: job.repo.Name, Attempts: 1}
			res, err := g.caps.Merge(ctx, g.request(job, job.branches, level))
			if err != nil {
				g.logger.WithLevel(level).Warn("merge failed", "repo", job.repo.Name, "error", err.Error())
				out.Failed = job.branches
				out.Error = err.Error()
			} else {
				out.Merged = res.Merged
				out.Failed = res.Failed
				out.NeedsIntegrationTest = res.NeedsIntegrationTest
				out.Success = res.Success()
			}
			results[i] = out
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// integrationTest runs the tester for every repository whose merge asked for
// it, retrying up to MaxIntegrationTestRetries times per repository.
func (g *MergeGate) integrationTest(ctx context.Context, jobs []mergeJob, merges []dag.RepoMerge, level int) *dag.IntegrationTestRecord {
	var record *dag.IntegrationTestRecord
	for i, m := range merges {
		if !m.NeedsIntegrationTest || len(m.Merged) == 0 {
			continue
		}
		if record == nil {
			record = &dag.IntegrationTestRecord{Passed: true}
		}
		job := jobs[i]
		maxAttempts := 1 + max(g.cfg.MaxIntegrationTestRetries, 0)

		var (
			res capability.IntegrationTestResult
			err error
		)
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			record.Attempts++
			res, err = g.caps.IntegrationTest(ctx, capability.IntegrationTestRequest{
				RepoPath:          job.repo.Path,
				IntegrationBranch: job.branch,
				Level:             level,
				Merged:            m.Merged,
				Attempt:           attempt,
			})
			if err == nil && res.Passed {
				break
			}
			if err != nil {
				res = capability.IntegrationTestResult{Summary: err.Error()}
			}
			g.logger.WithLevel(level).Warn("integration test failed",
				"repo", job.repo.Name, "attempt", attempt, "summary", res.Summary)
		}
		if !res.Passed {
			record.Passed = false
			record.Failures = append(record.Failures, res.Failures...)
		}
		record.Summary = joinSummary(record.Summary, fmt.Sprintf("%s: %s", job.repo.Name, res.Summary))
	}
	return record
}

func joinSummary(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
