package scheduler

import (
	"cmp"
	"context"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
)

// DefaultIntegrationBranch is used when the state carries no integration
// branch name.
const DefaultIntegrationBranch = "integration"

// gitInit prepares every repository for the build and reports whether
// worktree isolation can be used. Repositories already initialised by an
// earlier run of the same build are left alone.
func (s *Scheduler) gitInit(ctx context.Context, b *build) bool {
	state := b.state
	if state.IntegrationBranch == "" {
		state.IntegrationBranch = DefaultIntegrationBranch
		if state.BuildID != "" {
			state.IntegrationBranch += "/" + state.BuildID
		}
	}

	if state.Workspace.IsMultiRepo() {
		ok := false
		for _, repo := range state.Workspace.Repos {
			if prev, done := state.RepoInitOutcomes[repo.Name]; done && prev.Success {
				ok = true
				continue
			}
			out, err := s.caps.GitInit(ctx, capability.GitInitRequest{
				RepoPath:          repo.Path,
				BuildID:           state.BuildID,
				IntegrationBranch: state.IntegrationBranch,
			})
			if err != nil {
				out = dag.GitInitOutcome{Error: err.Error()}
			}
			state.SetRepoInitOutcome(repo.Name, out)
			if !out.Success {
				b.logger.Warn("git init failed", "repo", repo.Name, "error", out.Error)
				continue
			}
			b.logger.Info("repository ready", "repo", repo.Name, "branch", out.IntegrationBranch)
			ok = true
		}
		return ok
	}

	if state.InitialCommit != "" {
		return true
	}
	repo := state.ResolveRepo(dag.Issue{})
	out, err := s.caps.GitInit(ctx, capability.GitInitRequest{
		RepoPath:          repo.Path,
		BuildID:           state.BuildID,
		IntegrationBranch: state.IntegrationBranch,
	})
	if err == nil && !out.Success {
		err = errors.New(cmp.Or(out.Error, "git init reported failure"))
	}
	if err != nil {
		b.logger.Warn("git init failed, running without isolation", "repo", repo.Path, "error", err.Error())
		return false
	}
	if out.IntegrationBranch != "" {
		state.IntegrationBranch = out.IntegrationBranch
	}
	state.OriginalBranch = out.OriginalBranch
	state.InitialCommit = out.InitialCommit
	b.logger.Info("repository ready", "branch", state.IntegrationBranch, "original", state.OriginalBranch)
	return true
}

// sweepResidual removes worktrees of this build that cleanup missed.
func (s *Scheduler) sweepResidual(ctx context.Context, b *build) {
	if s.sweep == nil || !b.isolated {
		return
	}
	paths := []string{b.state.ResolveRepo(dag.Issue{}).Path}
	if b.state.Workspace.IsMultiRepo() {
		paths = paths[:0]
		for _, repo := range b.state.Workspace.Repos {
			paths = append(paths, repo.Path)
		}
	}
	for _, p := range paths {
		removed, err := s.sweep(ctx, p, b.state.BuildID)
		if err != nil {
			b.logger.Warn("worktree sweep failed", "repo", p, "error", err.Error())
		}
		if len(removed) > 0 {
			b.logger.Info("swept residual worktrees", "repo", p, "removed", removed)
		}
	}
}
