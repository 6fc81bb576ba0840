package gates

import (
	"context"
	"slices"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// WorktreeDirFunc resolves the worktree directory for a repository.
type WorktreeDirFunc func(repoPath string) string

// WorktreeGate requests one branch and working copy per active issue.
type WorktreeGate struct {
	caps        *capability.Dispatcher
	worktreeDir WorktreeDirFunc
	logger      *logging.Logger
}

// NewWorktreeGate creates a WorktreeGate. worktreeDir may be nil to let the
// workspace-setup capability choose.
func NewWorktreeGate(caps *capability.Dispatcher, worktreeDir WorktreeDirFunc, logger *logging.Logger) *WorktreeGate {
	return &WorktreeGate{caps: caps, worktreeDir: worktreeDir, logger: logging.OrNop(logger)}
}

// repoGroup is the set of issues that live in one repository.
type repoGroup struct {
	repo   dag.WorkspaceRepo
	issues []dag.Issue
}

// groupByRepo buckets issues by resolved target repository, keeping the
// order in which repositories first appear.
func groupByRepo(state *dag.DAGState, issues []dag.Issue) []repoGroup {
	var groups []repoGroup
	for _, iss := range issues {
		repo := state.ResolveRepo(iss)
		idx := slices.IndexFunc(groups, func(g repoGroup) bool { return g.repo.Name == repo.Name })
		if idx < 0 {
			groups = append(groups, repoGroup{repo: repo})
			idx = len(groups) - 1
		}
		groups[idx].issues = append(groups[idx].issues, iss)
	}
	return groups
}

// integrationBranch returns the branch issues of repo are cut from and
// merged into.
func integrationBranch(state *dag.DAGState, repo string) string {
	if view, ok := state.RepoView(repo); ok && view.Init != nil && view.Init.IntegrationBranch != "" {
		return view.Init.IntegrationBranch
	}
	return state.IntegrationBranch
}

// Setup creates worktrees for active and writes the assigned path and
// branch into both the state's issues and the returned copies. Issues the
// capability could not isolate keep running in the repository itself.
func (g *WorktreeGate) Setup(ctx context.Context, state *dag.DAGState, active []dag.Issue) []dag.Issue {
	out := make([]dag.Issue, len(active))
	copy(out, active)

	for _, group := range groupByRepo(state, active) {
		logger := g.logger.With("repo", group.repo.Name)
		req := capability.WorkspaceSetupRequest{
			RepoPath:   group.repo.Path,
			RepoName:   group.repo.Name,
			BuildID:    state.BuildID,
			BaseBranch: integrationBranch(state, group.repo.Name),
		}
		if g.worktreeDir != nil {
			req.WorktreeDir = g.worktreeDir(group.repo.Path)
		}
		for _, iss := range group.issues {
			req.Issues = append(req.Issues, capability.WorktreeSpec{Issue: iss.Name, SequenceNumber: iss.SequenceNumber})
		}

		res, err := g.caps.SetupWorkspace(ctx, req)
		if err != nil {
			logger.Warn("workspace setup failed, issues run without isolation", "error", err.Error())
			continue
		}
		for name, msg := range res.Errors {
			logger.Warn("worktree not created", "issue", name, "error", msg)
		}
		for _, wt := range res.Worktrees {
			if iss, ok := state.Issue(wt.Issue); ok {
				iss.WorktreePath = wt.Path
				iss.BranchName = wt.Branch
			}
			for i := range out {
				if out[i].Name == wt.Issue {
					out[i].WorktreePath = wt.Path
					out[i].BranchName = wt.Branch
				}
			}
		}
		logger.Info("worktrees ready", "count", len(res.Worktrees))
	}
	return out
}
