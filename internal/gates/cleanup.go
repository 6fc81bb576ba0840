package gates

import (
	"context"
	"slices"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// CleanupHandle is a running background cleanup. It must be waited on
// before the next level's worktrees are set up.
type CleanupHandle struct {
	done chan struct{}
	errs []string
}

// Wait blocks until cleanup finishes and returns the errors it collected.
// A nil handle returns immediately.
func (h *CleanupHandle) Wait() []string {
	if h == nil {
		return nil
	}
	<-h.done
	return h.errs
}

// StartCleanup removes the worktrees of every issue in lr and deletes the
// branches that merged. Unmerged branches are kept so a later run can
// re-attach them. Worktree paths are cleared from the state before the
// background work starts; the goroutine never touches the state.
func StartCleanup(ctx context.Context, caps *capability.Dispatcher, state *dag.DAGState, lr dag.LevelResult, record dag.MergeRecord, logger *logging.Logger) *CleanupHandle {
	logger = logging.OrNop(logger).WithLevel(lr.Level)

	var merged []string
	for _, r := range record.Repos {
		merged = append(merged, r.Merged...)
	}

	var names []string
	for _, bucket := range [][]dag.IssueResult{lr.Completed, lr.Failed, lr.Skipped} {
		for _, r := range bucket {
			names = append(names, r.Issue)
		}
	}

	reqs := map[string]*capability.WorkspaceCleanupRequest{}
	var order []string
	for _, name := range names {
		iss, ok := state.Issue(name)
		if !ok || iss.WorktreePath == "" {
			continue
		}
		repo := state.ResolveRepo(*iss)
		req, ok := reqs[repo.Name]
		if !ok {
			req = &capability.WorkspaceCleanupRequest{RepoPath: repo.Path}
			reqs[repo.Name] = req
			order = append(order, repo.Name)
		}
		req.Worktrees = append(req.Worktrees, iss.WorktreePath)
		if iss.BranchName != "" && slices.Contains(merged, iss.BranchName) {
			req.Branches = append(req.Branches, iss.BranchName)
		}
		iss.WorktreePath = ""
	}

	h := &CleanupHandle{done: make(chan struct{})}
	if len(order) == 0 {
		close(h.done)
		return h
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(h.done)
		for _, name := range order {
			res, err := caps.CleanupWorkspace(ctx, *reqs[name])
			if err != nil {
				logger.Warn("workspace cleanup failed", "repo", name, "error", err.Error())
				h.errs = append(h.errs, err.Error())
				continue
			}
			h.errs = append(h.errs, res.Errors...)
			logger.Debug("workspace cleaned", "repo", name, "removed", len(res.Removed))
		}
	}()
	return h
}
