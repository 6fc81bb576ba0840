// Package gitcap implements the git capabilities (workspace setup and
// cleanup, merging, git-init) directly on top of the worktree package.
//
// Agent capabilities are not served here; route them elsewhere with a
// capability.Router.
package gitcap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/worktree"
)

// DefaultWorktreeDir returns <repo>/.issueforge/worktrees.
func DefaultWorktreeDir(repoPath string) string {
	return filepath.Join(repoPath, ".issueforge", "worktrees")
}

// OpenFunc opens a repository.
type OpenFunc func(repoPath string) (worktree.Repository, error)

// Option configures a Caller.
type Option func(*Caller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Caller) { c.logger = logging.OrNop(l) }
}

// WithOpener replaces how repositories are opened.
func WithOpener(open OpenFunc) Option {
	return func(c *Caller) { c.open = open }
}

// WithExecutor sets the executor used by git-init and the default opener.
func WithExecutor(ex worktree.CommandExecutor) Option {
	return func(c *Caller) { c.executor = ex }
}

// Caller serves the git capabilities. Operations on one repository are
// serialized; different repositories proceed concurrently.
type Caller struct {
	open     OpenFunc
	executor worktree.CommandExecutor
	logger   *logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Caller.
func New(opts ...Option) *Caller {
	c := &Caller{
		executor: worktree.NewCLICommandExecutor(),
		logger:   logging.NopLogger(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.open == nil {
		c.open = func(repoPath string) (worktree.Repository, error) {
			root, err := worktree.FindGitRoot(repoPath)
			if err != nil {
				return nil, err
			}
			return worktree.NewWithExecutor(root, c.executor), nil
		}
	}
	return c
}

// Kinds lists the capabilities this Caller serves.
func Kinds() []capability.Kind {
	return []capability.Kind{
		capability.KindWorkspaceSetup,
		capability.KindWorkspaceCleanup,
		capability.KindMerger,
		capability.KindGitInit,
	}
}

func (c *Caller) lock(repoPath string) func() {
	c.mu.Lock()
	l, ok := c.locks[repoPath]
	if !ok {
		l = &sync.Mutex{}
		c.locks[repoPath] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Call implements capability.Caller.
func (c *Caller) Call(ctx context.Context, kind capability.Kind, payload any) (json.RawMessage, error) {
	var (
		result any
		err    error
	)
	switch kind {
	case capability.KindWorkspaceSetup:
		req, ok := payload.(capability.WorkspaceSetupRequest)
		if !ok {
			return nil, badPayload(kind, payload)
		}
		result, err = c.Setup(ctx, req)
	case capability.KindWorkspaceCleanup:
		req, ok := payload.(capability.WorkspaceCleanupRequest)
		if !ok {
			return nil, badPayload(kind, payload)
		}
		result, err = c.Cleanup(ctx, req)
	case capability.KindMerger:
		req, ok := payload.(capability.MergeRequest)
		if !ok {
			return nil, badPayload(kind, payload)
		}
		result, err = c.Merge(ctx, req)
	case capability.KindGitInit:
		req, ok := payload.(capability.GitInitRequest)
		if !ok {
			return nil, badPayload(kind, payload)
		}
		result, err = c.GitInit(ctx, req)
	default:
		return nil, errors.NewCapabilityError("not a git capability", errors.ErrCapabilityUnavailable).
			WithKind(kind.Target()).
			WithRetryable(false)
	}
	if err != nil {
		return nil, err
	}
	return capability.Encode(result)
}

func badPayload(kind capability.Kind, payload any) error {
	return errors.NewValidationError(fmt.Sprintf("unexpected payload %T for %s", payload, kind.Target())).
		WithField("payload")
}

// Setup creates one branch and worktree per issue, cut from BaseBranch (or
// the repository's checked-out branch). An issue whose branch already
// exists is re-attached instead, so a resumed build keeps partial work.
func (c *Caller) Setup(ctx context.Context, req capability.WorkspaceSetupRequest) (capability.WorkspaceSetupResult, error) {
	defer c.lock(req.RepoPath)()

	repo, err := c.open(req.RepoPath)
	if err != nil {
		return capability.WorkspaceSetupResult{}, err
	}
	dir := req.WorktreeDir
	if dir == "" {
		dir = DefaultWorktreeDir(repo.RepoDir())
	}
	base := req.BaseBranch
	if base == "" {
		if base, err = repo.CurrentBranch(ctx, repo.RepoDir()); err != nil {
			return capability.WorkspaceSetupResult{}, err
		}
	}

	res := capability.WorkspaceSetupResult{}
	for _, spec := range req.Issues {
		branch := worktree.BranchName(req.BuildID, spec.SequenceNumber, spec.Issue)
		path := filepath.Join(dir, worktree.DirName(req.BuildID, spec.SequenceNumber, spec.Issue))

		var setupErr error
		switch {
		case isDir(path) && repo.BranchExists(ctx, branch):
			// already attached from an earlier run
		case repo.BranchExists(ctx, branch):
			_ = repo.Prune(ctx)
			setupErr = repo.CreateWorktreeFromBranch(ctx, path, branch)
		default:
			setupErr = repo.CreateFromBranch(ctx, path, branch, base)
		}
		if setupErr != nil {
			c.logger.Warn("worktree setup failed", "issue", spec.Issue, "branch", branch, "error", setupErr.Error())
			if res.Errors == nil {
				res.Errors = make(map[string]string)
			}
			res.Errors[spec.Issue] = setupErr.Error()
			continue
		}
		res.Worktrees = append(res.Worktrees, capability.WorktreeAssignment{
			Issue:  spec.Issue,
			Path:   path,
			Branch: branch,
		})
	}
	c.logger.Info("worktrees ready", "repo", repo.RepoDir(), "count", len(res.Worktrees), "base", base)
	return res, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Cleanup removes worktrees and deletes branches. Missing branches are not
// errors.
func (c *Caller) Cleanup(ctx context.Context, req capability.WorkspaceCleanupRequest) (capability.WorkspaceCleanupResult, error) {
	defer c.lock(req.RepoPath)()

	repo, err := c.open(req.RepoPath)
	if err != nil {
		return capability.WorkspaceCleanupResult{}, err
	}

	res := capability.WorkspaceCleanupResult{}
	for _, path := range req.Worktrees {
		if err := repo.Remove(ctx, path); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.Removed = append(res.Removed, path)
	}
	for _, branch := range req.Branches {
		if err := repo.DeleteBranch(ctx, branch); err != nil {
			if !errors.Is(err, errors.ErrBranchNotFound) {
				res.Errors = append(res.Errors, err.Error())
			}
			continue
		}
		res.Removed = append(res.Removed, branch)
	}
	if err := repo.Prune(ctx); err != nil {
		res.Errors = append(res.Errors, err.Error())
	}
	return res, nil
}

// Merge checks out the integration branch and merges each branch with
// --no-ff in order. Conflicting branches are aborted and reported as
// failed; the rest still merge.
func (c *Caller) Merge(ctx context.Context, req capability.MergeRequest) (capability.MergeResult, error) {
	defer c.lock(req.RepoPath)()

	repo, err := c.open(req.RepoPath)
	if err != nil {
		return capability.MergeResult{}, err
	}
	if !repo.BranchExists(ctx, req.IntegrationBranch) {
		if err := repo.CreateBranchFrom(ctx, req.IntegrationBranch, ""); err != nil {
			return capability.MergeResult{}, err
		}
	}
	if err := repo.Checkout(ctx, req.IntegrationBranch); err != nil {
		return capability.MergeResult{}, err
	}

	res := capability.MergeResult{}
	for _, branch := range req.Branches {
		msg := fmt.Sprintf("Merge %s into %s (level %d)", branch, req.IntegrationBranch, req.Level)
		if err := repo.MergeNoFF(ctx, branch, msg); err != nil {
			c.logger.Warn("branch merge failed",
				"branch", branch,
				"conflict", errors.Is(err, errors.ErrMergeConflict),
				"error", err.Error())
			res.Failed = append(res.Failed, branch)
			continue
		}
		res.Merged = append(res.Merged, branch)
	}
	res.NeedsIntegrationTest = len(res.Merged) > 0
	res.Summary = fmt.Sprintf("merged %d of %d branches into %s", len(res.Merged), len(req.Branches), req.IntegrationBranch)
	return res, nil
}

// GitInit makes RepoPath a repository if needed, records the original
// branch and HEAD, then creates and checks out the integration branch.
func (c *Caller) GitInit(ctx context.Context, req capability.GitInitRequest) (dag.GitInitOutcome, error) {
	defer c.lock(req.RepoPath)()

	if err := worktree.Init(ctx, c.executor, req.RepoPath); err != nil {
		return dag.GitInitOutcome{}, err
	}
	repo, err := c.open(req.RepoPath)
	if err != nil {
		return dag.GitInitOutcome{}, err
	}

	original, err := repo.CurrentBranch(ctx, repo.RepoDir())
	if err != nil {
		return dag.GitInitOutcome{}, err
	}
	head, err := repo.HeadCommit(ctx)
	if err != nil {
		return dag.GitInitOutcome{}, err
	}
	if !repo.BranchExists(ctx, req.IntegrationBranch) {
		if err := repo.CreateBranchFrom(ctx, req.IntegrationBranch, ""); err != nil {
			return dag.GitInitOutcome{}, err
		}
	}
	if original != req.IntegrationBranch {
		if err := repo.Checkout(ctx, req.IntegrationBranch); err != nil {
			return dag.GitInitOutcome{}, err
		}
	}

	return dag.GitInitOutcome{
		Success:           true,
		IntegrationBranch: req.IntegrationBranch,
		OriginalBranch:    original,
		InitialCommit:     head,
	}, nil
}

// Sweep removes residual issue worktrees left in repoPath. With a build ID
// only that build's worktrees match; otherwise every issue worktree does.
// It returns the removed paths.
func (c *Caller) Sweep(ctx context.Context, repoPath, buildID string) ([]string, error) {
	defer c.lock(repoPath)()

	repo, err := c.open(repoPath)
	if err != nil {
		return nil, err
	}
	pattern := worktree.DirPrefix + "*"
	if buildID != "" {
		pattern = worktree.DirPrefix + buildID + "-*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewValidationError("invalid sweep pattern").WithValue(pattern).WithCause(err)
	}

	paths, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, p := range paths {
		if filepath.Clean(p) == filepath.Clean(repo.RepoDir()) || !g.Match(filepath.Base(p)) {
			continue
		}
		if err := repo.Remove(ctx, p); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	_ = repo.Prune(ctx)
	return removed, errors.Join(errs...)
}
