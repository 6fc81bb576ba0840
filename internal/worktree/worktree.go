package worktree

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/issueforge/internal/errors"
)

// Manager handles git operations for one repository.
type Manager struct {
	repoDir  string
	executor CommandExecutor
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", errors.NewGitError("invalid path", err).WithRepository(startDir)
	}
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			// .git can be a directory (normal repo) or a file (worktree)
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("no repository found up to filesystem root", errors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
func New(repoDir string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	return &Manager{repoDir: gitRoot, executor: NewCLICommandExecutor()}, nil
}

// NewWithExecutor creates a Manager rooted at repoDir without probing the
// filesystem. This is primarily useful for testing.
func NewWithExecutor(repoDir string, executor CommandExecutor) *Manager {
	return &Manager{repoDir: repoDir, executor: executor}
}

// RepoDir returns the repository root.
func (m *Manager) RepoDir() string {
	return m.repoDir
}

func (m *Manager) git(ctx context.Context, dir, message string, args ...string) (string, error) {
	return run(ctx, m.executor, dir, message, args...)
}

// CreateFromBranch creates a new worktree at path with a new branch based
// off baseBranch.
func (m *Manager) CreateFromBranch(ctx context.Context, path, newBranch, baseBranch string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.NewGitError("worktree path already exists", errors.ErrWorktreeExists).
			WithWorktree(path).
			WithBranch(newBranch)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewGitError("failed to create worktree parent", err).WithWorktree(path)
	}

	args := []string{"worktree", "add", "-b", newBranch, path}
	if baseBranch != "" {
		args = append(args, baseBranch)
	}
	_, err := m.git(ctx, m.repoDir, "failed to create worktree", args...)
	if err != nil {
		var gitErr *errors.GitError
		if errors.As(err, &gitErr) {
			gitErr.WithWorktree(path).WithBranch(newBranch)
		}
		return err
	}
	return nil
}

// CreateWorktreeFromBranch attaches a worktree at path to an existing
// branch. It is used to resume an issue whose branch survived a crash.
func (m *Manager) CreateWorktreeFromBranch(ctx context.Context, path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewGitError("failed to create worktree parent", err).WithWorktree(path)
	}
	_, err := m.git(ctx, m.repoDir, "failed to attach worktree", "worktree", "add", path, branch)
	return err
}

// Remove removes a worktree. If git refuses, the directory is deleted and
// stale records pruned; the original failure is still returned.
func (m *Manager) Remove(ctx context.Context, path string) error {
	if _, err := m.git(ctx, m.repoDir, "failed to remove worktree cleanly", "worktree", "remove", "--force", path); err != nil {
		_ = os.RemoveAll(path)
		_ = m.Prune(ctx)
		return err
	}
	return nil
}

// Prune removes records of worktrees whose directories no longer exist.
func (m *Manager) Prune(ctx context.Context) error {
	_, err := m.git(ctx, m.repoDir, "failed to prune worktrees", "worktree", "prune")
	return err
}

// List returns all worktrees.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	out, err := m.git(ctx, m.repoDir, "failed to list worktrees", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var worktrees []string
	for _, line := range strings.Split(out, "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees, nil
}

// CreateBranchFrom creates a new branch from a specified base branch
// (without creating a worktree).
func (m *Manager) CreateBranchFrom(ctx context.Context, branch, baseBranch string) error {
	args := []string{"branch", branch}
	if baseBranch != "" {
		args = append(args, baseBranch)
	}
	_, err := m.git(ctx, m.repoDir, "failed to create branch", args...)
	return err
}

// DeleteBranch force-deletes a branch.
func (m *Manager) DeleteBranch(ctx context.Context, branch string) error {
	if !m.BranchExists(ctx, branch) {
		return errors.NewGitError("cannot delete branch", errors.ErrBranchNotFound).WithBranch(branch)
	}
	_, err := m.git(ctx, m.repoDir, "failed to delete branch", "branch", "-D", branch)
	return err
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(ctx context.Context, branch string) bool {
	_, err := m.git(ctx, m.repoDir, "branch lookup", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// CurrentBranch returns the branch checked out at path.
func (m *Manager) CurrentBranch(ctx context.Context, path string) (string, error) {
	return m.git(ctx, path, "failed to get branch", "rev-parse", "--abbrev-ref", "HEAD")
}

// Checkout switches the repository root to branch.
func (m *Manager) Checkout(ctx context.Context, branch string) error {
	_, err := m.git(ctx, m.repoDir, "failed to checkout branch", "checkout", branch)
	return err
}

// FindMainBranch returns "main" when it exists, else "master".
func (m *Manager) FindMainBranch(ctx context.Context) string {
	if m.BranchExists(ctx, "main") {
		return "main"
	}
	return "master"
}

// HeadCommit returns the commit SHA at HEAD of the repository root.
func (m *Manager) HeadCommit(ctx context.Context) (string, error) {
	return m.git(ctx, m.repoDir, "failed to resolve HEAD", "rev-parse", "HEAD")
}

// MergeNoFF merges branch into the checked-out branch with a merge commit.
func (m *Manager) MergeNoFF(ctx context.Context, branch, message string) error {
	out, err := m.git(ctx, m.repoDir, "failed to merge branch", "merge", "--no-ff", "-m", message, branch)
	if err == nil {
		return nil
	}
	if strings.Contains(out, "CONFLICT") || strings.Contains(out, "Automatic merge failed") {
		_ = m.AbortMerge(ctx)
		return errors.NewGitError("merge conflict", errors.ErrMergeConflict).
			WithRepository(m.repoDir).
			WithBranch(branch).
			WithGitOutput(truncateOutput(out, maxOutputLen))
	}
	var gitErr *errors.GitError
	if errors.As(err, &gitErr) {
		gitErr.WithBranch(branch)
	}
	return err
}

// AbortMerge aborts an in-progress merge.
func (m *Manager) AbortMerge(ctx context.Context) error {
	_, err := m.git(ctx, m.repoDir, "failed to abort merge", "merge", "--abort")
	return err
}

// ChangedFiles returns files changed at path relative to baseBranch.
func (m *Manager) ChangedFiles(ctx context.Context, path, baseBranch string) ([]string, error) {
	out, err := m.git(ctx, path, "failed to get changed files", "diff", "--name-only", baseBranch+"...HEAD")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return []string{}, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitAll stages and commits all changes at path. It is a no-op when
// there is nothing to commit.
func (m *Manager) CommitAll(ctx context.Context, path, message string) error {
	if _, err := m.git(ctx, path, "failed to stage changes", "add", "-A"); err != nil {
		return err
	}
	out, err := m.git(ctx, path, "failed to commit changes", "commit", "-m", message)
	if err != nil && strings.Contains(out, "nothing to commit") {
		return nil
	}
	return err
}
