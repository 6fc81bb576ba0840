package worktree

import "context"

// WorktreeManager manages worktrees attached to one repository.
type WorktreeManager interface {
	// CreateFromBranch creates a worktree at path on a new branch cut from baseBranch.
	CreateFromBranch(ctx context.Context, path, newBranch, baseBranch string) error
	// CreateWorktreeFromBranch attaches a worktree at path to an existing branch.
	CreateWorktreeFromBranch(ctx context.Context, path, branch string) error
	// Remove removes a worktree, falling back to deleting the directory.
	Remove(ctx context.Context, path string) error
	// List returns paths of all worktrees, including the main working tree.
	List(ctx context.Context) ([]string, error)
	// Prune drops administrative records for worktrees whose directories are gone.
	Prune(ctx context.Context) error
	// RepoDir returns the repository root.
	RepoDir() string
}

// BranchManager manages branches.
type BranchManager interface {
	CreateBranchFrom(ctx context.Context, branch, baseBranch string) error
	DeleteBranch(ctx context.Context, branch string) error
	BranchExists(ctx context.Context, branch string) bool
	CurrentBranch(ctx context.Context, path string) (string, error)
	Checkout(ctx context.Context, branch string) error
	FindMainBranch(ctx context.Context) string
}

// Merger merges branches into the checked-out branch of the repository root.
type Merger interface {
	// MergeNoFF merges branch with a merge commit. A conflicting merge is
	// aborted and reported as ErrMergeConflict.
	MergeNoFF(ctx context.Context, branch, message string) error
	AbortMerge(ctx context.Context) error
	HeadCommit(ctx context.Context) (string, error)
}

// Repository combines every operation the git capabilities need.
type Repository interface {
	WorktreeManager
	BranchManager
	Merger
	ChangedFiles(ctx context.Context, path, baseBranch string) ([]string, error)
}

var (
	_ WorktreeManager = (*Manager)(nil)
	_ BranchManager   = (*Manager)(nil)
	_ Merger          = (*Manager)(nil)
	_ Repository      = (*Manager)(nil)
)
