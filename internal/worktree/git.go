// Package worktree provides the git CLI operations behind issue isolation:
// per-issue branches and worktrees, integration-branch merges, and the
// naming scheme that ties both to a build.
//
// All operations go through a [CommandExecutor] so unit tests can script
// git's output without a repository.
package worktree

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/issueforge/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output. git is never allowed
// to prompt for credentials.
func (e *CLICommandExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = 5 * time.Second
	return cmd.CombinedOutput()
}

// maxOutputLen bounds git output attached to errors.
const maxOutputLen = 2000

// truncateOutput shortens s to maxLen bytes, marking the cut with "...".
func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// run executes git in dir and returns trimmed output. Failures are GitErrors
// carrying the repository and git's output.
func run(ctx context.Context, ex CommandExecutor, dir, message string, args ...string) (string, error) {
	out, err := ex.Run(ctx, dir, "git", args...)
	text := strings.TrimSpace(string(out))
	if err != nil {
		return text, errors.NewGitError(message, err).
			WithRepository(dir).
			WithGitOutput(truncateOutput(text, maxOutputLen))
	}
	return text, nil
}

// Init turns dir into a repository with an empty initial commit. It is a
// no-op for directories already inside a repository.
func Init(ctx context.Context, ex CommandExecutor, dir string) error {
	if _, err := FindGitRoot(dir); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewGitError("failed to create repository directory", err).WithRepository(dir)
	}
	if _, err := run(ctx, ex, dir, "failed to init repository", "init"); err != nil {
		return err
	}
	if _, err := run(ctx, ex, dir, "failed to create initial commit",
		"commit", "--allow-empty", "-m", "Initial commit"); err != nil {
		return err
	}
	return nil
}
