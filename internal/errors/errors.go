// Package errors provides centralized error definitions and error handling utilities
// for the issueforge engine. It defines domain-specific errors, semantic error types,
// and error classification helpers.
//
// # Error Types
//
// Domain-specific errors represent failures from specific subsystems:
//   - CapabilityError: a remote capability call failed (transport or logical failure)
//   - GraphError: structural dependency-graph problems (cycle, dangling reference)
//   - GitError: git operations (worktrees, branches, merges)
//   - CheckpointError: missing or corrupt durable state
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewCapabilityError("coder call failed", cause).
//	    WithKind("coder").
//	    WithIssue("auth-middleware")
//
//	if errors.IsStructural(err) { ... }
//	if errors.IsRetryable(err) { ... }
//
// # Propagation
//
// Capability failures are usually downgraded to safe defaults by the caller.
// Structural errors are never downgraded: they are caught at the gate that
// attempted the graph mutation.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Capability-related sentinel errors
var (
	// ErrCapabilityFailed indicates a capability returned a logical failure.
	ErrCapabilityFailed = New("capability failed")
	// ErrCapabilityUnavailable indicates no caller is registered for a capability.
	ErrCapabilityUnavailable = New("capability unavailable")
	// ErrMalformedResult indicates a capability result could not be decoded.
	ErrMalformedResult = New("malformed capability result")
)

// Graph-related sentinel errors
var (
	// ErrDependencyCycle indicates a circular dependency between issues.
	ErrDependencyCycle = New("dependency cycle detected")
	// ErrDanglingReference indicates a name that does not resolve to an issue.
	ErrDanglingReference = New("dangling issue reference")
	// ErrDuplicateIssue indicates two issues share a name.
	ErrDuplicateIssue = New("duplicate issue name")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrWorktreeExists indicates that a worktree already exists.
	ErrWorktreeExists = New("worktree already exists")
	// ErrBranchNotFound indicates that a branch could not be found.
	ErrBranchNotFound = New("branch not found")
	// ErrMergeConflict indicates that a merge conflict occurred.
	ErrMergeConflict = New("merge conflict")
)

// Checkpoint-related sentinel errors
var (
	// ErrCheckpointNotFound indicates no checkpoint exists at the expected path.
	ErrCheckpointNotFound = New("checkpoint not found")
	// ErrCheckpointCorrupt indicates the checkpoint could not be decoded.
	ErrCheckpointCorrupt = New("checkpoint corrupt")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// EngineError is the base interface for all issueforge errors.
type EngineError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// formatPrefixed renders "<prefix> [k=v, ...]: message: cause".
func formatPrefixed(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// CapabilityError represents a failed remote capability call.
//
// Example:
//
//	err := errors.NewCapabilityError("reviewer returned no verdict", errors.ErrMalformedResult)
//	err = err.WithKind("code-reviewer").WithIssue("core").WithAttempt(2)
type CapabilityError struct {
	baseError
	Kind    string
	Issue   string
	Attempt int
}

// NewCapabilityError creates a new CapabilityError. Capability failures are
// retryable by default; logical rejections should call WithRetryable(false).
func NewCapabilityError(message string, cause error) *CapabilityError {
	return &CapabilityError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			severity:  SeverityError,
			retryable: true,
		},
	}
}

// WithKind adds the capability target name to the error context.
func (e *CapabilityError) WithKind(kind string) *CapabilityError {
	e.Kind = kind
	return e
}

// WithIssue adds the issue name to the error context.
func (e *CapabilityError) WithIssue(name string) *CapabilityError {
	e.Issue = name
	return e
}

// WithAttempt adds the attempt number to the error context.
func (e *CapabilityError) WithAttempt(n int) *CapabilityError {
	e.Attempt = n
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *CapabilityError) WithRetryable(r bool) *CapabilityError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *CapabilityError) Error() string {
	var parts []string
	if e.Kind != "" {
		parts = append(parts, fmt.Sprintf("kind=%s", e.Kind))
	}
	if e.Issue != "" {
		parts = append(parts, fmt.Sprintf("issue=%s", e.Issue))
	}
	if e.Attempt > 0 {
		parts = append(parts, fmt.Sprintf("attempt=%d", e.Attempt))
	}
	return formatPrefixed("capability error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *CapabilityError) Is(target error) bool {
	if _, ok := target.(*CapabilityError); ok {
		return true
	}
	if target == ErrCapabilityFailed {
		return true
	}
	return e.baseError.Is(target)
}

// GraphError represents a structural problem in the issue dependency graph.
// Graph errors are never retryable.
//
// Example:
//
//	err := errors.NewGraphError("split would introduce a cycle", errors.ErrDependencyCycle).
//	    WithIssues("a", "b", "a")
type GraphError struct {
	baseError
	Issues []string
}

// NewGraphError creates a new GraphError.
func NewGraphError(message string, cause error) *GraphError {
	return &GraphError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
		},
	}
}

// WithIssues records the issue names involved.
func (e *GraphError) WithIssues(names ...string) *GraphError {
	e.Issues = append(e.Issues, names...)
	return e
}

// Error returns the formatted error message.
func (e *GraphError) Error() string {
	var parts []string
	if len(e.Issues) > 0 {
		parts = append(parts, fmt.Sprintf("issues=%s", strings.Join(e.Issues, " -> ")))
	}
	return formatPrefixed("graph error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *GraphError) Is(target error) bool {
	if _, ok := target.(*GraphError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors related to git operations.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists)
//	err = err.WithBranch("issue/ab12cd34-01-core").WithWorktree("/path/to/worktree")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string // Captured git command output
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}
	if e.Repository != "" {
		parts = append(parts, fmt.Sprintf("repo=%s", e.Repository))
	}

	msg := e.message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.GitOutput != "" {
		msg = fmt.Sprintf("%s\ngit output: %s", msg, e.GitOutput)
	}
	return formatPrefixed("git error", parts, msg, nil)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// CheckpointError represents missing or unreadable durable state.
type CheckpointError struct {
	baseError
	Path string
}

// NewCheckpointError creates a new CheckpointError.
func NewCheckpointError(message string, cause error) *CheckpointError {
	return &CheckpointError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithPath adds the checkpoint path to the error context.
func (e *CheckpointError) WithPath(path string) *CheckpointError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *CheckpointError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return formatPrefixed("checkpoint error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *CheckpointError) Is(target error) bool {
	if _, ok := target.(*CheckpointError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("issue", "core")
//	fmt.Println(err) // "issue 'core' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:  fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity: SeverityWarning,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' not found: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("issue name cannot be empty").WithField("name")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:  message,
			severity: SeverityWarning,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return formatPrefixed("validation error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("coder call", 45*time.Minute)
//	fmt.Println(err) // "timeout error: coder call (timeout: 45m0s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:   operation,
			severity:  SeverityWarning,
			retryable: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsStructural returns true for dependency-graph errors. Structural errors
// are never downgraded to soft failures.
func IsStructural(err error) bool {
	if err == nil {
		return false
	}
	var graphErr *GraphError
	return As(err, &graphErr) ||
		Is(err, ErrDependencyCycle) ||
		Is(err, ErrDanglingReference) ||
		Is(err, ErrDuplicateIssue)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement EngineError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var engineErr EngineError
	if As(err, &engineErr) {
		return engineErr.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
