// Package execcap serves capabilities by running an external command per
// call. The command receives a JSON envelope on stdin:
//
//	{"capability": "coder", "payload": {...}}
//
// and must answer on stdout with:
//
//	{"result": {...}}            on success
//	{"error": "why it refused"}  on a logical failure
//
// A non-zero exit status is a transport failure and is retryable; an
// "error" answer is a logical rejection and is not.
package execcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Iron-Ham/issueforge/internal/capability"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/logging"
)

// stderrTail bounds how much stderr is carried into an error.
const stderrTail = 2000

// Config describes which command serves which capability.
type Config struct {
	// Command is the default command for every capability.
	Command []string
	// Overrides maps a capability target (e.g. "coder") to its own command.
	Overrides map[string][]string
	// Env holds extra KEY=VALUE entries appended to the process environment.
	Env []string
}

// CommandFor returns the command serving kind, or nil when none is configured.
func (c Config) CommandFor(kind capability.Kind) []string {
	if cmd, ok := c.Overrides[kind.Target()]; ok && len(cmd) > 0 {
		return cmd
	}
	return c.Command
}

// Spec is one process invocation.
type Spec struct {
	Argv   []string
	Env    []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner starts a process and waits for it.
type Runner interface {
	Run(ctx context.Context, spec Spec) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec Spec) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, spec Spec) error { return f(ctx, spec) }

// ProcessRunner runs commands with os/exec. Cancellation kills the process;
// WaitDelay bounds how long a killed process may hold its pipes open.
type ProcessRunner struct {
	WaitDelay time.Duration
}

// Run implements Runner.
func (p ProcessRunner) Run(ctx context.Context, spec Spec) error {
	if len(spec.Argv) == 0 {
		return errors.NewValidationError("empty command").WithField("command")
	}
	cmd := exec.CommandContext(ctx, spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdin = spec.Stdin
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.WaitDelay = p.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	return cmd.Run()
}

// request is the envelope written to the command's stdin.
type request struct {
	Capability string `json:"capability"`
	Payload    any    `json:"payload"`
}

// response is the envelope read from the command's stdout.
type response struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Option configures a Caller.
type Option func(*Caller)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Caller) { c.logger = logging.OrNop(l) }
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(c *Caller) { c.runner = r }
}

// Caller implements capability.Caller over external commands.
type Caller struct {
	cfg    Config
	runner Runner
	logger *logging.Logger
}

var _ capability.Caller = (*Caller)(nil)

// New creates a Caller.
func New(cfg Config, opts ...Option) *Caller {
	c := &Caller{
		cfg:    cfg,
		runner: ProcessRunner{},
		logger: logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call implements capability.Caller.
func (c *Caller) Call(ctx context.Context, kind capability.Kind, payload any) (json.RawMessage, error) {
	target := kind.Target()
	argv := c.cfg.CommandFor(kind)
	if len(argv) == 0 {
		return nil, errors.NewCapabilityError("no command configured", errors.ErrCapabilityUnavailable).
			WithKind(target).
			WithRetryable(false)
	}

	input, err := capability.Encode(request{Capability: target, Payload: payload})
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	start := time.Now()
	runErr := c.runner.Run(ctx, Spec{
		Argv:   argv,
		Env:    c.cfg.Env,
		Dir:    workDir(payload),
		Stdin:  bytes.NewReader(input),
		Stdout: &stdout,
		Stderr: &stderr,
	})
	c.logger.Debug("capability command finished",
		"capability", target,
		"command", argv[0],
		"duration", time.Since(start),
		"stdout_bytes", stdout.Len(),
		"error", runErr)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := fmt.Sprintf("%s exited: %v", argv[0], runErr)
		if tail := tailOf(stderr.String()); tail != "" {
			msg += ": " + tail
		}
		return nil, errors.NewCapabilityError(msg, nil).WithKind(target)
	}

	var resp response
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, errors.NewCapabilityError("decode response: "+err.Error(), errors.ErrMalformedResult).
			WithKind(target).
			WithRetryable(false)
	}
	if resp.Error != "" {
		return nil, errors.NewCapabilityError(resp.Error, nil).
			WithKind(target).
			WithRetryable(false)
	}
	return resp.Result, nil
}

// workDir runs agent capabilities inside the issue's worktree when it has one.
func workDir(payload any) string {
	switch p := payload.(type) {
	case capability.CoderRequest:
		return p.WorktreePath
	case capability.QARequest:
		return p.WorktreePath
	case capability.ReviewRequest:
		return p.WorktreePath
	case capability.IntegrationTestRequest:
		return p.RepoPath
	}
	return ""
}

func tailOf(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return s
}
