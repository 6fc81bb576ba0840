package capability

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/errors"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/metrics"
	"github.com/Iron-Ham/issueforge/internal/telemetry"
)

// Timeouts are the per-call deadlines applied by the Dispatcher. A zero
// value means no deadline for that class.
type Timeouts struct {
	Default         time.Duration
	Coder           time.Duration
	Merge           time.Duration
	IntegrationTest time.Duration
}

// TimeoutsFrom extracts the call deadlines from an ExecutionConfig.
func TimeoutsFrom(cfg dag.ExecutionConfig) Timeouts {
	return Timeouts{
		Default:         cfg.CapabilityTimeout,
		Coder:           cfg.CoderTimeout,
		Merge:           cfg.MergeTimeout,
		IntegrationTest: cfg.IntegrationTestTimeout,
	}
}

// For returns the deadline for kind.
func (t Timeouts) For(kind Kind) time.Duration {
	switch kind {
	case KindCoder:
		if t.Coder > 0 {
			return t.Coder
		}
	case KindMerger:
		if t.Merge > 0 {
			return t.Merge
		}
	case KindIntegrationTester:
		if t.IntegrationTest > 0 {
			return t.IntegrationTest
		}
	}
	return t.Default
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(logger) }
}

// WithMetrics records call counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTimeouts sets per-kind deadlines.
func WithTimeouts(t Timeouts) Option {
	return func(d *Dispatcher) { d.timeouts = t }
}

// WithRateLimit bounds the call rate across all kinds. A non-positive
// rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(d *Dispatcher) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTracer overrides the tracer used for call spans.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithExecutionConfig applies the timeouts and rate limit from cfg.
func WithExecutionConfig(cfg dag.ExecutionConfig) Option {
	return func(d *Dispatcher) {
		WithTimeouts(TimeoutsFrom(cfg))(d)
		WithRateLimit(cfg.CapabilityRateLimit, cfg.CapabilityBurst)(d)
	}
}

// Dispatcher applies deadlines, rate limiting, metrics and tracing around a
// Caller and decodes results into typed structs. It is safe for concurrent
// use.
type Dispatcher struct {
	caller   Caller
	timeouts Timeouts
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	logger   *logging.Logger
	tracer   trace.Tracer
}

// NewDispatcher wraps caller.
func NewDispatcher(caller Caller, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		caller: caller,
		logger: logging.NopLogger(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Call implements Caller.
//
// A call that exceeds its deadline returns a TimeoutError wrapping
// context.DeadlineExceeded. Cancellation of ctx itself is not a timeout and
// is returned as a non-retryable CapabilityError. The deadline is scoped to
// this call only; sibling calls sharing ctx are unaffected.
func (d *Dispatcher) Call(ctx context.Context, kind Kind, payload any) (json.RawMessage, error) {
	issue := issueName(payload)
	ctx, span := d.tracer.Start(ctx, "capability."+kind.Target(),
		trace.WithAttributes(
			attribute.String("capability.target", kind.Target()),
			attribute.String("issue", issue),
		))
	defer span.End()

	logger := d.logger.With("capability", kind.Target())
	if issue != "" {
		logger = logger.WithIssue(issue)
	}

	if d.limiter != nil {
		waitStart := time.Now()
		if err := d.limiter.Wait(ctx); err != nil {
			err = errors.NewCapabilityError("rate limiter wait", err).
				WithKind(kind.Target()).
				WithIssue(issue).
				WithRetryable(false)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		d.metrics.RecordRateLimitWait(time.Since(waitStart))
	}

	timeout := d.timeouts.For(kind)
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	logger.Debug("capability call started", "timeout", timeout.String())
	start := time.Now()
	raw, err := d.caller.Call(callCtx, kind, payload)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		switch {
		case ctx.Err() != nil:
			err = errors.NewCapabilityError("call cancelled", err).
				WithKind(kind.Target()).
				WithIssue(issue).
				WithRetryable(false)
		case callCtx.Err() == context.DeadlineExceeded:
			status = "timeout"
			err = errors.NewTimeoutError(kind.Target()+" call", timeout).WithCause(context.DeadlineExceeded)
		default:
			var engineErr errors.EngineError
			if !errors.As(err, &engineErr) {
				err = errors.NewCapabilityError("call failed", err).
					WithKind(kind.Target()).
					WithIssue(issue)
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("capability call failed",
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"error", err.Error())
	} else {
		logger.Debug("capability call finished", "duration_ms", elapsed.Milliseconds())
	}
	span.SetAttributes(attribute.String("capability.status", status))
	d.metrics.RecordCapabilityCall(kind.Target(), status, elapsed)

	return raw, err
}

func invoke[T any](ctx context.Context, d *Dispatcher, kind Kind, payload any) (T, error) {
	raw, err := d.Call(ctx, kind, payload)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := Decode[T](kind, raw)
	if err != nil {
		d.metrics.RecordCapabilityCall(kind.Target(), "malformed", 0)
	}
	return out, err
}

func issueName(payload any) string {
	switch p := payload.(type) {
	case CoderRequest:
		return p.Issue.Name
	case ReviewRequest:
		return p.Issue.Name
	case QARequest:
		return p.Issue.Name
	case SynthesisRequest:
		return p.Issue.Name
	case AdvisorRequest:
		return p.Issue.Name
	case RetryAdviceRequest:
		return p.Issue.Name
	}
	return ""
}

// Coder invokes the coder.
func (d *Dispatcher) Coder(ctx context.Context, req CoderRequest) (CoderResult, error) {
	return invoke[CoderResult](ctx, d, KindCoder, req)
}

// QA invokes QA.
func (d *Dispatcher) QA(ctx context.Context, req QARequest) (QAResult, error) {
	return invoke[QAResult](ctx, d, KindQA, req)
}

// Review invokes the code reviewer.
func (d *Dispatcher) Review(ctx context.Context, req ReviewRequest) (ReviewResult, error) {
	return invoke[ReviewResult](ctx, d, KindCodeReviewer, req)
}

// Synthesize invokes the QA synthesizer.
func (d *Dispatcher) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	return invoke[SynthesisResult](ctx, d, KindQASynthesizer, req)
}

// IssueAdvisor invokes the issue advisor.
func (d *Dispatcher) IssueAdvisor(ctx context.Context, req AdvisorRequest) (AdvisorDecision, error) {
	return invoke[AdvisorDecision](ctx, d, KindIssueAdvisor, req)
}

// RetryAdvisor invokes the retry advisor.
func (d *Dispatcher) RetryAdvisor(ctx context.Context, req RetryAdviceRequest) (RetryAdviceResult, error) {
	return invoke[RetryAdviceResult](ctx, d, KindRetryAdvisor, req)
}

// Replan invokes the replanner.
func (d *Dispatcher) Replan(ctx context.Context, req ReplanRequest) (dag.ReplanDecision, error) {
	return invoke[dag.ReplanDecision](ctx, d, KindReplanner, req)
}

// SetupWorkspace invokes workspace setup.
func (d *Dispatcher) SetupWorkspace(ctx context.Context, req WorkspaceSetupRequest) (WorkspaceSetupResult, error) {
	return invoke[WorkspaceSetupResult](ctx, d, KindWorkspaceSetup, req)
}

// CleanupWorkspace invokes workspace cleanup.
func (d *Dispatcher) CleanupWorkspace(ctx context.Context, req WorkspaceCleanupRequest) (WorkspaceCleanupResult, error) {
	return invoke[WorkspaceCleanupResult](ctx, d, KindWorkspaceCleanup, req)
}

// Merge invokes the merger.
func (d *Dispatcher) Merge(ctx context.Context, req MergeRequest) (MergeResult, error) {
	return invoke[MergeResult](ctx, d, KindMerger, req)
}

// IntegrationTest invokes the integration tester.
func (d *Dispatcher) IntegrationTest(ctx context.Context, req IntegrationTestRequest) (IntegrationTestResult, error) {
	return invoke[IntegrationTestResult](ctx, d, KindIntegrationTester, req)
}

// GitInit invokes git-init.
func (d *Dispatcher) GitInit(ctx context.Context, req GitInitRequest) (dag.GitInitOutcome, error) {
	return invoke[dag.GitInitOutcome](ctx, d, KindGitInit, req)
}
