package scheduler

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/issueforge/internal/dag"
	"github.com/Iron-Ham/issueforge/internal/event"
	"github.com/Iron-Ham/issueforge/internal/gates"
	"github.com/Iron-Ham/issueforge/internal/logging"
	"github.com/Iron-Ham/issueforge/internal/metrics"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = logging.OrNop(l) }
}

// WithBus publishes lifecycle events on bus.
func WithBus(bus *event.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithMetrics records in-flight issues on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer sets the tracer used for level spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithCheckpointer overrides the checkpointer derived from the state's
// artifacts directory.
func WithCheckpointer(cp *dag.Checkpointer) Option {
	return func(s *Scheduler) { s.checkpointer = cp }
}

// WithDescriber overrides the description writer derived from the state's
// artifacts directory.
func WithDescriber(d *gates.Describer) Option {
	return func(s *Scheduler) { s.describer = d }
}

// WithWorktreeDir sets where worktrees are created for each repository.
func WithWorktreeDir(fn gates.WorktreeDirFunc) Option {
	return func(s *Scheduler) { s.worktreeDir = fn }
}

// WithSweep sets the best-effort residual worktree sweep run at the end of
// every build.
func WithSweep(fn SweepFunc) Option {
	return func(s *Scheduler) { s.sweep = fn }
}
