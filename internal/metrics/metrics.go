// Package metrics exposes prometheus collectors for the execution engine.
//
// A [Metrics] value owns its own registry so several builds (or tests) can
// run in one process without colliding on global registration. All
// recording methods are safe on a nil receiver.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/issueforge/internal/event"
)

const namespace = "issueforge"

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	capabilityWait     prometheus.Histogram
	issues             *prometheus.CounterVec
	advisorRounds      prometheus.Counter
	levels             prometheus.Counter
	levelDuration      prometheus.Histogram
	merges             *prometheus.CounterVec
	replans            *prometheus.CounterVec
	checkpoints        prometheus.Counter
	inFlight           prometheus.Gauge
}

// New creates a Metrics with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// Labels: capability (target name), status (ok, error, timeout)
		capabilityCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "calls_total",
			Help:      "Capability calls by target and status",
		}, []string{"capability", "status"}),

		capabilityDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "duration_seconds",
			Help:      "Capability call latency in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2700},
		}, []string{"capability"}),

		capabilityWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capability",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting on the capability rate limiter",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),

		// Labels: outcome (COMPLETED, FAILED_UNRECOVERABLE, ...)
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issues",
			Name:      "finished_total",
			Help:      "Issues that reached a terminal outcome",
		}, []string{"outcome"}),

		advisorRounds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "issues",
			Name:      "advisor_invocations_total",
			Help:      "Issue advisor invocations across all issues",
		}),

		levels: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "levels",
			Name:      "completed_total",
			Help:      "Levels that finished all gates",
		}),

		levelDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "levels",
			Name:      "duration_seconds",
			Help:      "Wall time per level including gates",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 12),
		}),

		// Labels: result (merged, unmerged)
		merges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "merge",
			Name:      "branches_total",
			Help:      "Issue branches processed by the merge gate",
		}, []string{"result"}),

		// Labels: action (CONTINUE, MODIFY_DAG, REDUCE_SCOPE, ABORT), local (true for splits)
		replans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replan",
			Name:      "decisions_total",
			Help:      "Replan and split decisions applied",
		}, []string{"action", "local"}),

		checkpoints: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkpoint",
			Name:      "writes_total",
			Help:      "Durable checkpoint writes",
		}),

		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "issues",
			Name:      "in_flight",
			Help:      "Issues currently executing",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordCapabilityCall records one capability invocation.
//
// status is "ok", "error", or "timeout".
func (m *Metrics) RecordCapabilityCall(capability, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.capabilityCalls.WithLabelValues(capability, status).Inc()
	m.capabilityDuration.WithLabelValues(capability).Observe(d.Seconds())
}

// RecordRateLimitWait records time spent blocked on the rate limiter.
func (m *Metrics) RecordRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.capabilityWait.Observe(d.Seconds())
}

// IssueStarted increments the in-flight gauge.
func (m *Metrics) IssueStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// IssueFinished decrements the in-flight gauge. Outcome counters are fed
// from the event bus.
func (m *Metrics) IssueFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// Subscribe feeds the collectors from bus events and returns the
// subscription IDs.
func (m *Metrics) Subscribe(bus *event.Bus) []string {
	if m == nil || bus == nil {
		return nil
	}
	return []string{
		bus.Subscribe(event.TypeIssueFinished, func(e event.Event) {
			ev := e.(event.IssueFinishedEvent)
			m.issues.WithLabelValues(ev.Outcome).Inc()
			m.advisorRounds.Add(float64(ev.AdvisorInvocations))
		}),
		bus.Subscribe(event.TypeLevelCompleted, func(e event.Event) {
			ev := e.(event.LevelCompletedEvent)
			m.levels.Inc()
			m.levelDuration.Observe(ev.Duration.Seconds())
		}),
		bus.Subscribe(event.TypeMergeCompleted, func(e event.Event) {
			ev := e.(event.MergeCompletedEvent)
			m.merges.WithLabelValues("merged").Add(float64(len(ev.Merged)))
			m.merges.WithLabelValues("unmerged").Add(float64(len(ev.Unmerged)))
		}),
		bus.Subscribe(event.TypeReplanApplied, func(e event.Event) {
			ev := e.(event.ReplanAppliedEvent)
			m.replans.WithLabelValues(ev.Action, strconv.FormatBool(ev.Local)).Inc()
		}),
		bus.Subscribe(event.TypeCheckpointSaved, func(event.Event) {
			m.checkpoints.Inc()
		}),
	}
}

// Handler returns an HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
