package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/issueforge/internal/event"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordCapabilityCall("coder", "ok", time.Second)
	m.RecordRateLimitWait(time.Millisecond)
	m.IssueStarted()
	m.IssueFinished()
	assert.Nil(t, m.Subscribe(event.NewBus(nil)))
}

func TestMetrics_RecordCapabilityCall(t *testing.T) {
	m := New()
	m.RecordCapabilityCall("coder", "ok", 2*time.Second)
	m.RecordCapabilityCall("coder", "timeout", time.Minute)
	m.RecordCapabilityCall("qa", "ok", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.capabilityCalls.WithLabelValues("coder", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.capabilityCalls.WithLabelValues("coder", "timeout")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.capabilityCalls))
}

func TestMetrics_InFlight(t *testing.T) {
	m := New()
	m.IssueStarted()
	m.IssueStarted()
	m.IssueFinished()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
}

func TestMetrics_Subscribe(t *testing.T) {
	m := New()
	bus := event.NewBus(nil)
	ids := m.Subscribe(bus)
	require.Len(t, ids, 5)

	bus.Publish(event.NewIssueFinishedEvent("core", 0, "COMPLETED", 2, 1))
	bus.Publish(event.NewIssueFinishedEvent("api", 0, "FAILED_UNRECOVERABLE", 5, 2))
	bus.Publish(event.NewLevelCompletedEvent(0, 1, 1, 0, time.Minute))
	bus.Publish(event.NewMergeCompletedEvent(0, []string{"issue/b-01-core"}, []string{"issue/b-02-api"}, nil))
	bus.Publish(event.NewReplanAppliedEvent("CONTINUE", []string{"api"}, false, "skip it"))
	bus.Publish(event.NewCheckpointSavedEvent("/tmp/checkpoint.json", 0))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.issues.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.issues.WithLabelValues("FAILED_UNRECOVERABLE")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.advisorRounds))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.levels))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("merged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.merges.WithLabelValues("unmerged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.replans.WithLabelValues("CONTINUE", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordCapabilityCall("merger", "ok", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `issueforge_capability_calls_total{capability="merger",status="ok"} 1`))
}
