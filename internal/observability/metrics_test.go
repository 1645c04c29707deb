package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")

	m.RecordRequest(http.MethodGet, "task", http.StatusOK, 10*time.Millisecond)
	m.RecordRequest(http.MethodGet, "", http.StatusNotFound, time.Millisecond)
	m.RecordTermination("ratelimit", http.StatusTooManyRequests)
	m.RecordRateLimitDecision(DecisionDenied)
	m.RecordRateLimitDecision(DecisionDenied)
	m.RecordAuthFailure("expired")
	m.SetCircuitBreakerState("task", 2)
	m.RecordCircuitBreakerTransition("task", "closed", "open")
	m.RecordFallback("task")
	m.RecordConfigReload(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "task", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", UnmatchedRoute, "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineTerminations.WithLabelValues("ratelimit", "429")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rateLimitDecisions.WithLabelValues(DecisionDenied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authFailures.WithLabelValues("expired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuitBreakerState.WithLabelValues("task")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.circuitBreakerChanges.WithLabelValues("task", "closed", "open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackResponses.WithLabelValues("task")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.configReloads.WithLabelValues("failure")))
}

func TestMetrics_ActiveRequests(t *testing.T) {
	t.Parallel()

	m := NewMetrics("")
	m.IncActiveRequests()
	m.IncActiveRequests()
	m.DecActiveRequests()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRequests))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("GET", "task", 200, time.Millisecond)
		m.RecordRateLimitDecision(DecisionAllowed)
		m.RecordAuthFailure("missing")
		m.SetCircuitBreakerState("task", 0)
		m.RecordFallback("task")
		m.InitVecMetrics([]string{"task"})
		m.IncActiveRequests()
	})
	assert.Nil(t, m.Registerer())
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics("edgegw")
	m.InitVecMetrics([]string{"task", "audit"})
	m.SetBuildInfo("v1", "abc", "now")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `edgegw_circuit_breaker_state{route="audit"} 0`)
	assert.Contains(t, body, `edgegw_ratelimit_decisions_total{decision="fail_open"} 0`)
	assert.Contains(t, body, `edgegw_build_info{build_time="now",commit="abc",version="v1"} 1`)
}
