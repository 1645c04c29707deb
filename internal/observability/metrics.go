package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnmatchedRoute is the route label for requests that match no route,
// keeping label cardinality bounded.
const UnmatchedRoute = "unmatched"

// Rate limit decision label values.
const (
	DecisionAllowed  = "allowed"
	DecisionDenied   = "denied"
	DecisionFailOpen = "fail_open"
)

// Metrics holds the gateway's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requestsTotal         *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	activeRequests        prometheus.Gauge
	pipelineTerminations  *prometheus.CounterVec
	rateLimitDecisions    *prometheus.CounterVec
	authFailures          *prometheus.CounterVec
	circuitBreakerState   *prometheus.GaugeVec
	circuitBreakerChanges *prometheus.CounterVec
	fallbackResponses     *prometheus.CounterVec
	configReloads         *prometheus.CounterVec
	buildInfo             *prometheus.GaugeVec
	startTime             prometheus.Gauge
	registry              *prometheus.Registry
}

// NewMetrics creates the gateway metrics on a dedicated registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "edgegw"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "route"},
	)

	m.activeRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	m.pipelineTerminations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_terminations_total",
			Help:      "Requests answered by a pipeline stage before forwarding",
		},
		[]string{"stage", "status"},
	)

	m.rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Rate limit decisions (allowed, denied, fail_open)",
		},
		[]string{"decision"},
	)

	m.authFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Rejected credentials by reason",
		},
		[]string{"reason"},
	)

	m.circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"route"},
	)

	m.circuitBreakerChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuit_breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"route", "from", "to"},
	)

	m.fallbackResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_responses_total",
			Help:      "Fallback responses served by route",
		},
		[]string{"route"},
	)

	m.configReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Configuration reload attempts by result",
		},
		[]string{"result"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information for the gateway",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "start_time_seconds",
			Help:      "Start time of the gateway in unix seconds",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.activeRequests,
		m.pipelineTerminations,
		m.rateLimitDecisions,
		m.authFailures,
		m.circuitBreakerState,
		m.circuitBreakerChanges,
		m.fallbackResponses,
		m.configReloads,
		m.buildInfo,
		m.startTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.startTime.SetToCurrentTime()

	return m
}

// InitVecMetrics pre-populates label combinations so the series appear
// in /metrics output before the first event.
func (m *Metrics) InitVecMetrics(routes []string) {
	if m == nil {
		return
	}
	for _, d := range []string{DecisionAllowed, DecisionDenied, DecisionFailOpen} {
		m.rateLimitDecisions.WithLabelValues(d)
	}
	for _, r := range routes {
		m.circuitBreakerState.WithLabelValues(r).Set(0)
		m.fallbackResponses.WithLabelValues(r)
	}
}

// RecordRequest records a completed HTTP request. The route must be a
// route name, never the raw path.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = UnmatchedRoute
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveRequests increments the in-flight gauge.
func (m *Metrics) IncActiveRequests() {
	if m == nil {
		return
	}
	m.activeRequests.Inc()
}

// DecActiveRequests decrements the in-flight gauge.
func (m *Metrics) DecActiveRequests() {
	if m == nil {
		return
	}
	m.activeRequests.Dec()
}

// RecordTermination records a request answered by a pipeline stage.
func (m *Metrics) RecordTermination(stage string, status int) {
	if m == nil {
		return
	}
	m.pipelineTerminations.WithLabelValues(stage, strconv.Itoa(status)).Inc()
}

// RecordRateLimitDecision records one limiter outcome.
func (m *Metrics) RecordRateLimitDecision(decision string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(decision).Inc()
}

// RecordAuthFailure records a rejected credential.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// SetCircuitBreakerState sets the breaker state gauge for a route.
func (m *Metrics) SetCircuitBreakerState(route string, state int) {
	if m == nil {
		return
	}
	m.circuitBreakerState.WithLabelValues(route).Set(float64(state))
}

// RecordCircuitBreakerTransition counts a breaker state change.
func (m *Metrics) RecordCircuitBreakerTransition(route, from, to string) {
	if m == nil {
		return
	}
	m.circuitBreakerChanges.WithLabelValues(route, from, to).Inc()
}

// RecordFallback counts a fallback response.
func (m *Metrics) RecordFallback(route string) {
	if m == nil {
		return
	}
	m.fallbackResponses.WithLabelValues(route).Inc()
}

// RecordConfigReload counts a reload attempt.
func (m *Metrics) RecordConfigReload(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.configReloads.WithLabelValues(result).Inc()
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Registerer returns the registry as a prometheus.Registerer so other
// packages can expose their collectors on the same endpoint. It returns
// a nil interface for a nil *Metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}
