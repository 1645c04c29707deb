package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// proxyMetrics contains Prometheus metrics for downstream calls.
type proxyMetrics struct {
	errorsTotal        *prometheus.CounterVec
	downstreamDuration *prometheus.HistogramVec
}

// newProxyMetrics creates the proxy collectors and registers them with
// reg. A nil registerer leaves the collectors unregistered.
func newProxyMetrics(reg prometheus.Registerer) *proxyMetrics {
	factory := promauto.With(reg)

	return &proxyMetrics{
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgegw",
				Subsystem: "proxy",
				Name:      "errors_total",
				Help:      "Total number of failed downstream calls",
			},
			[]string{"route", "error_type"},
		),
		downstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edgegw",
				Subsystem: "proxy",
				Name:      "downstream_duration_seconds",
				Help:      "Duration of downstream calls in seconds",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"route"},
		),
	}
}

// initRoutes pre-populates the duration series so they appear on
// /metrics before the first call.
func (m *proxyMetrics) initRoutes(routes []string) {
	for _, r := range routes {
		m.downstreamDuration.WithLabelValues(r)
	}
}

func (m *proxyMetrics) observe(route string, d time.Duration, err error) {
	if err == nil {
		m.downstreamDuration.WithLabelValues(route).Observe(d.Seconds())
		return
	}
	typ := errorType(err)
	if typ != errorTypeCircuitOpen {
		m.downstreamDuration.WithLabelValues(route).Observe(d.Seconds())
	}
	m.errorsTotal.WithLabelValues(route, typ).Inc()
}
