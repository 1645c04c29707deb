package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics holds the Prometheus collectors for store operations.
type storeMetrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	connectionRetries  prometheus.Counter
	connectionFailures prometheus.Counter
}

// newStoreMetrics creates the store collectors and registers them with
// reg. A nil registerer leaves the collectors unregistered.
func newStoreMetrics(reg prometheus.Registerer) *storeMetrics {
	factory := promauto.With(reg)

	return &storeMetrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgegw",
				Subsystem: "ratelimit_store",
				Name:      "operations_total",
				Help:      "Total number of rate limit store operations",
			},
			[]string{"operation", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edgegw",
				Subsystem: "ratelimit_store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of rate limit store operations in seconds",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"operation"},
		),
		connectionRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "edgegw",
				Subsystem: "ratelimit_store",
				Name:      "connection_retries_total",
				Help:      "Total number of store connection retry attempts",
			},
		),
		connectionFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "edgegw",
				Subsystem: "ratelimit_store",
				Name:      "connection_errors_total",
				Help:      "Total number of store connection errors",
			},
		),
	}
}

// observe records the outcome of a single operation.
func (m *storeMetrics) observe(operation string, start time.Time, status string) {
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// unregister removes the collectors from reg so a later store can
// register under the same names.
func (m *storeMetrics) unregister(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	reg.Unregister(m.operationsTotal)
	reg.Unregister(m.operationDuration)
	reg.Unregister(m.connectionRetries)
	reg.Unregister(m.connectionFailures)
}
