package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsRegisterer is satisfied by *observability.Metrics.
type metricsRegisterer interface {
	Registerer() prometheus.Registerer
}

// healthMetrics holds Prometheus metrics for health checks.
type healthMetrics struct {
	checksTotal   *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
	checkDuration *prometheus.HistogramVec
}

// newHealthMetrics creates the collectors and registers them with reg. A
// nil registerer leaves them unregistered.
func newHealthMetrics(reg prometheus.Registerer) *healthMetrics {
	factory := promauto.With(reg)

	return &healthMetrics{
		checksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edgegw",
				Subsystem: "health",
				Name:      "checks_total",
				Help:      "Total number of health checks performed",
			},
			[]string{"check", "result"},
		),
		checkStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "edgegw",
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Current health check status (1=healthy, 0=unhealthy)",
			},
			[]string{"check"},
		),
		checkDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edgegw",
				Subsystem: "health",
				Name:      "check_duration_seconds",
				Help:      "Duration of health checks in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"check"},
		),
	}
}

func (m *healthMetrics) record(check string, healthy bool, d time.Duration) {
	result, status := "success", 1.0
	if !healthy {
		result, status = "failure", 0.0
	}
	m.checksTotal.WithLabelValues(check, result).Inc()
	m.checkStatus.WithLabelValues(check).Set(status)
	m.checkDuration.WithLabelValues(check).Observe(d.Seconds())
}
