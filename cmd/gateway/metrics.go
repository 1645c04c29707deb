package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// createMetricsServer creates the metrics HTTP server. Health probes are
// served on the same listener.
func createMetricsServer(
	port int,
	path string,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler())
	healthChecker.Register(mux)

	addr := fmt.Sprintf(":%d", port)
	logger.Info("starting metrics server",
		observability.String("address", addr),
		observability.String("metrics_path", path),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application, logger observability.Logger) {
	mc := app.config.Spec.Observability.Metrics
	if !mc.Enabled {
		return
	}

	metricsPath := mc.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	metricsPort := mc.Port
	if metricsPort == 0 {
		metricsPort = 9090
	}

	app.metricsServer = createMetricsServer(metricsPort, metricsPath, app.metrics, app.gateway.Health(), logger)
	go runMetricsServer(app.metricsServer, logger)
}
