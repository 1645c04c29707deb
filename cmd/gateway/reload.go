package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// reloadMetrics holds Prometheus metrics for configuration reload
// operations, registered on the gateway registry.
type reloadMetrics struct {
	configReloadDuration    prometheus.Histogram
	configReloadLastSuccess prometheus.Gauge
	configWatcherStatus     prometheus.Gauge
}

func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	factory := promauto.With(m.Registerer())
	return &reloadMetrics{
		configReloadDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "edgegw",
			Name:      "config_reload_duration_seconds",
			Help:      "Duration of configuration reload operations",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		}),
		configReloadLastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgegw",
			Name:      "config_reload_last_success_timestamp",
			Help:      "Timestamp of last successful config reload",
		}),
		configWatcherStatus: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "edgegw",
			Name:      "config_watcher_running",
			Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
		}),
	}
}

// startConfigWatcher starts the configuration watcher. A watcher that
// cannot start is logged and the gateway keeps its startup configuration.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath,
		func(previous, current *config.GatewayConfig, changes config.ChangeSet) {
			applyReload(app, previous, current, changes)
		},
		config.WithLogger(logger),
		config.WithInitialConfig(app.config),
		config.WithErrorCallback(func(error) {
			app.metrics.RecordConfigReload(false)
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		app.reloadMetrics.configWatcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		app.reloadMetrics.configWatcherStatus.Set(0)
		return watcher
	}

	app.reloadMetrics.configWatcherStatus.Set(1)
	return watcher
}

// applyReload hands a validated configuration change to the gateway.
func applyReload(app *application, previous, current *config.GatewayConfig, changes config.ChangeSet) {
	start := time.Now()
	app.gateway.ApplyConfig(previous, current, changes)
	app.config = current

	app.reloadMetrics.configReloadDuration.Observe(time.Since(start).Seconds())
	app.reloadMetrics.configReloadLastSuccess.SetToCurrentTime()
}
