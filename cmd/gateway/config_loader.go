package main

import (
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting edgegw",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	protected := 0
	for i := range cfg.Spec.Routes {
		if cfg.Spec.Routes[i].AuthRequired() {
			protected++
		}
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("address", cfg.Spec.Listener.Address),
		observability.Int("routes", len(cfg.Spec.Routes)),
		observability.Int("protected_routes", protected),
		observability.String("rate_limit_store", cfg.Spec.RateLimit.Store.Type),
		observability.Int("requests_per_second", cfg.Spec.RateLimit.RequestsPerSecond),
	)

	return cfg
}

// initTracer initializes the tracer from the observability section.
func initTracer(cfg *config.GatewayConfig, logger observability.Logger) *observability.Tracer {
	tc := cfg.Spec.Observability.Tracing
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  tc.ServiceName,
		OTLPEndpoint: tc.OTLPEndpoint,
		SamplingRate: tc.SamplingRate,
		Enabled:      tc.Enabled,
	})
	if err != nil {
		fatalWithSync(logger, "failed to initialize tracer", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	return tracer
}
