// Package observability provides logging, metrics, and tracing
// for the edge gateway.
//
// # Logging
//
// The Logger interface provides structured logging backed by zap:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("request processed",
//	    observability.String("route", "tasks"),
//	    observability.Int("status", 200),
//	)
//
// # Metrics
//
// Prometheus metrics for requests, rate limit decisions, credential
// failures, and circuit breaker transitions:
//
//	metrics := observability.NewMetrics("edgegw")
//	handler := metrics.Handler()
//
// # Tracing
//
// OpenTelemetry distributed tracing with OTLP export:
//
//	tracer, err := observability.NewTracer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
