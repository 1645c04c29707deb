// Package config provides configuration types and loading for the
// edge gateway.
//
// # Features
//
//   - YAML configuration file loading layered over DefaultConfig
//   - Environment variable substitution with ${VAR:-default} syntax
//   - Configuration validation with detailed error reporting
//   - File watching for hot-reload of the runtime tunables
//
// # Configuration Loading
//
//	cfg, err := config.LoadConfig("configs/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// # File Watching
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.GatewayConfig) {
//	    // apply CORS origins and rate limit ceiling
//	}, config.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	watcher.Start(ctx)
package config
