// Package main is the entry point for the edge gateway.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// exitFunc is replaced in tests so fatal paths can be exercised.
var exitFunc = os.Exit

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool

	// logFromFlags is set when the log level or format came from the
	// command line or environment, which then wins over the config file.
	logFromFlags bool
}

func main() {
	flags, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		exitFunc(2)
		return
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger := initLogger(flags.logLevel, flags.logFormat)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	if !flags.logFromFlags {
		logger = initLogger(cfg.Spec.Observability.Logging.Level, cfg.Spec.Observability.Logging.Format)
	}

	app := initApplication(cfg, logger)
	runGateway(app, flags.configPath, logger)
}

// parseFlags parses command line flags. Environment variables provide
// the defaults.
func parseFlags(fs *flag.FlagSet, args []string) (cliFlags, error) {
	envLevel := os.Getenv("EDGEGW_LOG_LEVEL")
	envFormat := os.Getenv("EDGEGW_LOG_FORMAT")

	configPath := fs.String("config", getEnvOrDefault("EDGEGW_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	logLevel := fs.String("log-level", getEnvOrDefault("EDGEGW_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", getEnvOrDefault("EDGEGW_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := fs.Bool("version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}

	fromFlags := envLevel != "" || envFormat != ""
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "log-level" || f.Name == "log-format" {
			fromFlags = true
		}
	})

	return cliFlags{
		configPath:   *configPath,
		logLevel:     *logLevel,
		logFormat:    *logFormat,
		showVersion:  *showVersion,
		logFromFlags: fromFlags,
	}, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "edgegw version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the process logger and installs it globally.
func initLogger(level, format string) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		exitFunc(1)
		return observability.NopLogger()
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// fatalWithSync logs at error level, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}
