package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/auth/jwt"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/cors"
	"github.com/vyrodovalexey/edgegw/internal/fallback"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/proxy"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit/store"
	"github.com/vyrodovalexey/edgegw/internal/router"
	"github.com/vyrodovalexey/edgegw/internal/server"
	"github.com/vyrodovalexey/edgegw/internal/server/middleware"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the assembled edge process.
type Gateway struct {
	config    *config.GatewayConfig
	logger    observability.Logger
	metrics   *observability.Metrics
	version   string
	transport http.RoundTripper

	store      store.Store
	ownsStore  bool
	negotiator *cors.Negotiator
	limiter    *ratelimit.FixedWindow
	rateStage  *ratelimit.Stage
	breakers   *circuitbreaker.Registry
	router     *router.Router
	runner     *pipeline.Runner
	server     *server.Server
	health     *health.Checker

	state    atomic.Int32
	mu       sync.RWMutex
	listener net.Listener
	serveErr chan error
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics the gateway records into.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithStore injects the counter store instead of building one from
// configuration. The caller keeps ownership and closes it.
func WithStore(s store.Store) Option {
	return func(g *Gateway) {
		g.store = s
	}
}

// WithTransport sets the transport used for downstream calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(g *Gateway) {
		g.transport = rt
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(version string) Option {
	return func(g *Gateway) {
		g.version = version
	}
}

// New builds the gateway from a validated configuration.
func New(cfg *config.GatewayConfig, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	g := &Gateway{
		config:  cfg,
		logger:  observability.NopLogger(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(g)
	}
	g.state.Store(int32(StateStopped))

	spec := &cfg.Spec

	rt, err := router.New(spec.Routes, spec.CircuitBreaker.CallTimeout.Duration())
	if err != nil {
		return nil, util.NewConfigErrorWithCause("spec.routes", "failed to build routes", err)
	}
	g.router = rt
	routeNames := rt.Names()
	g.metrics.InitVecMetrics(routeNames)

	authStage, err := g.buildAuthStage(&spec.Auth)
	if err != nil {
		return nil, err
	}

	if g.store == nil {
		st, err := newStore(&spec.RateLimit, g.logger, g.metrics)
		if err != nil {
			return nil, err
		}
		g.store = st
		g.ownsStore = true
	}

	g.limiter = ratelimit.NewFixedWindow(g.store, spec.RateLimit.RequestsPerSecond,
		ratelimit.WithLogger(g.logger),
		ratelimit.WithMetrics(g.metrics),
		ratelimit.WithStoreTimeout(spec.RateLimit.StoreTimeout.Duration()),
	)
	g.rateStage = ratelimit.NewStage(g.limiter, spec.RateLimit.Enabled, g.logger)
	g.negotiator = cors.New(&spec.CORS)

	g.breakers = circuitbreaker.NewRegistry(
		circuitbreaker.SettingsFromConfig(&spec.CircuitBreaker),
		routeNames,
		circuitbreaker.WithLogger(g.logger),
		circuitbreaker.WithMetrics(g.metrics),
	)

	forwarderOpts := []proxy.Option{
		proxy.WithLogger(g.logger),
		proxy.WithMetrics(g.metrics, routeNames),
	}
	if g.transport != nil {
		forwarderOpts = append(forwarderOpts, proxy.WithTransport(g.transport))
	}
	forwarder := proxy.New(g.breakers,
		fallback.New(spec.Fallbacks, fallback.WithMetrics(g.metrics)),
		forwarderOpts...,
	)

	g.runner = pipeline.NewRunner(rt, forwarder,
		[]pipeline.Stage{g.negotiator, g.rateStage, pipeline.NewBodyLimit(spec.Listener.MaxBodySize), authStage},
		pipeline.WithLogger(g.logger),
		pipeline.WithMetrics(g.metrics),
		pipeline.WithClientIPExtractor(pipeline.NewClientIPExtractor(spec.Listener.TrustedProxies)),
	)

	g.server = server.New(server.ConfigFromListener(&spec.Listener), g.runner, g.logger,
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.Tracing(spec.Observability.Tracing.ServiceName),
		middleware.Logging(g.logger),
		middleware.Metrics(g.metrics),
	)

	g.health = health.NewChecker(g.version, health.WithMetrics(g.metrics))
	g.health.RegisterCheck("ratelimit_store", g.store.Ping, spec.RateLimit.Store.Redis.Required)
	g.health.RegisterCheck("circuit_breakers", g.checkBreakers, false)

	return g, nil
}

// checkBreakers fails while any route's breaker is open.
func (g *Gateway) checkBreakers(_ context.Context) error {
	var open []string
	for name, state := range g.breakers.States() {
		if state == circuitbreaker.StateOpen {
			open = append(open, name)
		}
	}
	if len(open) == 0 {
		return nil
	}
	sort.Strings(open)
	return fmt.Errorf("circuit open for %s", strings.Join(open, ", "))
}

func (g *Gateway) buildAuthStage(cfg *config.AuthConfig) (*auth.Stage, error) {
	secret, err := config.DecodeSecret(cfg.Secret, cfg.SecretEncoding)
	if err != nil {
		return nil, util.NewConfigErrorWithCause("spec.auth.secret", "invalid auth secret", err)
	}
	validator, err := jwt.NewValidator(jwt.Config{
		Secret:     secret,
		Algorithms: cfg.Algorithms,
		ClockSkew:  cfg.ClockSkew.Duration(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create credential validator: %w", err)
	}
	return auth.NewStage(jwt.NewExtractor(cfg.Header, cfg.Prefix), validator,
		auth.WithLogger(g.logger),
		auth.WithMetrics(g.metrics),
	), nil
}

// Start listens on the configured address and serves in the background.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	addr := g.config.Spec.Listener.Address
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	g.mu.Lock()
	g.listener = ln
	g.serveErr = make(chan error, 1)
	g.mu.Unlock()

	go func() {
		err := g.server.Serve(ln)
		if err != nil {
			g.logger.Error("HTTP server failed", observability.Error(err))
		}
		g.serveErr <- err
	}()

	g.state.Store(int32(StateRunning))
	g.logger.Info("gateway started",
		observability.String("name", g.config.Metadata.Name),
		observability.String("address", ln.Addr().String()),
		observability.Int("routes", len(g.router.Routes())),
	)
	return nil
}

// Stop drains in-flight requests and releases the store.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return g.closeStore()
	}
	defer g.state.Store(int32(StateStopped))

	g.logger.Info("stopping gateway")

	var errs []error
	if err := g.server.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	g.mu.RLock()
	serveErr := g.serveErr
	g.mu.RUnlock()
	select {
	case <-serveErr:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	if err := g.closeStore(); err != nil {
		errs = append(errs, err)
	}

	g.logger.Info("gateway stopped")
	return errors.Join(errs...)
}

func (g *Gateway) closeStore() error {
	if !g.ownsStore {
		return nil
	}
	if err := g.store.Close(); err != nil {
		return fmt.Errorf("failed to close rate limit store: %w", err)
	}
	return nil
}

// ApplyConfig applies the runtime-adjustable parts of a reloaded
// configuration: the CORS allow-list and the rate limit ceiling. Other
// changed sections are logged and take effect on restart.
func (g *Gateway) ApplyConfig(previous, current *config.GatewayConfig, changes config.ChangeSet) {
	if changes.CORSOrigins {
		g.negotiator.Update(&current.Spec.CORS)
		g.logger.Info("CORS allow-list updated",
			observability.Int("origins", len(current.Spec.CORS.AllowedOrigins)),
		)
	}

	if changes.RateCeiling {
		rl := current.Spec.RateLimit
		g.limiter.SetCeiling(rl.RequestsPerSecond)
		g.rateStage.SetEnabled(rl.Enabled)
		g.logger.Info("rate limit updated",
			observability.Int("previous_ceiling", previous.Spec.RateLimit.RequestsPerSecond),
			observability.Int("ceiling", rl.RequestsPerSecond),
			observability.Bool("enabled", rl.Enabled),
		)
	}

	if len(changes.RestartRequired) > 0 {
		g.logger.Warn("configuration changes require a restart to take effect",
			observability.Any("sections", changes.RestartRequired),
		)
	}

	g.mu.Lock()
	g.config = current
	g.mu.Unlock()

	g.metrics.RecordConfigReload(true)
}

// Handler returns the gateway HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.server.Engine()
}

// Engine returns the gin engine serving the pipeline.
func (g *Gateway) Engine() *gin.Engine {
	return g.server.Engine()
}

// Health returns the health checker.
func (g *Gateway) Health() *health.Checker {
	return g.health
}

// Breakers returns the per-route circuit breakers.
func (g *Gateway) Breakers() *circuitbreaker.Registry {
	return g.breakers
}

// Addr returns the bound listener address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// State returns the gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}
