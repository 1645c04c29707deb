package circuitbreaker

import (
	"context"
	"sync"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// cbTracer is the tracer used for breaker state changes.
var cbTracer = otel.Tracer("edgegw/circuitbreaker")

// StateChangeFunc is called after a breaker changes state.
type StateChangeFunc func(name string, from, to State)

// Registry owns the per-route breakers.
type Registry struct {
	settings      Settings
	logger        observability.Logger
	metrics       *observability.Metrics
	stateCallback StateChangeFunc

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger observability.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics records states and transitions.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithStateCallback registers a state change callback.
func WithStateCallback(fn StateChangeFunc) RegistryOption {
	return func(r *Registry) {
		r.stateCallback = fn
	}
}

// NewRegistry creates a registry and one breaker per name.
func NewRegistry(settings Settings, names []string, opts ...RegistryOption) *Registry {
	r := &Registry{
		settings: settings,
		logger:   observability.NopLogger(),
		breakers: make(map[string]*Breaker, len(names)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, name := range names {
		r.breakers[name] = r.newBreaker(name)
	}
	return r
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b = r.newBreaker(name)
	r.breakers[name] = b
	return b
}

// States returns the state of every breaker.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}

func (r *Registry) newBreaker(name string) *Breaker {
	halfOpen := r.settings.HalfOpenRequests
	if halfOpen < 1 {
		halfOpen = 1
	}

	st := gobreaker.Settings{
		Name:          name,
		MaxRequests:   safeIntToUint32(halfOpen),
		Interval:      r.settings.SamplingWindow,
		Timeout:       r.settings.CoolDown,
		ReadyToTrip:   r.settings.readyToTrip(),
		IsSuccessful:  isSuccessful,
		OnStateChange: r.onStateChange,
	}

	r.metrics.SetCircuitBreakerState(name, gauge(gobreaker.StateClosed))

	return &Breaker{name: name, cb: gobreaker.NewCircuitBreaker(st)}
}

func (r *Registry) onStateChange(name string, from, to gobreaker.State) {
	fromState, toState := fromGobreaker(from), fromGobreaker(to)

	r.logger.Info("circuit breaker state change",
		observability.String("route", name),
		observability.String("from", string(fromState)),
		observability.String("to", string(toState)),
	)

	r.metrics.SetCircuitBreakerState(name, gauge(to))
	r.metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())

	_, span := cbTracer.Start(context.Background(),
		"circuitbreaker.state_change",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.AddEvent("state_change", trace.WithAttributes(
		attribute.String("circuitbreaker.route", name),
		attribute.String("circuitbreaker.from", string(fromState)),
		attribute.String("circuitbreaker.to", string(toState)),
	))
	span.End()

	if r.stateCallback != nil {
		r.stateCallback(name, fromState, toState)
	}
}
