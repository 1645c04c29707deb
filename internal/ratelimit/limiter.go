// Package ratelimit implements the fixed one-second window limiter that
// guards the gateway.
//
// Counters live in a shared store (Redis in production) so every gateway
// instance sees the same totals. The limiter fails open: when the store
// cannot answer, the request is admitted and the failure is logged.
package ratelimit

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit/store"
)

// Window is the length of one counting window.
const Window = time.Second

// DefaultStoreTimeout bounds a single store round trip.
const DefaultStoreTimeout = 100 * time.Millisecond

// Decision is the outcome of one admission check.
type Decision struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the ceiling in force for the window.
	Limit int

	// Count is the counter value after this request. Zero when the
	// store failed.
	Count int64

	// Remaining is Limit minus Count, never negative.
	Remaining int

	// FailOpen is set when the store failed and the request was
	// admitted without counting.
	FailOpen bool

	// RetryAfter is how long a denied client should wait.
	RetryAfter time.Duration
}

// FixedWindow is a fixed window limiter over a shared counter store.
type FixedWindow struct {
	store        store.Store
	ceiling      atomic.Int64
	storeTimeout time.Duration
	clock        func() time.Time
	logger       observability.Logger
	metrics      *observability.Metrics

	// errorLogs throttles store failure logs; suppressed counts how many
	// were dropped since the last one written.
	errorLogs  *rate.Limiter
	suppressed atomic.Int64
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithLogger sets the limiter's logger.
func WithLogger(logger observability.Logger) Option {
	return func(l *FixedWindow) {
		l.logger = logger
	}
}

// WithMetrics records decisions.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *FixedWindow) {
		l.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *FixedWindow) {
		l.clock = clock
	}
}

// WithStoreTimeout bounds each store call.
func WithStoreTimeout(d time.Duration) Option {
	return func(l *FixedWindow) {
		if d > 0 {
			l.storeTimeout = d
		}
	}
}

// NewFixedWindow creates a limiter admitting ceiling requests per window
// per client key.
func NewFixedWindow(s store.Store, ceiling int, opts ...Option) *FixedWindow {
	l := &FixedWindow{
		store:        s,
		storeTimeout: DefaultStoreTimeout,
		clock:        time.Now,
		logger:       observability.NopLogger(),
		errorLogs:    rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	l.ceiling.Store(int64(ceiling))

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Ceiling returns the current per-window ceiling.
func (l *FixedWindow) Ceiling() int {
	return int(l.ceiling.Load())
}

// SetCeiling changes the ceiling. Counters of the current window are kept.
func (l *FixedWindow) SetCeiling(ceiling int) {
	l.ceiling.Store(int64(ceiling))
}

// WindowKey returns the counter key of clientKey for the window holding now.
func WindowKey(clientKey string, now time.Time) string {
	return clientKey + ":" + strconv.FormatInt(now.Unix(), 10)
}

// Admit counts one request for clientKey and decides whether it is
// within the ceiling.
func (l *FixedWindow) Admit(ctx context.Context, clientKey string) Decision {
	ceiling := l.Ceiling()
	key := WindowKey(clientKey, l.clock())

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, err := l.store.IncrementWithExpiry(storeCtx, key, 1, Window)
	if err != nil {
		l.logStoreError(clientKey, err)
		l.metrics.RecordRateLimitDecision(observability.DecisionFailOpen)
		return Decision{Allowed: true, Limit: ceiling, Remaining: ceiling, FailOpen: true}
	}

	d := Decision{
		Allowed: count <= int64(ceiling),
		Limit:   ceiling,
		Count:   count,
	}
	if remaining := int64(ceiling) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}

	if d.Allowed {
		l.metrics.RecordRateLimitDecision(observability.DecisionAllowed)
	} else {
		d.RetryAfter = Window
		l.metrics.RecordRateLimitDecision(observability.DecisionDenied)
	}

	return d
}

func (l *FixedWindow) logStoreError(clientKey string, err error) {
	if !l.errorLogs.Allow() {
		l.suppressed.Add(1)
		return
	}
	l.logger.Warn("rate limit store unavailable, admitting request",
		observability.String("client_key", clientKey),
		observability.Int64("suppressed", l.suppressed.Swap(0)),
		observability.Error(err),
	)
}
