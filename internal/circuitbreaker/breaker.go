package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// State is a breaker state.
type State string

// Breaker states.
const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// gauge returns the metric value of a state: 0 closed, 1 half-open, 2 open.
func gauge(s gobreaker.State) int {
	return int(s)
}

// Settings configures a breaker.
type Settings struct {
	FailureRateThreshold float64
	MinimumRequests      int
	ConsecutiveFailures  int
	SamplingWindow       time.Duration
	CoolDown             time.Duration
	HalfOpenRequests     int
}

// SettingsFromConfig converts the configuration section.
func SettingsFromConfig(cfg *config.CircuitBreakerConfig) Settings {
	return Settings{
		FailureRateThreshold: cfg.FailureRateThreshold,
		MinimumRequests:      cfg.MinimumRequests,
		ConsecutiveFailures:  cfg.ConsecutiveFailures,
		SamplingWindow:       cfg.SamplingWindow.Duration(),
		CoolDown:             cfg.CoolDown.Duration(),
		HalfOpenRequests:     cfg.HalfOpenRequests,
	}
}

// readyToTrip builds the trip predicate for s.
func (s Settings) readyToTrip() func(gobreaker.Counts) bool {
	minRequests := safeIntToUint32(s.MinimumRequests)
	consecutive := safeIntToUint32(s.ConsecutiveFailures)

	return func(counts gobreaker.Counts) bool {
		if consecutive > 0 && counts.ConsecutiveFailures >= consecutive {
			return true
		}
		if counts.Requests == 0 || counts.Requests < minRequests {
			return false
		}
		failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
		return failureRatio >= s.FailureRateThreshold
	}
}

// isSuccessful treats calls that failed because of the client (cancelled
// or invalid requests) as successes: they say nothing about the health of
// the downstream service.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, util.ErrInvalidInput)
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// Breaker guards calls to one route.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// Name returns the route name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Counts returns the counters of the current sampling window.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// Execute runs fn when the breaker admits the call and records its
// outcome. A rejected call returns a *util.CircuitOpenError without
// running fn.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return util.NewCircuitOpenError(b.name, string(b.State()))
	}
	return err
}
