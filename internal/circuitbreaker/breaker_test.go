package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

var errDownstream = errors.New("connection refused")

func testSettings() Settings {
	return Settings{
		FailureRateThreshold: 0.5,
		MinimumRequests:      4,
		SamplingWindow:       time.Minute,
		CoolDown:             50 * time.Millisecond,
		HalfOpenRequests:     1,
	}
}

func fail() error { return errDownstream }

func succeed() error { return nil }

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig().Spec.CircuitBreaker
	s := SettingsFromConfig(&cfg)

	assert.Equal(t, 0.5, s.FailureRateThreshold)
	assert.Equal(t, 5, s.MinimumRequests)
	assert.Equal(t, 10*time.Second, s.CoolDown)
	assert.Equal(t, 10*time.Second, s.SamplingWindow)
	assert.Equal(t, 1, s.HalfOpenRequests)
}

func TestReadyToTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings Settings
		counts   gobreaker.Counts
		want     bool
	}{
		{
			name:     "below minimum requests",
			settings: testSettings(),
			counts:   gobreaker.Counts{Requests: 3, TotalFailures: 3},
			want:     false,
		},
		{
			name:     "rate reached",
			settings: testSettings(),
			counts:   gobreaker.Counts{Requests: 4, TotalFailures: 2},
			want:     true,
		},
		{
			name:     "rate below threshold",
			settings: testSettings(),
			counts:   gobreaker.Counts{Requests: 10, TotalFailures: 4},
			want:     false,
		},
		{
			name: "consecutive failures",
			settings: Settings{
				FailureRateThreshold: 0.9,
				MinimumRequests:      100,
				ConsecutiveFailures:  3,
			},
			counts: gobreaker.Counts{Requests: 3, TotalFailures: 3, ConsecutiveFailures: 3},
			want:   true,
		},
		{
			name:     "consecutive disabled",
			settings: Settings{FailureRateThreshold: 0.9, MinimumRequests: 100},
			counts:   gobreaker.Counts{Requests: 50, TotalFailures: 50, ConsecutiveFailures: 50},
			want:     false,
		},
		{
			name:     "no requests",
			settings: Settings{FailureRateThreshold: 0.5},
			counts:   gobreaker.Counts{},
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.settings.readyToTrip()(tt.counts))
		})
	}
}

func TestBreaker_OpensOnFailureRate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testSettings(), []string{"task"})
	b := r.Get("task")

	require.NoError(t, b.Execute(succeed))
	require.NoError(t, b.Execute(succeed))
	require.ErrorIs(t, b.Execute(fail), errDownstream)
	assert.Equal(t, StateClosed, b.State())

	// Fourth request reaches the minimum with a 50% failure rate.
	require.ErrorIs(t, b.Execute(fail), errDownstream)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, util.ErrCircuitOpen)

	var openErr *util.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "task", openErr.Name)
	assert.Equal(t, string(StateOpen), openErr.State)
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		trial func() error
		want  State
	}{
		{name: "success closes", trial: succeed, want: StateClosed},
		{name: "failure reopens", trial: fail, want: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := testSettings()
			settings.ConsecutiveFailures = 1
			b := NewRegistry(settings, nil).Get("audit")

			_ = b.Execute(fail)
			require.Equal(t, StateOpen, b.State())

			time.Sleep(2 * settings.CoolDown)
			require.Equal(t, StateHalfOpen, b.State())

			_ = b.Execute(tt.trial)
			assert.Equal(t, tt.want, b.State())
		})
	}
}

func TestBreaker_HalfOpenAdmitsExactlyOneTrial(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.ConsecutiveFailures = 1
	b := NewRegistry(settings, nil).Get("notification")

	_ = b.Execute(fail)
	time.Sleep(2 * settings.CoolDown)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.ErrorIs(t, err, util.ErrCircuitOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ClientCancellationIsNotFailure(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.ConsecutiveFailures = 1
	b := NewRegistry(settings, nil).Get("task")

	err := b.Execute(func() error {
		return fmt.Errorf("proxy: %w", context.Canceled)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())

	err = b.Execute(func() error {
		return fmt.Errorf("proxy: %w", context.DeadlineExceeded)
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateOpen, b.State())
}

func TestRegistry_GetCreatesOnce(t *testing.T) {
	t.Parallel()

	r := NewRegistry(testSettings(), []string{"task"})

	assert.Same(t, r.Get("task"), r.Get("task"))
	assert.Same(t, r.Get("other"), r.Get("other"))
	assert.Equal(t, "other", r.Get("other").Name())

	states := r.States()
	assert.Len(t, states, 2)
	assert.Equal(t, StateClosed, states["task"])
}

func TestRegistry_StateChangeObservability(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	logger := observability.NewLoggerFromZap(zap.New(core))
	metrics := observability.NewMetrics("test")

	var mu sync.Mutex
	var transitions []string

	settings := testSettings()
	settings.ConsecutiveFailures = 2
	r := NewRegistry(settings, []string{"auth"},
		WithLogger(logger),
		WithMetrics(metrics),
		WithStateCallback(func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, fmt.Sprintf("%s:%s->%s", name, from, to))
		}),
	)

	b := r.Get("auth")
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	require.Equal(t, StateOpen, b.State())

	mu.Lock()
	assert.Equal(t, []string{"auth:CLOSED->OPEN"}, transitions)
	mu.Unlock()

	entries := logs.FilterMessage("circuit breaker state change").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "OPEN", entries[0].ContextMap()["to"])

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `test_circuit_breaker_state{route="auth"} 2`)
	assert.Contains(t, body, `test_circuit_breaker_transitions_total{from="closed",route="auth",to="open"} 1`)
}
