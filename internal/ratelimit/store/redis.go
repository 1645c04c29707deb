package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// incrementWithExpiryScript increments a counter and sets its expiry when
// the increment created the key.
// KEYS[1] = key
// ARGV[1] = delta
// ARGV[2] = expiration in milliseconds
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// RedisStore implements Store using Redis.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	logger  observability.Logger
	metrics *storeMetrics
	closed  bool
	mu      sync.Mutex
}

// RedisConfig holds configuration for Redis store.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string

	// Connection pool settings
	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// InitialBackoff is the initial backoff duration for connection retries.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration for connection retries.
	MaxBackoff time.Duration

	// ConnectionRetries is the number of connection retry attempts.
	// Zero disables the startup ping entirely.
	ConnectionRetries int

	Logger     observability.Logger
	Registerer prometheus.Registerer
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:           "localhost:6379",
		Prefix:            "edgegw:rl:",
		PoolSize:          20,
		MinIdleConns:      2,
		MaxRetries:        1,
		DialTimeout:       2 * time.Second,
		ReadTimeout:       250 * time.Millisecond,
		WriteTimeout:      250 * time.Millisecond,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		ConnectionRetries: 3,
	}
}

// NewRedisStore creates a Redis store and verifies connectivity with
// decorrelated jitter retries. The counters live in Redis so every
// gateway instance shares one budget per client.
func NewRedisStore(config *RedisConfig) (*RedisStore, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	s := &RedisStore{
		client:  client,
		prefix:  config.Prefix,
		logger:  logger,
		metrics: newStoreMetrics(config.Registerer),
	}

	if config.ConnectionRetries <= 0 {
		return s, nil
	}

	if err := s.connectWithRetry(config); err != nil {
		_ = client.Close()
		s.metrics.unregister(config.Registerer)
		return nil, err
	}

	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. It is used by tests
// and by callers that manage the client lifecycle themselves.
func NewRedisStoreFromClient(client redis.UniversalClient, prefix string, logger observability.Logger) *RedisStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		logger:  logger,
		metrics: newStoreMetrics(nil),
	}
}

// connectWithRetry pings Redis until it answers or the retries are spent.
// A store that never answers still lets the gateway start; callers decide
// whether that is fatal.
func (s *RedisStore) connectWithRetry(config *RedisConfig) error {
	backoff := newDecorrelatedJitterBackoff(config.InitialBackoff, config.MaxBackoff)

	totalTimeout := time.Duration(config.ConnectionRetries+1) * (config.DialTimeout + config.MaxBackoff)
	if totalTimeout > 2*time.Minute {
		totalTimeout = 2 * time.Minute
	}

	overallCtx, overallCancel := context.WithTimeout(context.Background(), totalTimeout)
	defer overallCancel()

	var lastErr error
	for attempt := 0; attempt <= config.ConnectionRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(overallCtx, config.DialTimeout)
		lastErr = s.client.Ping(pingCtx).Err()
		cancel()

		if lastErr == nil {
			if attempt > 0 {
				s.logger.Info("redis connection established after retry",
					observability.String("address", config.Address),
					observability.Int("attempt", attempt+1),
				)
			}
			return nil
		}

		s.metrics.connectionFailures.Inc()

		if attempt >= config.ConnectionRetries {
			break
		}

		wait := backoff.next(attempt)
		s.logger.Debug("redis connection failed, retrying",
			observability.String("address", config.Address),
			observability.Int("attempt", attempt+1),
			observability.Duration("backoff", wait),
			observability.Error(lastErr),
		)
		s.metrics.connectionRetries.Inc()

		select {
		case <-overallCtx.Done():
			return fmt.Errorf("connection timeout exceeded during backoff: %w", overallCtx.Err())
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to connect to redis at %s after %d attempts: %w",
		config.Address, config.ConnectionRetries+1, lastErr)
}

// decorrelatedJitterBackoff implements AWS-style decorrelated jitter backoff.
type decorrelatedJitterBackoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

// newDecorrelatedJitterBackoff creates a new decorrelated jitter backoff.
func newDecorrelatedJitterBackoff(initial, maxDuration time.Duration) *decorrelatedJitterBackoff {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if maxDuration < initial {
		maxDuration = initial
	}
	return &decorrelatedJitterBackoff{
		initial: initial,
		max:     maxDuration,
		current: initial,
	}
}

// next returns the next backoff duration.
// Formula: sleep = min(cap, random_between(base, sleep * 3))
func (b *decorrelatedJitterBackoff) next(attempt int) time.Duration {
	if attempt == 0 {
		b.current = b.initial
		return b.current
	}

	minBackoff := float64(b.initial)
	maxBackoff := float64(b.current) * 3

	//nolint:gosec // weak random is acceptable for jitter
	backoff := minBackoff + float64(time.Now().UnixNano()%1000)/1000.0*(maxBackoff-minBackoff)

	if backoff > float64(b.max) {
		backoff = float64(b.max)
	}

	b.current = time.Duration(backoff)
	return b.current
}

// prefixKey adds the prefix to the key.
func (s *RedisStore) prefixKey(key string) string {
	return s.prefix + key
}

// IncrementWithExpiry implements Store using a Lua script so the
// increment and the first-hit expiry run as one server-side step.
func (s *RedisStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	const op = "increment_with_expiry"
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr with expiry: %w", err)
	}

	expirationMs := expiration.Milliseconds()
	if expirationMs < 1 {
		expirationMs = 1
	}

	result, err := incrementWithExpiryScript.Run(
		ctx, s.client, []string{s.prefixKey(key)}, delta, expirationMs,
	).Result()
	if err != nil {
		s.metrics.observe(op, start, "error")
		return 0, fmt.Errorf("redis script error: %w", err)
	}

	val, ok := result.(int64)
	if !ok {
		s.metrics.observe(op, start, "error")
		return 0, fmt.Errorf("redis script returned unexpected type: %T", result)
	}

	s.metrics.observe(op, start, "success")
	return val, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping error: %w", err)
	}
	return nil
}

// Close implements Store.
// Close is idempotent - calling it multiple times is safe.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
