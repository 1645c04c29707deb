package gateway

import (
	"fmt"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit/store"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// memoryCleanupInterval is how often the in-memory store drops expired
// windows.
const memoryCleanupInterval = 10 * time.Second

// newStore builds the rate limit counter store. An unreachable Redis is
// fatal only when the store is marked required; otherwise the gateway
// starts without the startup ping and the limiter fails open until Redis
// becomes reachable.
func newStore(cfg *config.RateLimitConfig, logger observability.Logger, metrics *observability.Metrics) (store.Store, error) {
	switch cfg.Store.Type {
	case config.StoreTypeMemory:
		logger.Info("using in-memory rate limit store; counters are not shared between instances")
		return store.NewMemoryStore(memoryCleanupInterval), nil
	case config.StoreTypeRedis, "":
	default:
		return nil, util.NewConfigError("spec.rateLimit.store.type", fmt.Sprintf("unknown store type %q", cfg.Store.Type))
	}

	rc := cfg.Store.Redis
	redisCfg := store.DefaultRedisConfig()
	redisCfg.Address = rc.Address
	redisCfg.Password = rc.Password
	redisCfg.DB = rc.DB
	redisCfg.Prefix = cfg.KeyPrefix
	if rc.PoolSize > 0 {
		redisCfg.PoolSize = rc.PoolSize
	}
	if d := rc.DialTimeout.Duration(); d > 0 {
		redisCfg.DialTimeout = d
	}
	if d := rc.ReadTimeout.Duration(); d > 0 {
		redisCfg.ReadTimeout = d
	}
	if d := rc.WriteTimeout.Duration(); d > 0 {
		redisCfg.WriteTimeout = d
	}
	redisCfg.ConnectionRetries = rc.ConnectionRetries
	redisCfg.Logger = logger
	redisCfg.Registerer = metrics.Registerer()

	s, err := store.NewRedisStore(redisCfg)
	if err == nil {
		return s, nil
	}
	if rc.Required {
		return nil, fmt.Errorf("rate limit store unavailable: %w", err)
	}

	logger.Warn("rate limit store unreachable at startup, limiter will fail open until it recovers",
		observability.String("address", rc.Address),
		observability.Error(err),
	)
	redisCfg.ConnectionRetries = 0
	return store.NewRedisStore(redisCfg)
}
