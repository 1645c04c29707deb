// Package store provides the shared counter backends used by the
// fixed window rate limiter.
package store

import (
	"context"
	"time"
)

// Store defines the counter operations the rate limiter needs from a
// shared key/counter service.
type Store interface {
	// IncrementWithExpiry atomically increments the counter at key by
	// delta and sets its expiration when the increment created the key.
	// It returns the counter value after the increment.
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
