package shared

import (
	"context"
	"time"
)

// IdempotencyStore records client request keys so the same checkout request
// is never submitted twice.
type IdempotencyStore interface {
	// Reserve marks key with a TTL. It returns true if the key was newly
	// reserved, false if it is already held.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release frees key so a failed request can be retried with it.
	Release(ctx context.Context, key string) error

	// Close releases resources held by the store
	Close() error
}

// IdempotencyConfig holds configuration for checkout deduplication
type IdempotencyConfig struct {
	// TTL is how long an accepted key stays reserved. Default: 24 hours
	TTL time.Duration

	// Enabled turns the Idempotency-Key check on. Default: true
	Enabled bool
}

// DefaultIdempotencyConfig returns the default idempotency configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
