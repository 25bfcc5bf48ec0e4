package cache

import (
	"github.com/bgl/storefront/internal/domain/shared"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewIdempotencyStore returns a Redis-backed store when a client is
// available and an in-memory one otherwise.
func NewIdempotencyStore(client *redis.Client, logger *zap.Logger) shared.IdempotencyStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if client != nil {
		logger.Info("using Redis checkout idempotency store")
		return NewRedisIdempotencyStore(client, "")
	}
	logger.Warn("using in-memory checkout idempotency store. " +
		"Duplicate checkouts are only detected within this instance.")
	return NewInMemoryIdempotencyStore(0)
}
