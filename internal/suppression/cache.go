package suppression

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/bounce-monitor/internal/pkg/logger"
)

const cacheKeyPrefix = "suppr:"

// RedisCache caches IsSuppressed answers in Redis with a short TTL.
// Cache failures degrade to repository lookups, never to wrong answers.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a lookup cache. ttl should stay short (around a
// minute): add/remove invalidate explicitly, but other replicas only see
// their own invalidations via expiry.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, email string) (bool, bool) {
	val, err := c.client.Get(ctx, cacheKeyPrefix+email).Result()
	if err == redis.Nil {
		return false, false
	}
	if err != nil {
		logger.Debug("suppression cache get failed", "err", err)
		return false, false
	}
	return val == "1", true
}

func (c *RedisCache) Set(ctx context.Context, email string, suppressed bool) {
	val := "0"
	if suppressed {
		val = "1"
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+email, val, c.ttl).Err(); err != nil {
		logger.Debug("suppression cache set failed", "err", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, email string) {
	if err := c.client.Del(ctx, cacheKeyPrefix+email).Err(); err != nil {
		logger.Debug("suppression cache invalidate failed", "err", err)
	}
}
