package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"chart2png/internal/chart"
	"chart2png/internal/infra/logging"
)

const keyPrefix = "chartcache:"

// PNGCache stores rendered charts in Redis.
type PNGCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPNGCache returns nil when rdb is nil, which disables caching.
func NewPNGCache(rdb *redis.Client, ttl time.Duration) *PNGCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PNGCache{rdb: rdb, ttl: ttl}
}

// Key derives the cache key from the normalized request.
func Key(req chart.Request) string {
	raw, _ := json.Marshal(req.Normalize())
	sum := sha256.Sum256(raw)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get returns the cached PNG, or nil on a miss. Redis errors count as misses.
func (c *PNGCache) Get(ctx context.Context, key string) []byte {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil
	}
	logging.Info("PNG cache hit", "key", key)
	return cached
}

// Set stores png under key; failures are logged and otherwise ignored.
func (c *PNGCache) Set(ctx context.Context, key string, png []byte) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, key, png, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
