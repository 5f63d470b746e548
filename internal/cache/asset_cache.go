// Package cache keeps fetched slide images in Redis so repeated renders of
// the same deck skip the origin.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "slidecast:asset:"

type AssetCache struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxBytes int64
}

// NewAssetCache stores entries for ttl. Entries larger than maxBytes are
// silently skipped; maxBytes <= 0 disables the cap.
func NewAssetCache(rdb *redis.Client, ttl time.Duration, maxBytes int64) *AssetCache {
	return &AssetCache{rdb: rdb, ttl: ttl, maxBytes: maxBytes}
}

// Get returns ok=false on a miss. A Redis failure is an error, not a miss.
func (c *AssetCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *AssetCache) Set(ctx context.Context, key string, data []byte) error {
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil
	}
	return c.rdb.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}

// Ping is used by the deep health check.
func (c *AssetCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
