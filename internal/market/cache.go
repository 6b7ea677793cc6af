package market

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "dexscreener:"

// Cache is a short-TTL Redis cache in front of the DexScreener API, so a
// burst of scans of the same token does not hammer the rate-limited endpoint.
// Cache failures degrade to a plain lookup.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewCache(addr, password string, ttl time.Duration, log *slog.Logger) *Cache {
	if addr == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
		log: log,
	}
}

func (c *Cache) Get(ctx context.Context, query string) (*Pair, bool) {
	data, err := c.rdb.Get(ctx, cacheKeyPrefix+query).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("enrichment cache get", "err", err)
		}
		return nil, false
	}
	var pair Pair
	if err := json.Unmarshal(data, &pair); err != nil {
		c.log.Warn("enrichment cache decode", "err", err)
		return nil, false
	}
	return &pair, true
}

func (c *Cache) Set(ctx context.Context, query string, pair *Pair) {
	data, err := json.Marshal(pair)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+query, data, c.ttl).Err(); err != nil {
		c.log.Warn("enrichment cache set", "err", err)
	}
}
