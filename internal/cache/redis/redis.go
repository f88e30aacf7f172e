package redis

import (
	"context"
	"divvi/internal/config"
	rdb "divvi/internal/stores/redis"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

// Cluster-wide memoization cache on top of Redis GET/SET. Shared by all
// worker instances so the nearest-block and price-history lookups hit the
// rate-limited upstreams once per distinct parameter tuple, not once per
// instance
type Cache struct {
	log    logger.Logger
	rdb    *rdb.Client
	ttl    time.Duration
	prefix string
}

// prefix example "divvi:cache:"
func NewCache(log logger.Logger, cfg *config.CacheConfig, rdb *rdb.Client) (*Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required to the redis cache")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required to the redis cache")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "cache:"
	}

	return &Cache{
		log:    log,
		rdb:    rdb,
		ttl:    cfg.TTL,
		prefix: prefix,
	}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		c.log.Errorf("Redis GET error=%v", err)
		return nil, false, fmt.Errorf("redis GET error=%v", err)
	}

	return value, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	// ttl=0 -> no expiration; the data being memoized is historical and
	// immutable, eviction is purely a memory concern
	if err := c.rdb.Set(ctx, c.prefix+key, value, c.ttl).Err(); err != nil {
		c.log.Errorf("Redis SET error=%v", err)
		return fmt.Errorf("redis SET error=%v", err)
	}
	return nil
}
