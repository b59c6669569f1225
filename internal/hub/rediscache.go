package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devac/devac/internal/logging"
)

// RedisQueryCache is an optional distributed backend for the query
// cache, for deployments sharing one hub across multiple machines.
// Adapted from the teacher's internal/cache.Client Redis wrapper,
// narrowed to the get/set/clear surface the hub's query cache needs.
type RedisQueryCache struct {
	client *redis.Client
	logger *logging.Logger
}

// NewRedisQueryCache connects to a Redis instance, failing fast if it
// is unreachable.
func NewRedisQueryCache(ctx context.Context, addr, password string) (*RedisQueryCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: 0})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisQueryCache{client: client, logger: logging.Default().With("component", "hub.rediscache")}, nil
}

func (c *RedisQueryCache) Close() error { return c.client.Close() }

// Set stores a query result under queryHash with the given TTL. A
// zero or negative TTL expires the entry immediately, mirroring the
// in-process query cache's zero-TTL test semantics.
func (c *RedisQueryCache) Set(ctx context.Context, queryHash, result string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Nanosecond
	}
	if err := c.client.Set(ctx, redisCacheKey(queryHash), result, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed for query %s: %w", queryHash, err)
	}
	return nil
}

// Get returns the cached result for queryHash, or ("", false) on a
// cache miss or expired entry.
func (c *RedisQueryCache) Get(ctx context.Context, queryHash string) (string, bool) {
	val, err := c.client.Get(ctx, redisCacheKey(queryHash)).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.logger.Warn("redis get failed, treating as cache miss", "query_hash", queryHash, "error", err)
		return "", false
	}
	return val, true
}

// Clear removes every key in the devac:querycache: namespace, including
// entries written by other hubs sharing the same Redis server.
func (c *RedisQueryCache) Clear(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, redisCacheKey("*")).Result()
	if err != nil {
		return fmt.Errorf("redis keys scan failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func redisCacheKey(queryHash string) string {
	return "devac:querycache:" + queryHash
}
