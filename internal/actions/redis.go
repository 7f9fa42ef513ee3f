package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares dispatch results across gateway instances. Redis
// owns both eviction policies: TTL per entry, memory bound on the
// server side.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache connects to addr and verifies the connection.
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("actions: connect to redis at %q: %w", addr, err)
	}

	return &RedisCache{client: client, ttl: ttl, prefix: "actions:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (Result, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("actions: redis get: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false, fmt.Errorf("actions: decode cached result: %w", err)
	}

	return res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("actions: encode result: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("actions: redis set: %w", err)
	}

	return nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)

// NewCache selects a cache backend by name: "memory" (default) or
// "redis".
func NewCache(ctx context.Context, kind, addr, password string, db int, ttl time.Duration, maxSize int) (Cache, error) {
	switch kind {
	case "", "memory":
		return NewMemoryCache(ttl, maxSize), nil
	case "redis":
		if addr == "" {
			return nil, fmt.Errorf("actions: redis cache requires an address")
		}

		return NewRedisCache(ctx, addr, password, db, ttl)
	default:
		return nil, fmt.Errorf("actions: unknown cache backend %q", kind)
	}
}
