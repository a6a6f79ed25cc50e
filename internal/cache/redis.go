package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces auditor keys in a shared Redis.
const keyPrefix = "auditor:"

// RedisCache implements Cache using Redis.
// Used for multi-instance deployments and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	return c.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, keyPrefix+key).Err()
}

// GetDecision retrieves a memoized decision.
func (c *RedisCache) GetDecision(ctx context.Context, fingerprint string) (*domain.DecisionResult, error) {
	return getDecision(ctx, c, fingerprint)
}

// SetDecision memoizes a decision under its claim fingerprint.
func (c *RedisCache) SetDecision(ctx context.Context, fingerprint string, result *domain.DecisionResult, ttl time.Duration) error {
	return setDecision(ctx, c, fingerprint, result, ttl)
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
