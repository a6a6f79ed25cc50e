package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// decisionPrefix namespaces memoized decisions by claim fingerprint.
const decisionPrefix = "decision:"

// New creates a cache from configuration.
// "memory" returns an LRU cache, "redis" a Redis cache (wrapped in a
// TwoPhaseCache when EnableTwoPhase is set) and "none" a nil cache,
// which callers treat as caching disabled.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "none":
		return nil, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

type byteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func getDecision(ctx context.Context, s byteStore, fingerprint string) (*domain.DecisionResult, error) {
	if fingerprint == "" {
		return nil, fmt.Errorf("fingerprint is required")
	}
	data, err := s.Get(ctx, decisionPrefix+fingerprint)
	if err != nil || data == nil {
		return nil, err
	}

	var result domain.DecisionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode cached decision: %w", err)
	}
	return &result, nil
}

func setDecision(ctx context.Context, s byteStore, fingerprint string, result *domain.DecisionResult, ttl time.Duration) error {
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if result == nil {
		return fmt.Errorf("result is required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.Set(ctx, decisionPrefix+fingerprint, data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis, shared by every auditor instance
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// L1 never outlives the caller's TTL
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// GetDecision retrieves a memoized decision, L1 first.
func (c *TwoPhaseCache) GetDecision(ctx context.Context, fingerprint string) (*domain.DecisionResult, error) {
	return getDecision(ctx, c, fingerprint)
}

// SetDecision memoizes a decision in both L1 and L2.
func (c *TwoPhaseCache) SetDecision(ctx context.Context, fingerprint string, result *domain.DecisionResult, ttl time.Duration) error {
	return setDecision(ctx, c, fingerprint, result, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
