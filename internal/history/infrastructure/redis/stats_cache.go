package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	history "condo-water/internal/history/domain"
)

const (
	defaultKeyPrefix = "condo-water:condo-stats:"
	defaultTTL       = 10 * time.Minute
)

// StatsCache stores computed condo stats as JSON values with a TTL.
type StatsCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// CacheOption configures the cache.
type CacheOption func(*StatsCache)

// WithKeyPrefix overrides the key prefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *StatsCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL overrides the entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *StatsCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewStatsCache constructs a cache.
func NewStatsCache(client *redis.Client, opts ...CacheOption) (*StatsCache, error) {
	if client == nil {
		return nil, errors.New("stats cache: nil redis client")
	}
	c := &StatsCache{client: client, prefix: defaultKeyPrefix, ttl: defaultTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *StatsCache) key(condoID string) string {
	return c.prefix + condoID
}

// GetCondoStats returns cached stats, nil on miss.
func (c *StatsCache) GetCondoStats(ctx context.Context, condoID string) (*history.CondoStats, error) {
	raw, err := c.client.Get(ctx, c.key(condoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var stats history.CondoStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SetCondoStats stores stats under the condo key.
func (c *StatsCache) SetCondoStats(ctx context.Context, stats history.CondoStats) error {
	if stats.CondoID == "" {
		return errors.New("stats cache: empty condo id")
	}
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(stats.CondoID), raw, c.ttl).Err()
}

// Invalidate deletes the cached stats of a condo.
func (c *StatsCache) Invalidate(ctx context.Context, condoID string) error {
	return c.client.Del(ctx, c.key(condoID)).Err()
}

// Ping checks connectivity.
func (c *StatsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
