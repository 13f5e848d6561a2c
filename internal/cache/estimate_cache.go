package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/platewise/platewise-go/internal/models"
)

// EstimateCacheStats tracks cache performance counters.
type EstimateCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// RedisEstimateCache keeps the current elasticity estimate per item in
// Redis so read paths skip Postgres. Cache errors degrade to misses; the
// database remains the source of truth.
type RedisEstimateCache struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *EstimateCacheStats
	prefix string
	logger *logrus.Logger
}

// NewRedisEstimateCache creates a Redis-backed estimate cache.
func NewRedisEstimateCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisEstimateCache {
	return &RedisEstimateCache{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &EstimateCacheStats{},
		prefix: "elasticity:",
		logger: logger,
	}
}

func (c *RedisEstimateCache) key(restaurantID, itemID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s", c.prefix, restaurantID, itemID)
}

// Get returns the cached estimate for an item, or nil on a miss.
func (c *RedisEstimateCache) Get(ctx context.Context, restaurantID, itemID uuid.UUID) *models.ElasticityEstimate {
	data, err := c.redis.Get(ctx, c.key(restaurantID, itemID)).Result()
	if err == redis.Nil {
		c.miss()
		return nil
	}
	if err != nil {
		c.logger.WithError(err).WithField("item_id", itemID).Warn("Redis error reading estimate")
		c.miss()
		return nil
	}

	var estimate models.ElasticityEstimate
	if err := json.Unmarshal([]byte(data), &estimate); err != nil {
		c.logger.WithError(err).WithField("item_id", itemID).Warn("Failed to decode cached estimate")
		c.miss()
		return nil
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()

	return &estimate
}

// Set stores an estimate with the configured TTL. Failures are logged and
// swallowed.
func (c *RedisEstimateCache) Set(ctx context.Context, estimate *models.ElasticityEstimate) {
	data, err := json.Marshal(estimate)
	if err != nil {
		c.logger.WithError(err).WithField("item_id", estimate.ItemID).Warn("Failed to encode estimate for cache")
		return
	}

	if err := c.redis.Set(ctx, c.key(estimate.RestaurantID, estimate.ItemID), data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("item_id", estimate.ItemID).Warn("Redis error caching estimate")
		return
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()
}

// Invalidate drops the cached estimate for an item.
func (c *RedisEstimateCache) Invalidate(ctx context.Context, restaurantID, itemID uuid.UUID) {
	if err := c.redis.Del(ctx, c.key(restaurantID, itemID)).Err(); err != nil {
		c.logger.WithError(err).WithField("item_id", itemID).Warn("Redis error invalidating estimate")
	}
}

// GetStats returns a snapshot of the cache counters.
func (c *RedisEstimateCache) GetStats() EstimateCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return EstimateCacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

func (c *RedisEstimateCache) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}
