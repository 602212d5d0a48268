// Package entitlement caches subscription snapshots in Redis so access checks
// skip the database on the hot path.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sub:"

// Cache is a best-effort read-through cache. Redis failures are logged and
// treated as misses; a nil client disables caching entirely.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCache(rdb *redis.Client, ttl time.Duration, log logger.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{redis: rdb, ttl: ttl, logger: log}
}

// Key returns the Redis key holding userID's snapshot.
func Key(userID string) string {
	return keyPrefix + userID
}

// Get returns the cached snapshot, or false on a miss.
func (c *Cache) Get(ctx context.Context, userID string) (*models.Subscription, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	val, err := c.redis.Get(ctx, Key(userID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("entitlement cache read failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
		return nil, false
	}

	var sub models.Subscription
	if err := json.Unmarshal([]byte(val), &sub); err != nil {
		c.logger.Debug("discarding unreadable cache entry", map[string]interface{}{"userId": userID})
		return nil, false
	}
	return &sub, true
}

func (c *Cache) Set(ctx context.Context, sub models.Subscription) {
	if c == nil || c.redis == nil {
		return
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, Key(sub.UserID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("entitlement cache write failed", map[string]interface{}{
			"userId": sub.UserID,
			"error":  err.Error(),
		})
	}
}

// Invalidate drops userID's snapshot. Called after every committed change to
// subscription state.
func (c *Cache) Invalidate(ctx context.Context, userID string) {
	if c == nil || c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, Key(userID)).Err(); err != nil {
		c.logger.Warn("entitlement cache invalidation failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
	}
}
