package descriptorcache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/features"
)

// RedisClient is the subset of go-redis used by Redis.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Redis shares descriptor sets across service instances.
type Redis struct {
	client RedisClient
	keys   Keyspace
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis constructs a Redis-backed descriptor cache. A zero ttl keeps entries until invalidated.
func NewRedis(client RedisClient, keys Keyspace, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{client: client, keys: keys, ttl: ttl, logger: logger.Named("descriptor_cache")}
}

// Get implements engine.DescriptorCache.
func (c *Redis) Get(ctx context.Context, entry engine.Entry, family features.Family) (features.DescriptorSet, bool) {
	key := c.keys.Key(entry, family)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("descriptor cache read failed", zap.String("key", key), zap.Error(err))
		}
		return features.DescriptorSet{}, false
	}
	set, err := decode(raw)
	if err != nil {
		c.logger.Warn("discarding unreadable cached descriptors", zap.String("key", key), zap.Error(err))
		return features.DescriptorSet{}, false
	}
	return set, true
}

// Put implements engine.DescriptorCache.
func (c *Redis) Put(ctx context.Context, entry engine.Entry, set features.DescriptorSet) {
	raw, err := encode(set)
	if err != nil {
		return
	}
	key := c.keys.Key(entry, set.Family)
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("descriptor cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate implements engine.DescriptorCache.
func (c *Redis) Invalidate(ctx context.Context, entry engine.Entry) {
	keys := make([]string, 0, 2)
	for _, f := range families() {
		keys = append(keys, c.keys.Key(entry, f))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("descriptor cache invalidate failed", zap.Uint("entry_id", entry.ID), zap.Error(err))
	}
}
