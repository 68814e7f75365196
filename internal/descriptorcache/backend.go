package descriptorcache

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/lostfound/internal/engine"
)

// Backend names accepted by New.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendOff    = "off"
)

// New returns the cache for backend, or nil when caching is off or the
// backend is unknown.
func New(backend string, keys Keyspace, ttl time.Duration, client RedisClient, logger *zap.Logger) engine.DescriptorCache {
	switch backend {
	case BackendRedis:
		if client == nil {
			return nil
		}
		return NewRedis(client, keys, ttl, logger)
	case BackendMemory:
		return NewMemory(keys, ttl)
	default:
		return nil
	}
}
