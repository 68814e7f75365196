package descriptorcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/features"
)

// Memory is a per-process descriptor cache. Sets are stored as-is and must
// not be mutated by callers.
type Memory struct {
	store *gocache.Cache
	keys  Keyspace
}

// NewMemory constructs an in-process cache; a zero ttl keeps entries until invalidated.
func NewMemory(keys Keyspace, ttl time.Duration) *Memory {
	expiration := ttl
	cleanup := ttl
	if ttl <= 0 {
		expiration = gocache.NoExpiration
		cleanup = 0
	}
	return &Memory{store: gocache.New(expiration, cleanup), keys: keys}
}

// Get implements engine.DescriptorCache.
func (c *Memory) Get(_ context.Context, entry engine.Entry, family features.Family) (features.DescriptorSet, bool) {
	v, ok := c.store.Get(c.keys.Key(entry, family))
	if !ok {
		return features.DescriptorSet{}, false
	}
	set, ok := v.(features.DescriptorSet)
	return set, ok
}

// Put implements engine.DescriptorCache.
func (c *Memory) Put(_ context.Context, entry engine.Entry, set features.DescriptorSet) {
	if !set.Valid() {
		return
	}
	c.store.SetDefault(c.keys.Key(entry, set.Family), set)
}

// Invalidate implements engine.DescriptorCache.
func (c *Memory) Invalidate(_ context.Context, entry engine.Entry) {
	for _, f := range families() {
		c.store.Delete(c.keys.Key(entry, f))
	}
}

// Len returns the number of cached sets.
func (c *Memory) Len() int {
	return c.store.ItemCount()
}
