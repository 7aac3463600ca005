package cache

import (
	"context"

	gocache "github.com/patrickmn/go-cache"
)

type memoryCache struct {
	name  string
	cache *gocache.Cache
	counters
}

func newMemoryCache(name string, cc CacheConfig) *memoryCache {
	return &memoryCache{
		name:  name,
		cache: gocache.New(cc.Expiration, cc.CleanupInterval),
	}
}

func (c *memoryCache) Name() string {
	return c.name
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := c.cache.Get(key)
	if !ok {
		c.miss()
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		c.miss()
		return nil, false, nil
	}
	c.hit()
	return clone(body), true, nil
}

func (c *memoryCache) Put(_ context.Context, key string, value []byte) error {
	c.cache.SetDefault(key, clone(value))
	c.put()
	return nil
}

func (c *memoryCache) Remove(_ context.Context, key string) error {
	c.cache.Delete(key)
	c.remove()
	return nil
}

func (c *memoryCache) Entries(_ context.Context) (map[string][]byte, error) {
	items := c.cache.Items()
	entries := make(map[string][]byte, len(items))
	for key, item := range items {
		if body, ok := item.Object.([]byte); ok {
			entries[key] = clone(body)
		}
	}
	return entries, nil
}

func (c *memoryCache) Clear(_ context.Context) error {
	c.cache.Flush()
	return nil
}

func (c *memoryCache) Stats() Stats {
	return c.snapshot()
}

func clone(body []byte) []byte {
	out := make([]byte, len(body))
	copy(out, body)
	return out
}
