package credential

import (
	"time"

	expirable "github.com/go-pkgz/expirable-cache/v3"
)

// cacheEntry is either cached metadata or a tombstone for a negative
// lookup.
type cacheEntry struct {
	info      *KeyInfo
	tombstone bool
}

// localCache is the in-process TTL+bounded-capacity cache consulted before
// the external store.
type localCache struct {
	cache expirable.Cache[string, cacheEntry]
}

func newLocalCache(ttl time.Duration, capacity int) (*localCache, error) {
	c, err := expirable.NewCache[string, cacheEntry]().
		WithTTL(ttl).
		WithMaxKeys(capacity).
		WithLRU().
		Build()
	if err != nil {
		return nil, err
	}
	return &localCache{cache: c}, nil
}

func (c *localCache) get(key string) (cacheEntry, bool) {
	return c.cache.Get(key)
}

func (c *localCache) setInfo(key string, info *KeyInfo) {
	c.cache.Set(key, cacheEntry{info: info}, 0)
}

func (c *localCache) setTombstone(key string) {
	c.cache.Set(key, cacheEntry{tombstone: true}, 0)
}
