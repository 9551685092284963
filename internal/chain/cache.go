package chain

import (
	"container/list"
	"sync"
	"time"
)

// identityCache is a TTL + LRU cache in front of getidentity. Entries
// expire after ttl; when the cache is full the least recently used
// entry is evicted.
type identityCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List // front = most recently used
}

type cacheEntry struct {
	key     string
	value   *IdentityResult
	expires time.Time
}

func newIdentityCache(capacity int, ttl time.Duration) *identityCache {
	return &identityCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (c *identityCache) get(key string) *IdentityResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil
	}
	c.order.MoveToFront(el)
	return entry.value
}

func (c *identityCache) put(key string, value *IdentityResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expires = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	el := c.order.PushFront(&cacheEntry{key: key, value: value, expires: time.Now().Add(c.ttl)})
	c.entries[key] = el
}

func (c *identityCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}
