package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kandev/orcad/pkg/session"
)

// Cache is the short-TTL, process-local tier for recently observed tool
// output and prompts. A background janitor sweeps expired entries so the
// map doesn't grow unbounded between reads.
type Cache struct {
	mu     sync.Mutex
	items  map[string]cacheEntry
	ttl    time.Duration
	now    func() time.Time
	cancel context.CancelFunc
}

type cacheEntry struct {
	item      session.MemoryItem
	expiresAt time.Time
}

// NewCache creates a cache with the given TTL and starts its janitor loop,
// sweeping every sweepInterval until Close is called.
func NewCache(ttl, sweepInterval time.Duration) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		items:  make(map[string]cacheEntry),
		ttl:    ttl,
		now:    time.Now,
		cancel: cancel,
	}
	c.startJanitor(ctx, sweepInterval)
	return c
}

func (c *Cache) startJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.items {
		if now.After(entry.expiresAt) {
			delete(c.items, key)
		}
	}
}

// Put stores an item, overwriting the TTL clock for its key.
func (c *Cache) Put(key string, item session.MemoryItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheEntry{item: item, expiresAt: c.now().Add(c.ttl)}
}

// Get returns an item if present and unexpired.
func (c *Cache) Get(key string) (session.MemoryItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok || c.now().After(entry.expiresAt) {
		return session.MemoryItem{}, false
	}
	return entry.item, true
}

// Snapshot returns all unexpired items, for ranking by Store.Search.
func (c *Cache) Snapshot() []session.MemoryItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make([]session.MemoryItem, 0, len(c.items))
	for _, entry := range c.items {
		if now.After(entry.expiresAt) {
			continue
		}
		out = append(out, entry.item)
	}
	return out
}

// Close stops the janitor loop.
func (c *Cache) Close() {
	c.cancel()
}
