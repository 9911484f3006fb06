package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/siterisk/internal/metrics"
)

// Memory is a concurrent-safe LRU cache with TTL expiration.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*memoryEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	now        func() time.Time
}

type memoryEntry struct {
	data      []byte
	createdAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewMemory creates a Memory cache holding at most maxEntries for ttl.
func NewMemory(maxEntries int, ttl time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &Memory{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns a cached value. Expired entries are dropped and count as misses.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		ok = false
	}
	if !ok {
		c.misses.Add(1)
		metrics.CacheMissesTotal.WithLabelValues("memory").Inc()
		return nil, false
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	metrics.CacheHitsTotal.WithLabelValues("memory").Inc()
	return entry.data, true
}

// Set stores val, evicting the least recently used entry at capacity.
func (c *Memory) Set(_ context.Context, key string, val []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &memoryEntry{data: val, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &memoryEntry{data: val, createdAt: c.now()}
	c.order = append(c.order, key)
}

// Stats returns cache performance statistics.
func (c *Memory) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *Memory) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
