package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
	storedAt  time.Time
}

type Config struct {
	TTL time.Duration
	// MaxEntries bounds the cache; 0 leaves it unbounded.
	MaxEntries int
	Now        func() time.Time
}

// ResponseCache is a TTL map of upstream responses keyed by (service, query).
// Reads are lock-free; writes are last-writer-wins.
type ResponseCache struct {
	entries    sync.Map
	size       atomic.Int64
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

func New(cfg Config) *ResponseCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ResponseCache{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		now:        cfg.Now,
	}
}

// Key derives the cache key for a service and query.
func Key(service, query string) string {
	sum := sha256.Sum256([]byte(service + ":" + query))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached bytes. Expired entries are removed and reported as a
// miss. The returned slice must not be modified.
func (c *ResponseCache) Get(service, query string) ([]byte, bool) {
	key := Key(service, query)
	value, ok := c.entries.Load(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := value.(*entry)
	if !c.now().Before(e.expiresAt) {
		if c.entries.CompareAndDelete(key, value) {
			c.size.Add(-1)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Put stores value for ttl; ttl <= 0 uses the default.
func (c *ResponseCache) Put(service, query string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	stored := make([]byte, len(value))
	copy(stored, value)

	key := Key(service, query)
	if c.maxEntries > 0 && c.size.Load() >= int64(c.maxEntries) {
		if _, exists := c.entries.Load(key); !exists {
			c.makeRoom(now)
		}
	}

	if _, loaded := c.entries.Swap(key, &entry{value: stored, expiresAt: now.Add(ttl), storedAt: now}); !loaded {
		c.size.Add(1)
	}
}

// TTL returns the default entry lifetime.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// Len returns the number of stored entries, expired or not.
func (c *ResponseCache) Len() int {
	return int(c.size.Load())
}

func (c *ResponseCache) Stats() Stats {
	return Stats{Entries: c.size.Load(), Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Purge drops every entry and returns how many were removed.
func (c *ResponseCache) Purge() int {
	removed := 0
	c.entries.Range(func(key, value any) bool {
		if c.entries.CompareAndDelete(key, value) {
			c.size.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

// Sweep removes expired entries and returns how many were removed.
func (c *ResponseCache) Sweep() int {
	now := c.now()
	removed := 0
	c.entries.Range(func(key, value any) bool {
		if !now.Before(value.(*entry).expiresAt) && c.entries.CompareAndDelete(key, value) {
			c.size.Add(-1)
			removed++
		}
		return true
	})
	return removed
}

// makeRoom sweeps expired entries and, if the cache is still full, evicts the
// oldest one.
func (c *ResponseCache) makeRoom(now time.Time) {
	if c.Sweep() > 0 && c.size.Load() < int64(c.maxEntries) {
		return
	}
	var oldestKey, oldestValue any
	var oldest time.Time
	c.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		if oldestKey == nil || e.storedAt.Before(oldest) {
			oldestKey, oldestValue, oldest = key, value, e.storedAt
		}
		return true
	})
	if oldestKey != nil && c.entries.CompareAndDelete(oldestKey, oldestValue) {
		c.size.Add(-1)
	}
}
