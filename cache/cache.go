// Package cache holds recently extracted results keyed by normalized URL
// and platform.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/use-agent/mediagate/models"
)

// entry holds a serialized result with its creation time and TTL.
type entry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

// Cache is an in-memory result cache. It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	now        func() time.Time
	stop       chan struct{}
	stopOnce   sync.Once
}

// New creates a Cache holding at most maxEntries results. A background
// goroutine sweeps expired entries every sweepEvery until Close.
func New(maxEntries int, sweepEvery time.Duration) *Cache {
	c := newCache(maxEntries, time.Now)
	if sweepEvery > 0 {
		go c.sweepLoop(sweepEvery)
	}
	return c
}

func newCache(maxEntries int, now func() time.Time) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        now,
		stop:       make(chan struct{}),
	}
}

// Key derives the cache key from a normalized URL and its platform.
func Key(normalizedURL string, p models.Platform) string {
	h := sha256.New()
	h.Write([]byte(normalizedURL))
	h.Write([]byte("|"))
	h.Write([]byte(p))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached result for key. Expired entries are
// treated as absent.
func (c *Cache) Get(key string) (*models.ExtractResult, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok || e.expired(c.now()) {
		return nil, false
	}

	var res models.ExtractResult
	if err := json.Unmarshal(e.value, &res); err != nil {
		return nil, false
	}
	return &res, true
}

// Set stores res under key for ttl. A non-positive ttl stores nothing. If
// the cache is full, expired entries are dropped first, then an arbitrary
// one.
func (c *Cache) Set(key string, res *models.ExtractResult, ttl time.Duration) {
	if ttl <= 0 || res == nil {
		return
	}
	value, err := json.Marshal(res)
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.store) >= c.maxEntries {
			// Map iteration order is random.
			for k := range c.store {
				delete(c.store, k)
				break
			}
		}
	}

	c.store[key] = &entry{value: value, createdAt: now, ttl: ttl}
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the sweep goroutine.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sweepLocked(c.now())
			c.mu.Unlock()
		}
	}
}

func (c *Cache) sweepLocked(now time.Time) {
	for k, e := range c.store {
		if e.expired(now) {
			delete(c.store, k)
		}
	}
}
