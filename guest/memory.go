package guest

import (
	"context"
	"sync"
	"time"
)

// DefaultCleanupThreshold is the map size above which MemoryStore sweeps
// expired entries.
const DefaultCleanupThreshold = 10000

type counter struct {
	count   int
	resetAt time.Time
}

type seenSet struct {
	urls    map[string]struct{}
	resetAt time.Time
}

// MemoryStore is a single-instance Store. Counts are per process, so
// replicas each enforce their own quota.
type MemoryStore struct {
	mu        sync.Mutex
	counters  map[string]*counter
	seen      map[string]*seenSet
	threshold int
}

// NewMemoryStore returns a MemoryStore that sweeps expired entries once a
// map grows past threshold. threshold <= 0 uses DefaultCleanupThreshold.
func NewMemoryStore(threshold int) *MemoryStore {
	if threshold <= 0 {
		threshold = DefaultCleanupThreshold
	}
	return &MemoryStore{
		counters:  make(map[string]*counter),
		seen:      make(map[string]*seenSet),
		threshold: threshold,
	}
}

func (s *MemoryStore) Hit(_ context.Context, key, url string, limit int, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(now)

	c := s.counters[key]
	if c == nil || !now.Before(c.resetAt) {
		c = &counter{resetAt: now.Add(window)}
		s.counters[key] = c
	}
	set := s.seen[key]
	if set == nil || !now.Before(set.resetAt) {
		set = &seenSet{urls: make(map[string]struct{}), resetAt: now.Add(window)}
		s.seen[key] = set
	}

	res := Result{Limit: limit}
	if _, ok := set.urls[url]; ok {
		res.Allowed = true
		res.Repeat = true
	} else if c.count < limit {
		c.count++
		set.urls[url] = struct{}{}
		res.Allowed = true
	}
	res.Remaining = max(limit-c.count, 0)
	res.ResetIn = c.resetAt.Sub(now)
	return res, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := Result{Allowed: true, Remaining: limit, Limit: limit}
	if c := s.counters[key]; c != nil && now.Before(c.resetAt) {
		res.Remaining = max(limit-c.count, 0)
		res.Allowed = res.Remaining > 0
		res.ResetIn = c.resetAt.Sub(now)
	}
	return res, nil
}

// Len returns the number of tracked counters and seen sets.
func (s *MemoryStore) Len() (counters, seen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters), len(s.seen)
}

func (s *MemoryStore) maybeSweepLocked(now time.Time) {
	if len(s.counters) > s.threshold {
		for k, c := range s.counters {
			if !now.Before(c.resetAt) {
				delete(s.counters, k)
			}
		}
	}
	if len(s.seen) > s.threshold {
		for k, set := range s.seen {
			if !now.Before(set.resetAt) {
				delete(s.seen, k)
			}
		}
	}
}
