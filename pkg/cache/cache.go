// Package cache keeps recent remote prediction results so repeated lookups for
// the same context skip the network.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/bastiangx/nextword/pkg/predict"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	DefaultCapacity = 100
	DefaultTTL      = 300 * time.Second
)

type entry struct {
	list    predict.RankedList
	created time.Time
}

// ResponseCache maps a normalised context and vocabulary to a remote result.
// Entries older than the TTL are treated as absent. When full, the entry
// created first is evicted; reads never refresh an entry.
type ResponseCache struct {
	mu       sync.Mutex
	entries  *simplelru.LRU[string, entry]
	capacity int
	ttl      time.Duration
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64
	expired   int64
}

// Option adjusts a ResponseCache.
type Option func(*ResponseCache)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *ResponseCache) { c.now = now }
}

// New creates a cache holding at most capacity entries for ttl.
func New(capacity int, ttl time.Duration, opts ...Option) *ResponseCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ResponseCache{capacity: capacity, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	// NewLRU only fails for a non-positive size.
	c.entries, _ = simplelru.NewLRU[string, entry](capacity, nil)
	return c
}

// Key is the canonical cache key: words trimmed, case-folded and joined by
// single spaces, then the partial word and the vocabulary.
func Key(c predict.Context, vocabulary string) string {
	words := make([]string, 0, len(c.Words))
	for _, w := range c.Words {
		words = append(words, strings.Fields(strings.ToLower(w))...)
	}
	return strings.Join(words, " ") + "|" + predict.FoldToken(c.Partial) + "|" + strings.TrimSpace(vocabulary)
}

// Get returns a copy of the cached list for the context, if present and fresh.
func (c *ResponseCache) Get(ctx predict.Context, vocabulary string) (predict.RankedList, bool) {
	key := Key(ctx, vocabulary)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(key)
	if ok && c.expiredLocked(e) {
		c.entries.Remove(key)
		c.expired++
		ok = false
	}
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return e.list.Clone(), true
}

// Put stores a copy of list.
func (c *ResponseCache) Put(ctx predict.Context, vocabulary string, list predict.RankedList) {
	key := Key(ctx, vocabulary)
	e := entry{list: list.Clone(), created: c.now()}
	if e.list == nil {
		e.list = predict.RankedList{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-adding an existing key would only move it; remove it so its
	// creation order restarts.
	c.entries.Remove(key)
	if c.entries.Add(key, e) {
		c.evictions++
	}
}

func (c *ResponseCache) expiredLocked(e entry) bool {
	return c.now().Sub(e.created) > c.ttl
}

// SetTTL changes the TTL. Existing entries are judged against the new value.
func (c *ResponseCache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// Resize changes the capacity, evicting the oldest entries when shrinking.
// Non-positive values select DefaultCapacity.
func (c *ResponseCache) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions += int64(c.entries.Resize(capacity))
	c.capacity = capacity
}

// Sweep drops every expired entry and returns how many were dropped.
func (c *ResponseCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && c.expiredLocked(e) {
			c.entries.Remove(key)
			dropped++
		}
	}
	c.expired += int64(dropped)
	return dropped
}

// Len returns the number of stored entries, fresh or not.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops everything.
func (c *ResponseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats reports cache counters.
func (c *ResponseCache) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int{
		"cacheEntries":   c.entries.Len(),
		"cacheCapacity":  c.capacity,
		"cacheHits":      int(c.hits),
		"cacheMisses":    int(c.misses),
		"cacheEvictions": int(c.evictions),
		"cacheExpired":   int(c.expired),
	}
}
