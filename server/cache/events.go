// Package cache keeps recently read event lists in memory.
package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/cyp0633/recurra/server/notify"
	"github.com/cyp0633/recurra/server/storage"
)

// CacheEntry represents the cached events of one rule
type CacheEntry struct {
	Events     []*storage.Event
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// EventCache caches a rule's sorted event list, keyed by rule id
type EventCache struct {
	entries         map[string]*CacheEntry
	generations     map[string]uint64 // bumped by Invalidate
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
	unwatch         []func()
	now             func() time.Time
}

// CacheConfig holds configuration for the event cache
type CacheConfig struct {
	TTL             time.Duration // How long entries stay valid
	MaxEntries      int           // Maximum number of entries before cleanup
	CleanupInterval time.Duration // How often to run cleanup
}

// DefaultCacheConfig provides sensible defaults for event caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// New creates an event cache and starts its cleanup goroutine.
// Zero config fields fall back to DefaultCacheConfig.
func New(config CacheConfig) *EventCache {
	return newWithClock(config, time.Now)
}

func newWithClock(config CacheConfig, now func() time.Time) *EventCache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultCacheConfig.MaxEntries
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}

	c := &EventCache{
		entries:         make(map[string]*CacheEntry),
		generations:     make(map[string]uint64),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             now,
	}
	go c.cleanupLoop()
	return c
}

// Watch invalidates a rule's entry whenever the bus reports a mutation of
// that rule. Invalidation happens before the publisher's Publish returns.
func (c *EventCache) Watch(bus *notify.Bus) {
	remove := bus.Handle(func(m notify.RuleMutation) {
		c.Invalidate(m.RuleID)
	})
	c.mutex.Lock()
	c.unwatch = append(c.unwatch, remove)
	c.mutex.Unlock()
}

// Get returns a copy of the cached events of ruleID if present and fresh.
func (c *EventCache) Get(ruleID string) ([]*storage.Event, bool) {
	c.mutex.RLock()
	entry, exists := c.entries[ruleID]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := c.now()
	if now.After(entry.ExpiresAt) {
		c.mutex.Lock()
		if c.entries[ruleID] == entry {
			delete(c.entries, ruleID)
		}
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.AccessedAt = now
	c.mutex.Unlock()

	return cloneEvents(entry.Events), true
}

// Generation returns the invalidation count of ruleID. A reader takes it
// before loading events from the store and hands it to SetIfCurrent.
func (c *EventCache) Generation(ruleID string) uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.generations[ruleID]
}

// Set stores events for ruleID unconditionally.
func (c *EventCache) Set(ruleID string, events []*storage.Event) {
	entry := c.newEntry(events)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.store(ruleID, entry)
}

// SetIfCurrent stores events for ruleID only if ruleID has not been
// invalidated since Generation returned gen. It reports whether the events
// were stored.
func (c *EventCache) SetIfCurrent(ruleID string, gen uint64, events []*storage.Event) bool {
	entry := c.newEntry(events)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.generations[ruleID] != gen {
		return false
	}
	c.store(ruleID, entry)
	return true
}

func (c *EventCache) newEntry(events []*storage.Event) *CacheEntry {
	now := c.now()
	return &CacheEntry{
		Events:     cloneEvents(events),
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}
}

// store inserts entry. Callers hold the write lock.
func (c *EventCache) store(ruleID string, entry *CacheEntry) {
	c.entries[ruleID] = entry
	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// Invalidate drops the entry of ruleID and bumps its generation, so fills
// that read the store before this call are rejected.
func (c *EventCache) Invalidate(ruleID string) {
	c.mutex.Lock()
	delete(c.entries, ruleID)
	c.generations[ruleID]++
	c.mutex.Unlock()
}

// cleanup removes expired entries, then the least recently accessed ones
// while over the limit. Callers hold the write lock.
func (c *EventCache) cleanup() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return c.entries[a].AccessedAt.Compare(c.entries[b].AccessedAt)
	})
	for _, key := range keys[:len(c.entries)-c.maxEntries] {
		delete(c.entries, key)
	}
}

func (c *EventCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine, detaches from watched buses and
// clears the cache. It is safe to call more than once.
func (c *EventCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
		c.mutex.Lock()
		unwatch := c.unwatch
		c.unwatch = nil
		c.entries = make(map[string]*CacheEntry)
		c.mutex.Unlock()
		for _, remove := range unwatch {
			remove()
		}
	})
}

// Stats returns cache statistics
func (c *EventCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	now := c.now()
	expired := 0
	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expired++
		}
	}
	return CacheStats{
		TotalEntries:   len(c.entries),
		ExpiredEntries: expired,
		ActiveEntries:  len(c.entries) - expired,
	}
}

// CacheStats provides information about cache occupancy
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}

func cloneEvents(events []*storage.Event) []*storage.Event {
	out := make([]*storage.Event, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out
}
