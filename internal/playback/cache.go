package playback

import (
	"sync"

	"github.com/miradorstack/mirador-flows/internal/models"
)

// Entry is one preloaded band.
type Entry struct {
	Band   models.TimeBand
	Status models.FlowStatus
}

// Cache holds rolled-up playback results keyed by band key. Entries are
// immutable once stored unless explicitly overwritten.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[string]Entry{}}
}

// Get returns the entry for key.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

// Has reports whether key is cached.
func (c *Cache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores entry unless the key exists and overwrite is false. It reports
// whether the entry was written.
func (c *Cache) Put(entry Entry, overwrite bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[entry.Band.Key]; exists && !overwrite {
		return false
	}
	c.entries[entry.Band.Key] = entry
	return true
}

// Len returns the number of cached bands.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Entry{}
}
