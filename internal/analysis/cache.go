// Package analysis builds the reconciled dataset of a commessa and the
// aggregations on top of it: WBS6 variance analysis, round trends and
// the competitiveness heatmap. Results live in a per-process cache
// keyed by a dataset version string.
package analysis

import (
	"sync"
	"time"

	"tendermatch/internal/logging"
)

// DefaultTTL bounds how long a cache entry may serve even when the
// version still matches.
const DefaultTTL = 5 * time.Minute

type cacheEntry struct {
	version string
	at      time.Time
	payload *Dataset
}

// Cache is the per-process analysis cache, one entry per commessa.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[int64]cacheEntry
	now     func() time.Time
}

// NewCache creates a cache with the default TTL.
func NewCache() *Cache {
	return &Cache{
		ttl:     DefaultTTL,
		entries: map[int64]cacheEntry{},
		now:     time.Now,
	}
}

// Get returns the cached dataset iff the stored version equals the
// recomputed one and the entry is younger than the TTL.
func (c *Cache) Get(commessaID int64, version string) (*Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[commessaID]
	if !ok {
		return nil, false
	}
	if e.version != version {
		logging.AnalysisDebug("cache miss for commessa %d: version changed", commessaID)
		return nil, false
	}
	if c.now().Sub(e.at) > c.ttl {
		logging.AnalysisDebug("cache miss for commessa %d: entry expired", commessaID)
		return nil, false
	}
	return e.payload, true
}

// Put stores (or overwrites) the entry for a commessa.
func (c *Cache) Put(commessaID int64, version string, payload *Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[commessaID] = cacheEntry{version: version, at: c.now(), payload: payload}
}

// Invalidate drops the entry for a commessa.
func (c *Cache) Invalidate(commessaID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, commessaID)
}
