package localalpha

import (
	"sync"
	"time"
)

// heatCache is a per-node TTL cache for computed heat values, invalidated
// when spectral clustering changes or on explicit invalidation.
type heatCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]heatEntry
	now     func() time.Time
}

type heatEntry struct {
	value     float64
	expiresAt time.Time
}

func newHeatCache(ttl time.Duration, now func() time.Time) *heatCache {
	if now == nil {
		now = time.Now
	}
	return &heatCache{
		ttl:     ttl,
		entries: make(map[string]heatEntry),
		now:     now,
	}
}

func (c *heatCache) get(nodeID string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[nodeID]
	if !ok || c.now().After(e.expiresAt) {
		return 0, false
	}
	return e.value, true
}

func (c *heatCache) set(nodeID string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[nodeID] = heatEntry{value: value, expiresAt: c.now().Add(c.ttl)}
}

// invalidate clears every cached heat value. Called on graph topology
// change (setSpectralClustering) or explicitly.
func (c *heatCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]heatEntry)
}
