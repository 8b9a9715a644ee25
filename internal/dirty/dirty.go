// Package dirty implements the panel-dirty optimizer: component E. It caches
// a 32-bit fingerprint per panel and suppresses bus writes for panels whose
// encoded payload hasn't changed since the last write.
package dirty

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Cache holds the per-panel fingerprint cache. It is owned exclusively by the
// dispatcher (spec.md §5); the mutex here guards against the control plane
// calling ForceAll concurrently, not against concurrent writers.
type Cache struct {
	mu   sync.Mutex
	seen map[string]uint32
}

// New returns an empty dirty cache.
func New() *Cache {
	return &Cache{seen: make(map[string]uint32)}
}

// Fingerprint returns the 32-bit non-cryptographic hash of a panel's encoded
// payload (spec.md §3 "Per-panel fingerprint").
func Fingerprint(payload []byte) uint32 {
	return uint32(xxhash.Sum64(payload))
}

// ShouldWrite reports whether panelID's new payload differs from the cached
// fingerprint. It does not mutate the cache — call Commit after a successful
// write, or Invalidate after a failed one.
func (c *Cache) ShouldWrite(panelID string, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.seen[panelID]
	if !ok {
		return true
	}
	return cached != Fingerprint(payload)
}

// Commit records panelID's fingerprint after a successful write.
func (c *Cache) Commit(panelID string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[panelID] = Fingerprint(payload)
}

// Invalidate drops panelID's cached fingerprint after a failed write, so the
// next tick always attempts to rewrite it.
func (c *Cache) Invalidate(panelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, panelID)
}

// ForceAll clears the entire cache, forcing every panel to be rewritten on
// the next tick. Called on transport reset and topology publication.
func (c *Cache) ForceAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]uint32)
}

// Len reports how many panels currently have a cached fingerprint (test/debug use).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
