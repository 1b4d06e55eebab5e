package registry

import (
	"fmt"
	"sync"
	"time"
)

// recommendCache memoizes recommendation responses for identical requests.
// Rankings only change when the catalog does, so registration invalidates
// the cache wholesale instead of tracking per-capability dependencies.
type recommendCache struct {
	mu    sync.RWMutex
	items map[string]recommendEntry
	ttl   time.Duration
	stop  chan struct{}
}

type recommendEntry struct {
	response  *RecommendResponse
	expiresAt time.Time
}

// newRecommendCache creates a cache and starts its background sweeper.
// Callers must close() it to release the sweeper.
func newRecommendCache(ttl time.Duration) *recommendCache {
	c := &recommendCache{
		items: make(map[string]recommendEntry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go c.sweep()
	return c
}

// key derives the cache key from the request fields that affect ranking.
func (c *recommendCache) key(req recommendRequest) string {
	return fmt.Sprintf("%s|%d|%s", req.Task, req.Budget, req.VersionConstraint)
}

// get returns the cached response, or nil when absent or expired.
func (c *recommendCache) get(key string) *RecommendResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.items[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

// put stores a response under the cache TTL.
func (c *recommendCache) put(key string, response *RecommendResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = recommendEntry{
		response:  response,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// invalidate clears the entire cache. Called on every registration.
func (c *recommendCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]recommendEntry)
}

// close stops the background sweeper. Safe to call once.
func (c *recommendCache) close() {
	close(c.stop)
}

// sweep drops expired entries until close.
func (c *recommendCache) sweep() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.items {
				if now.After(entry.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
