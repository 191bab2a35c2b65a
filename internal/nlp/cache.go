package nlp

import (
	"sort"
	"strings"
	"sync"

	"github.com/mapspeak/mapspeak/internal/intent"
)

// cacheCapacity bounds the interpretation cache; when exceeded, the oldest
// half is evicted in insertion order. FIFO rather than true LRU, which is
// acceptable for a local session cache.
const cacheCapacity = 100

// interpretationCache stores merged intents keyed by normalized command
// context. Insertion and eviction happen under one lock so concurrent
// commands cannot observe a half-evicted cache.
type interpretationCache struct {
	mu    sync.Mutex
	items map[string]*intent.Intent
	order []string
	cap   int
}

func newInterpretationCache(capacity int) *interpretationCache {
	return &interpretationCache{
		items: make(map[string]*intent.Intent, capacity),
		cap:   capacity,
	}
}

// cacheKey normalizes (text, active layers, crs) into one deterministic key.
func cacheKey(text string, activeLayers []string, crs string) string {
	layers := append([]string(nil), activeLayers...)
	sort.Strings(layers)
	return strings.ToLower(text) + "\x00" + strings.Join(layers, "\x01") + "\x00" + crs
}

// get returns a deep copy of the cached intent, if present.
func (c *interpretationCache) get(key string) (*intent.Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return in.Clone(), true
}

// put stores a deep copy and evicts the oldest half when over capacity.
func (c *interpretationCache) put(key string, in *intent.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = in.Clone()

	if len(c.items) > c.cap {
		evict := c.order[:len(c.order)/2]
		for _, k := range evict {
			delete(c.items, k)
		}
		c.order = append([]string(nil), c.order[len(c.order)/2:]...)
	}
}

// len reports the current entry count (used by tests).
func (c *interpretationCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
