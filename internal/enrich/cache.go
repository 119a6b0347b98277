package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of cached grid cells.
const DefaultCacheSize = 20

// Fetcher performs the remote lookup on a cache miss.
type Fetcher interface {
	FetchBoundingBox(ctx context.Context, lat, lon float64) (json.RawMessage, error)
}

// Cache is a bounded, coordinate-keyed store of enrichment payloads.
// Coordinates are snapped to a ~11m grid (4 decimal places). When a 21st
// distinct cell is inserted, the oldest-inserted entry is evicted; access
// order does not matter. Concurrent misses on the same cell are collapsed
// into one fetch.
type Cache struct {
	fetcher  Fetcher
	capacity int

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]json.RawMessage
	order   []string
}

// NewCache creates a cache over the given fetcher. A capacity <= 0 falls
// back to DefaultCacheSize.
func NewCache(fetcher Fetcher, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Cache{
		fetcher:  fetcher,
		capacity: capacity,
		entries:  make(map[string]json.RawMessage),
	}
}

// CellKey builds the cache key for a coordinate, rounded to 4 decimals.
func CellKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", lat, lon)
}

// Lookup returns the enrichment payload for a coordinate. On a miss the
// remote service is queried and the result stored under the rounded key.
// Fetch failures are swallowed: the second return value is false and the
// caller proceeds without enrichment.
func (c *Cache) Lookup(ctx context.Context, lat, lon float64) (json.RawMessage, bool) {
	key := CellKey(lat, lon)

	c.mu.Lock()
	if payload, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return payload, true
	}
	c.mu.Unlock()

	payload, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: another caller may have stored the
		// entry between our miss and the flight starting.
		c.mu.Lock()
		if cached, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()

		data, err := c.fetcher.FetchBoundingBox(ctx, lat, lon)
		if err != nil {
			return nil, err
		}

		c.store(key, data)
		return data, nil
	})
	if err != nil {
		return nil, false
	}

	return payload.(json.RawMessage), true
}

// Len returns the number of cached cells.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether a coordinate's cell is currently cached.
func (c *Cache) Contains(lat, lon float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[CellKey(lat, lon)]
	return ok
}

// store inserts an entry, evicting the oldest-inserted cell at capacity.
func (c *Cache) store(key string, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = payload
		return
	}

	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = payload
	c.order = append(c.order, key)
}
