package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	mu      sync.Mutex
	fetches int
	err     error
	block   chan struct{} // if set, fetch waits until closed
}

func (f *countingFetcher) FetchBoundingBox(ctx context.Context, lat, lon float64) (json.RawMessage, error) {
	f.mu.Lock()
	f.fetches++
	block := f.block
	err := f.err
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"cell":"%.4f,%.4f"}`, lat, lon)), nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func TestCacheHitSkipsFetch(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, 20)
	ctx := context.Background()

	first, ok := cache.Lookup(ctx, 51.50001, -0.12002)
	require.True(t, ok)

	// Rounds to the same 4-decimal cell, so no second fetch.
	second, ok := cache.Lookup(ctx, 51.50004, -0.11998)
	require.True(t, ok)

	assert.Equal(t, 1, fetcher.count())
	assert.Equal(t, first, second)
}

func TestCacheKeyRounding(t *testing.T) {
	assert.Equal(t, "51.5000,-0.1200", CellKey(51.50001, -0.12002))
	assert.Equal(t, CellKey(51.50004, -0.11998), CellKey(51.5, -0.12))
	assert.NotEqual(t, CellKey(51.5001, -0.12), CellKey(51.5002, -0.12))
}

func TestCacheEvictsOldestInserted(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, 20)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, ok := cache.Lookup(ctx, float64(i), 0)
		require.True(t, ok)
	}
	require.Equal(t, 20, cache.Len())

	// Re-access the first entry so LRU and FIFO would disagree.
	_, ok := cache.Lookup(ctx, 0, 0)
	require.True(t, ok)
	require.Equal(t, 20, fetcher.count())

	// 21st distinct cell evicts the first-inserted entry, not the least
	// recently used one.
	_, ok = cache.Lookup(ctx, 20, 0)
	require.True(t, ok)

	assert.Equal(t, 20, cache.Len())
	assert.False(t, cache.Contains(0, 0))
	assert.True(t, cache.Contains(1, 0))
	assert.True(t, cache.Contains(20, 0))
}

func TestCacheTwentyFiveSequentialLookups(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := NewCache(fetcher, 20)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, ok := cache.Lookup(ctx, float64(i), 0)
		require.True(t, ok)
	}

	assert.Equal(t, 20, cache.Len())
	assert.Equal(t, 25, fetcher.count())

	// The first coordinate was evicted, so looking it up again fetches.
	_, ok := cache.Lookup(ctx, 0, 0)
	require.True(t, ok)
	assert.Equal(t, 26, fetcher.count())
}

func TestCacheFetchFailureNotCached(t *testing.T) {
	fetcher := &countingFetcher{err: errors.New("service down")}
	cache := NewCache(fetcher, 20)
	ctx := context.Background()

	_, ok := cache.Lookup(ctx, 10, 10)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())

	// Failure was not stored; recovery is possible on the next lookup.
	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()

	_, ok = cache.Lookup(ctx, 10, 10)
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestCacheConcurrentMissesCollapse(t *testing.T) {
	block := make(chan struct{})
	fetcher := &countingFetcher{block: block}
	cache := NewCache(fetcher, 20)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	results := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = cache.Lookup(ctx, 42.0, 13.0)
		}(i)
	}

	close(block)
	wg.Wait()

	for i, ok := range results {
		assert.True(t, ok, "caller %d", i)
	}
	// All concurrent misses share one flight.
	assert.LessOrEqual(t, fetcher.count(), 2)
	assert.GreaterOrEqual(t, fetcher.count(), 1)
}
