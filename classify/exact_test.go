package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentwise/cascade/cache"
	"github.com/intentwise/cascade/learning"
)

func newExactStrategy(store *learning.Store) *exactStrategy {
	return &exactStrategy{
		store:     store,
		hot:       cache.NewLRU[string, learning.QueryRecord](10, time.Minute),
		threshold: 0.99,
	}
}

func TestExactHotCacheServesReads(t *testing.T) {
	s := newExactStrategy(learning.NewStore(learning.StoreConfig{}))
	hash := learning.QueryHash("revenue last quarter")
	s.hot.Set(hash, learning.QueryRecord{
		Intent:     "get_sales_total",
		Confidence: 0.99,
		Uses:       4,
	})

	// The hot cache must be able to answer on its own.
	result, ok := s.TryClassify(context.Background(), &Query{Hash: hash, StartedAt: time.Now()})
	require.True(t, ok)
	assert.Equal(t, "get_sales_total", result.Intent)
	assert.Equal(t, MethodExact, result.Method)
}

func TestExactHotHitStillCountsUsage(t *testing.T) {
	store := learning.NewStore(learning.StoreConfig{})
	normalized := "revenue last quarter"
	hash := learning.QueryHash(normalized)
	store.Put(hash, "get_sales_total", nil, 0.99, normalized)

	s := newExactStrategy(store)
	q := &Query{Hash: hash, Normalized: normalized, StartedAt: time.Now()}

	// First hit reads the store and primes the hot cache.
	_, ok := s.TryClassify(context.Background(), q)
	require.True(t, ok)
	_, hot := s.hot.Get(hash)
	require.True(t, hot)

	// Second hit is served hot but the store keeps counting.
	_, ok = s.TryClassify(context.Background(), q)
	require.True(t, ok)

	rec, found := store.Get(hash)
	require.True(t, found)
	assert.Equal(t, int64(3), rec.Uses, "one initial put plus two accepted hits")
}

func TestExactCandidateDoesNotCountUsage(t *testing.T) {
	store := learning.NewStore(learning.StoreConfig{})
	normalized := "pipeline report"
	hash := learning.QueryHash(normalized)
	store.Put(hash, "pipeline_by_owner", nil, 0.8, normalized)

	s := newExactStrategy(store)
	q := &Query{Hash: hash, Normalized: normalized, StartedAt: time.Now()}

	_, ok := s.TryClassify(context.Background(), q)
	assert.False(t, ok)
	require.Len(t, q.candidates, 1)

	// A sub-threshold read is not a use: the relearn write that follows an
	// accepted semantic or LLM result counts it instead, keeping the tally
	// at one per call.
	rec, found := store.Get(hash)
	require.True(t, found)
	assert.Equal(t, int64(1), rec.Uses)
}
