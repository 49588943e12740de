package embedding

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned when the breaker is rejecting provider calls.
var ErrCircuitOpen = errors.New("embedding circuit open")

// Match is the best candidate found by a semantic search.
type Match struct {
	Intent     string
	Similarity float32
	Example    string
}

// MatcherConfig configures the semantic matcher.
type MatcherConfig struct {
	Provider Provider
	Cache    *Cache

	// CallTimeout bounds each provider call (default: 3s).
	CallTimeout time.Duration

	// FailureThreshold opens the circuit after this many consecutive
	// failures (default: 3).
	FailureThreshold int

	// Cooldown is how long the circuit stays open (default: 5m).
	Cooldown time.Duration

	// PrecomputeBatch is the batch size for startup precompute (default: 10).
	PrecomputeBatch int

	// PrecomputeRate paces precompute batches (default: 2/s).
	PrecomputeRate rate.Limit
}

// Matcher embeds queries and compares them against intent example sets by
// cosine similarity. Every provider call is cache-backed, time-boxed, and
// accounted by the circuit breaker.
type Matcher struct {
	provider    Provider
	cache       *Cache
	breaker     *circuitBreaker
	callTimeout time.Duration

	batchSize int
	limiter   *rate.Limiter

	inflight singleflight.Group
}

// NewMatcher creates a semantic matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 3 * time.Second
	}
	if cfg.PrecomputeBatch <= 0 {
		cfg.PrecomputeBatch = 10
	}
	if cfg.PrecomputeRate <= 0 {
		cfg.PrecomputeRate = 2
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(CacheConfig{Model: cfg.Provider.Model()})
	}

	return &Matcher{
		provider:    cfg.Provider,
		cache:       cache,
		breaker:     newCircuitBreaker(cfg.FailureThreshold, cfg.Cooldown),
		callTimeout: cfg.CallTimeout,
		batchSize:   cfg.PrecomputeBatch,
		limiter:     rate.NewLimiter(cfg.PrecomputeRate, 1),
	}
}

// CircuitOpen reports whether semantic attempts should be skipped entirely.
func (m *Matcher) CircuitOpen() bool {
	return m.breaker.open()
}

// CacheSize reports the number of cached vectors.
func (m *Matcher) CacheSize() int {
	return m.cache.Size()
}

// Embed returns the vector for text, consulting the cache first. Concurrent
// requests for the same text are coalesced into one provider call.
func (m *Matcher) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := m.cache.Get(text); ok {
		return vec, nil
	}
	if !m.breaker.allow() {
		return nil, ErrCircuitOpen
	}

	v, err, _ := m.inflight.Do(text, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()

		vec, err := m.provider.Embed(callCtx, text)
		if err != nil {
			m.breaker.recordFailure()
			return nil, err
		}
		m.breaker.recordSuccess()
		m.cache.Put(text, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// MatchQuery embeds the query and returns the single best cosine match
// across all candidate example sets. Candidate examples missing from the
// cache are embedded lazily; if the provider degrades mid-search the best
// match found so far is returned.
func (m *Matcher) MatchQuery(ctx context.Context, query string, sets map[string][]string) (Match, error) {
	queryVec, err := m.Embed(ctx, query)
	if err != nil {
		return Match{}, err
	}

	var best Match
	for intentName, examples := range sets {
		for _, example := range examples {
			vec, ok := m.cache.Get(example)
			if !ok {
				vec, err = m.Embed(ctx, example)
				if err != nil {
					slog.Debug("embedding: candidate embed failed, stopping search",
						"intent", intentName, "error", err)
					return best, nil
				}
			}
			if sim := cosineSimilarity(queryVec, vec); sim > best.Similarity {
				best = Match{Intent: intentName, Similarity: sim, Example: example}
			}
		}
	}
	return best, nil
}

// Precompute embeds every example in the given sets, batching requests and
// pacing between batches to respect provider rate limits. Best-effort: a
// failed batch is logged and skipped, and the circuit breaker applies.
func (m *Matcher) Precompute(ctx context.Context, sets map[string][]string) {
	var pending []string
	for _, examples := range sets {
		for _, example := range examples {
			if _, ok := m.cache.Get(example); !ok {
				pending = append(pending, example)
			}
		}
	}
	if len(pending) == 0 {
		return
	}

	slog.Info("embedding: precomputing example vectors", "count", len(pending))

	for start := 0; start < len(pending); start += m.batchSize {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		if !m.breaker.allow() {
			slog.Debug("embedding: precompute halted, circuit open")
			return
		}

		end := start + m.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		vectors, err := m.provider.EmbedBatch(callCtx, batch)
		cancel()
		if err != nil {
			m.breaker.recordFailure()
			slog.Warn("embedding: precompute batch failed", "batch_size", len(batch), "error", err)
			continue
		}
		m.breaker.recordSuccess()
		for i, vec := range vectors {
			if i < len(batch) {
				m.cache.Put(batch[i], vec)
			}
		}
	}

	m.cache.Flush()
}

// cosineSimilarity computes dot(a,b) / (|a| * |b|). A zero-magnitude or
// mismatched-length vector yields 0, never a division error.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
