package classify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentwise/cascade/embedding"
	"github.com/intentwise/cascade/intent"
	"github.com/intentwise/cascade/learning"
	"github.com/intentwise/cascade/llm"
)

// stubPattern answers from a fixed table of normalized-query matches.
type stubPattern struct {
	matches map[string]PatternMatch
}

func (s *stubPattern) Match(normalized string, _ map[string]any) (PatternMatch, bool) {
	m, ok := s.matches[normalized]
	return m, ok
}

// stubLLM returns a canned classification or error.
type stubLLM struct {
	result *llm.Result
	err    error
	calls  int
}

func (s *stubLLM) Classify(_ context.Context, _ string, _ map[string]any) (*llm.Result, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// stubProvider serves embeddings from a fixed map. Unknown texts embed to a
// zero-similarity direction so they never accidentally match. A nil map with
// block set simulates a hung provider that respects cancellation.
type stubProvider struct {
	vectors map[string][]float32
	block   bool
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if vec, ok := p.vectors[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func (p *stubProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (p *stubProvider) Model() string   { return "stub-model" }
func (p *stubProvider) Dimensions() int { return 3 }

func salesRegistry() *intent.Registry {
	return intent.NewRegistry(
		intent.Definition{
			Name:        "pipeline_by_owner",
			Description: "open deals for a specific owner",
			Examples:    []string{"show me bob's pipeline"},
			EntitySlots: []string{"owners"},
		},
		intent.Definition{
			Name:        "get_sales_total",
			Description: "total sales for a period",
			Examples:    []string{"total sales this month"},
		},
	)
}

func newTestService(t *testing.T, deps Deps, cfg Config) *Service {
	t.Helper()
	if deps.Registry == nil {
		deps.Registry = salesRegistry()
	}
	if deps.Store == nil {
		deps.Store = learning.NewStore(learning.StoreConfig{
			Path: filepath.Join(t.TempDir(), "learning.json"),
		})
	}
	svc, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{Store: learning.NewStore(learning.StoreConfig{})})
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Registry: salesRegistry()})
	assert.Error(t, err)
}

func TestClassifyPatternMatch(t *testing.T) {
	pattern := &stubPattern{matches: map[string]PatternMatch{
		"julie's deals": {
			Intent:      "pipeline_by_owner",
			Entities:    map[string]any{"owners": []string{"Julie"}},
			Confidence:  0.8,
			Explanation: "owner possessive followed by deals",
		},
	}}
	svc := newTestService(t, Deps{Pattern: pattern}, Config{})

	result := svc.Classify(context.Background(), "Julie's deals", nil, "u1")
	assert.Equal(t, "pipeline_by_owner", result.Intent)
	assert.Equal(t, MethodPattern, result.Method)
	assert.GreaterOrEqual(t, result.Confidence, 0.8)
	assert.False(t, result.FollowUp)
	assert.Equal(t, []string{"Julie"}, result.Entities["owners"])
}

func TestClassifyPatternBoostCapped(t *testing.T) {
	pattern := &stubPattern{matches: map[string]PatternMatch{
		"total sales": {Intent: "get_sales_total", Confidence: 0.97},
	}}
	svc := newTestService(t, Deps{Pattern: pattern}, Config{})

	result := svc.Classify(context.Background(), "total sales", nil, "")
	assert.Equal(t, 0.98, result.Confidence)
}

func TestClassifyPatternUnknownNotAuthoritative(t *testing.T) {
	// A confident match on the fallback intent must not short-circuit the
	// cascade; deeper layers still get their chance.
	pattern := &stubPattern{matches: map[string]PatternMatch{
		"what about the thing": {Intent: intent.Unknown, Confidence: 0.9},
	}}
	classifier := &stubLLM{result: &llm.Result{Intent: "get_sales_total", Confidence: 0.8}}
	svc := newTestService(t, Deps{Pattern: pattern, LLM: classifier}, Config{})

	result := svc.Classify(context.Background(), "what about the thing", nil, "")
	assert.Equal(t, "get_sales_total", result.Intent)
	assert.Equal(t, MethodLLM, result.Method)
	assert.Equal(t, 1, classifier.calls)
}

func TestClassifyEmptyQuery(t *testing.T) {
	svc := newTestService(t, Deps{}, Config{})

	result := svc.Classify(context.Background(), "   ", nil, "")
	assert.Equal(t, intent.Unknown, result.Intent)
	assert.Equal(t, 0.3, result.Confidence)
	assert.True(t, result.FollowUp)
	assert.Equal(t, MethodFallback, result.Method)
}

func TestClassifyFallbackUnknown(t *testing.T) {
	svc := newTestService(t, Deps{Pattern: &stubPattern{}}, Config{})

	result := svc.Classify(context.Background(), "asdkjasd random gibberish", nil, "")
	assert.Equal(t, intent.Unknown, result.Intent)
	assert.Equal(t, 0.3, result.Confidence)
	assert.True(t, result.FollowUp)
}

func TestClassifyFallbackPrefersPatternCandidate(t *testing.T) {
	pattern := &stubPattern{matches: map[string]PatternMatch{
		"maybe sales": {Intent: "get_sales_total", Confidence: 0.6},
	}}
	svc := newTestService(t, Deps{Pattern: pattern}, Config{})

	result := svc.Classify(context.Background(), "maybe sales", nil, "")
	assert.Equal(t, "get_sales_total", result.Intent)
	assert.Equal(t, MethodFallback, result.Method)
	assert.Equal(t, 0.6, result.Confidence)
	assert.True(t, result.FollowUp)
}

func TestClassifyExactMatch(t *testing.T) {
	store := learning.NewStore(learning.StoreConfig{})
	normalized := "revenue last quarter"
	hash := learning.QueryHash(normalized)
	store.Put(hash, "get_sales_total", map[string]any{"period": "last_quarter"}, 0.99, normalized)

	svc := newTestService(t, Deps{Store: store}, Config{})

	first := svc.Classify(context.Background(), "Revenue last quarter", nil, "")
	assert.Equal(t, "get_sales_total", first.Intent)
	assert.Equal(t, MethodExact, first.Method)
	assert.GreaterOrEqual(t, first.Confidence, 0.99)
	assert.False(t, first.FollowUp)

	second := svc.Classify(context.Background(), "revenue last quarter", nil, "")
	assert.Equal(t, "get_sales_total", second.Intent)

	rec, ok := store.Get(hash)
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.Uses, "one initial put plus two lookups")
}

func TestClassifyExactBelowThresholdIsCandidate(t *testing.T) {
	store := learning.NewStore(learning.StoreConfig{})
	normalized := "pipeline report"
	store.Put(learning.QueryHash(normalized), "pipeline_by_owner", nil, 0.8, normalized)

	svc := newTestService(t, Deps{Store: store}, Config{})

	result := svc.Classify(context.Background(), "pipeline report", nil, "")
	assert.Equal(t, "pipeline_by_owner", result.Intent)
	assert.Equal(t, MethodFallback, result.Method)
	assert.Less(t, result.Confidence, 0.99)
}

func TestClassifySemanticMatch(t *testing.T) {
	provider := &stubProvider{vectors: map[string][]float32{
		"how much did we sell":   {1, 0, 0},
		"total sales this month": {1, 0, 0},
		"show me bob's pipeline": {0, 1, 0},
	}}
	matcher := embedding.NewMatcher(embedding.MatcherConfig{Provider: provider})
	store := learning.NewStore(learning.StoreConfig{})
	svc := newTestService(t, Deps{Store: store, Semantic: matcher}, Config{})

	result := svc.Classify(context.Background(), "How much did we sell", nil, "")
	assert.Equal(t, "get_sales_total", result.Intent)
	assert.Equal(t, MethodSemantic, result.Method)
	assert.GreaterOrEqual(t, result.Confidence, 0.85)

	// The accepted result is learned in the background.
	hash := learning.QueryHash("how much did we sell")
	require.Eventually(t, func() bool {
		_, ok := store.Get(hash)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestClassifyTimeoutRespected(t *testing.T) {
	matcher := embedding.NewMatcher(embedding.MatcherConfig{
		Provider:    &stubProvider{block: true},
		CallTimeout: 5 * time.Second,
	})
	svc := newTestService(t, Deps{Semantic: matcher}, Config{
		SemanticBudget: 100 * time.Millisecond,
	})

	start := time.Now()
	result := svc.Classify(context.Background(), "anything at all", nil, "")
	elapsed := time.Since(start)

	assert.Equal(t, intent.Unknown, result.Intent)
	assert.Less(t, elapsed, time.Second, "classify must return at the layer budget, not the provider's pace")
}

func TestClassifyLLMLayer(t *testing.T) {
	classifier := &stubLLM{result: &llm.Result{
		Intent:      "get_sales_total",
		Confidence:  0.82,
		Explanation: "asks about sales volume",
	}}
	store := learning.NewStore(learning.StoreConfig{})
	svc := newTestService(t, Deps{Store: store, LLM: classifier}, Config{})

	result := svc.Classify(context.Background(), "what were the numbers", nil, "")
	assert.Equal(t, "get_sales_total", result.Intent)
	assert.Equal(t, MethodLLM, result.Method)
	assert.False(t, result.FollowUp)

	hash := learning.QueryHash("what were the numbers")
	require.Eventually(t, func() bool {
		_, ok := store.Get(hash)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestClassifyLLMLowConfidenceBecomesCandidate(t *testing.T) {
	classifier := &stubLLM{result: &llm.Result{Intent: "get_sales_total", Confidence: 0.45}}
	svc := newTestService(t, Deps{LLM: classifier}, Config{})

	result := svc.Classify(context.Background(), "hmm not sure", nil, "")
	assert.Equal(t, "get_sales_total", result.Intent)
	assert.Equal(t, MethodFallback, result.Method)
	assert.True(t, result.FollowUp)
}

func TestClassifyLLMErrorFallsThrough(t *testing.T) {
	classifier := &stubLLM{err: context.DeadlineExceeded}
	svc := newTestService(t, Deps{LLM: classifier}, Config{})

	result := svc.Classify(context.Background(), "broken provider", nil, "")
	assert.Equal(t, intent.Unknown, result.Intent)
	assert.Equal(t, 1, classifier.calls)
}

func TestFeedbackMonotonicity(t *testing.T) {
	classifier := &stubLLM{result: &llm.Result{Intent: "get_sales_total", Confidence: 0.75}}
	store := learning.NewStore(learning.StoreConfig{
		Path: filepath.Join(t.TempDir(), "learning.json"),
	})
	svc := newTestService(t, Deps{Store: store, LLM: classifier}, Config{})

	query := "deals closing soon"
	first := svc.Classify(context.Background(), query, nil, "u1")
	assert.Equal(t, "get_sales_total", first.Intent)

	require.NoError(t, svc.ProcessFeedback(query, first.Intent, "pipeline_by_owner", "u1"))

	second := svc.Classify(context.Background(), query, nil, "u1")
	assert.Equal(t, "pipeline_by_owner", second.Intent)
	assert.GreaterOrEqual(t, second.Confidence, 0.99)
	assert.Equal(t, MethodExact, second.Method)
	assert.Equal(t, 1, classifier.calls, "corrected query must not reach the llm again")
}

func TestProcessFeedbackRejectsUnknownIntent(t *testing.T) {
	svc := newTestService(t, Deps{}, Config{})

	err := svc.ProcessFeedback("some query", "a", "not_a_real_intent", "u1")
	assert.Error(t, err)

	err = svc.ProcessFeedback("   ", "a", "get_sales_total", "u1")
	assert.Error(t, err)
}

func TestFeedbackGrowsExampleSet(t *testing.T) {
	store := learning.NewStore(learning.StoreConfig{})
	svc := newTestService(t, Deps{Store: store}, Config{})

	require.NoError(t, svc.ProcessFeedback("Who owns the Acme deal", intent.Unknown, "pipeline_by_owner", "u1"))

	sets := store.ExampleSets()
	assert.Contains(t, sets["pipeline_by_owner"], "who owns the acme deal")
}

func TestGetStats(t *testing.T) {
	pattern := &stubPattern{matches: map[string]PatternMatch{
		"julie's deals": {Intent: "pipeline_by_owner", Confidence: 0.85},
	}}
	store := learning.NewStore(learning.StoreConfig{})
	svc := newTestService(t, Deps{Store: store, Pattern: pattern}, Config{})

	svc.Classify(context.Background(), "julie's deals", nil, "")
	svc.Classify(context.Background(), "gibberish here", nil, "")
	require.NoError(t, svc.ProcessFeedback("gibberish here", intent.Unknown, "get_sales_total", "u1"))

	stats := svc.GetStats()
	assert.Equal(t, int64(2), stats.TotalQueries)
	assert.Equal(t, int64(1), stats.PatternMatches)
	assert.Equal(t, int64(1), stats.FeedbackReceived)
	assert.Equal(t, int64(1), stats.Corrections)
	assert.Equal(t, int64(1), stats.LearnedQueries)
}

func TestCloseDrainsLearnQueue(t *testing.T) {
	classifier := &stubLLM{result: &llm.Result{Intent: "get_sales_total", Confidence: 0.9}}
	store := learning.NewStore(learning.StoreConfig{})
	svc, err := New(Config{}, Deps{
		Registry: salesRegistry(),
		Store:    store,
		LLM:      classifier,
	})
	require.NoError(t, err)

	svc.Classify(context.Background(), "quarterly revenue", nil, "")
	svc.Close()

	_, ok := store.Get(learning.QueryHash("quarterly revenue"))
	assert.True(t, ok)
}
