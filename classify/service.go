// Package classify implements the hybrid classification cascade: an ordered
// pipeline of pattern, exact-match, semantic, and LLM strategies under
// per-layer time budgets, with a persistent learning loop feeding the
// exact-match and semantic layers.
package classify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intentwise/cascade/cache"
	"github.com/intentwise/cascade/embedding"
	"github.com/intentwise/cascade/intent"
	"github.com/intentwise/cascade/learning"
)

// Deps are the collaborators a Service is assembled from. Registry and Store
// are required; each optional strategy is simply skipped when absent, so a
// cascade degrades to whichever layers are configured.
type Deps struct {
	Registry *intent.Registry
	Store    *learning.Store

	Pattern  PatternMatcher
	Semantic *embedding.Matcher
	LLM      LLMClassifier

	// MetricsRegisterer receives Prometheus metrics (nil: unregistered).
	MetricsRegisterer prometheus.Registerer
}

// learnEvent is one pending background write into the learning store.
type learnEvent struct {
	hash       string
	intent     string
	entities   map[string]any
	confidence float64
	rawQuery   string
}

// Service is the cascade controller.
type Service struct {
	cfg        Config
	registry   *intent.Registry
	store      *learning.Store
	semantic   *embedding.Matcher
	strategies []Strategy
	hot        *cache.LRU[string, learning.QueryRecord]
	metrics    *Metrics
	counters   counters

	learnCh chan learnEvent
	quit    chan struct{}
	bgWg    sync.WaitGroup
	once    sync.Once
}

// New assembles a cascade service and starts its background workers: the
// learning writer and, when a semantic matcher is configured, best-effort
// precomputation of example embeddings.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Registry == nil {
		return nil, errors.New("intent registry is required")
	}
	if deps.Store == nil {
		return nil, errors.New("learning store is required")
	}
	def := DefaultConfig()
	if cfg.SemanticBudget <= 0 {
		cfg.SemanticBudget = def.SemanticBudget
	}
	if cfg.LLMBudget <= 0 {
		cfg.LLMBudget = def.LLMBudget
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.PatternBoost <= 0 {
		cfg.PatternBoost = def.PatternBoost
	}
	if cfg.PatternBoostCap <= 0 {
		cfg.PatternBoostCap = def.PatternBoostCap
	}
	if cfg.LearnQueueSize <= 0 {
		cfg.LearnQueueSize = def.LearnQueueSize
	}
	if cfg.HotCacheSize <= 0 {
		cfg.HotCacheSize = def.HotCacheSize
	}
	if cfg.HotCacheTTL <= 0 {
		cfg.HotCacheTTL = def.HotCacheTTL
	}

	s := &Service{
		cfg:      cfg,
		registry: deps.Registry,
		store:    deps.Store,
		semantic: deps.Semantic,
		hot:      cache.NewLRU[string, learning.QueryRecord](cfg.HotCacheSize, cfg.HotCacheTTL),
		metrics:  NewMetrics(deps.MetricsRegisterer),
		learnCh:  make(chan learnEvent, cfg.LearnQueueSize),
		quit:     make(chan struct{}),
	}

	// Strategy order is the cascade order: cheapest and most deterministic
	// first. Omitted collaborators drop their layer entirely.
	if deps.Pattern != nil {
		s.strategies = append(s.strategies, &patternStrategy{
			matcher:   deps.Pattern,
			threshold: cfg.Thresholds.Pattern,
			boost:     cfg.PatternBoost,
			boostCap:  cfg.PatternBoostCap,
		})
	}
	s.strategies = append(s.strategies, &exactStrategy{
		store:     deps.Store,
		hot:       s.hot,
		threshold: cfg.Thresholds.Exact,
	})
	if deps.Semantic != nil {
		s.strategies = append(s.strategies, &semanticStrategy{
			matcher:   deps.Semantic,
			registry:  deps.Registry,
			store:     deps.Store,
			budget:    cfg.SemanticBudget,
			threshold: cfg.Thresholds.SemanticHigh,
			candidate: cfg.Thresholds.Clarification,
		})
	}
	if deps.LLM != nil {
		s.strategies = append(s.strategies, &llmStrategy{
			classifier: deps.LLM,
			budget:     cfg.LLMBudget,
			threshold:  cfg.Thresholds.Clarification,
		})
	}

	s.bgWg.Add(1)
	go s.learnWorker()

	if s.semantic != nil {
		s.bgWg.Add(1)
		go s.precompute()
	}

	return s, nil
}

// Classify runs the query through the cascade. It never returns an error for
// an ordinary miss: when no layer produces an acceptable result the synthetic
// unknown intent is returned with followUp=true.
func (s *Service) Classify(ctx context.Context, query string, conversationContext map[string]any, userID string) *Result {
	start := time.Now()
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return s.finalize(&Query{StartedAt: start}, fallbackResult())
	}

	q := &Query{
		Raw:        query,
		Normalized: normalized,
		Hash:       learning.QueryHash(normalized),
		Context:    conversationContext,
		UserID:     userID,
		StartedAt:  start,
	}

	for _, strategy := range s.strategies {
		if result, ok := strategy.TryClassify(ctx, q); ok {
			return s.finalize(q, result)
		}
	}

	if best := q.bestCandidate(); best != nil {
		best.Method = MethodFallback
		return s.finalize(q, best)
	}
	return s.finalize(q, fallbackResult())
}

func fallbackResult() *Result {
	return &Result{
		Intent:      intent.Unknown,
		Confidence:  0.3,
		Explanation: "no classification layer produced an acceptable result",
		Method:      MethodFallback,
	}
}

// finalize stamps the result, updates telemetry, and schedules the
// background learning write. Classification never waits on persistence.
func (s *Service) finalize(q *Query, r *Result) *Result {
	r.DurationMs = time.Since(q.StartedAt).Milliseconds()
	r.Timestamp = time.Now().UTC()
	r.FollowUp = r.Confidence < s.cfg.Thresholds.FollowUp

	s.counters.recordMethod(r.Method)
	s.metrics.recordClassification(r.Method, r.FollowUp, time.Since(q.StartedAt))
	if s.semantic != nil {
		s.metrics.setCircuitState(s.semantic.CircuitOpen())
	}

	if r.Method == MethodSemantic || r.Method == MethodLLM {
		s.enqueueLearn(q, r)
	}

	slog.Debug("cascade: classified",
		"input", truncate(q.Normalized, 50),
		"intent", r.Intent,
		"method", r.Method,
		"confidence", r.Confidence,
		"follow_up", r.FollowUp,
		"latency_ms", r.DurationMs)
	return r
}

// enqueueLearn hands a result to the learning worker without blocking. A
// full queue drops the event; learning is an optimization, not a guarantee.
func (s *Service) enqueueLearn(q *Query, r *Result) {
	if r.Intent == intent.Unknown || q.Hash == "" {
		return
	}
	ev := learnEvent{
		hash:       q.Hash,
		intent:     r.Intent,
		entities:   r.Entities,
		confidence: r.Confidence,
		rawQuery:   q.Raw,
	}
	select {
	case s.learnCh <- ev:
	default:
		s.metrics.learnDrops.Inc()
		slog.Warn("cascade: learn queue full, event dropped", "intent", r.Intent)
	}
}

// learnWorker is the single consumer of the learning queue, serializing
// writes into the store.
func (s *Service) learnWorker() {
	defer s.bgWg.Done()
	for {
		select {
		case ev := <-s.learnCh:
			s.store.Put(ev.hash, ev.intent, ev.entities, ev.confidence, ev.rawQuery)
			queries, _ := s.store.Counts()
			s.metrics.learnedQueries.Set(float64(queries))
		case <-s.quit:
			// Drain whatever classification already enqueued.
			for {
				select {
				case ev := <-s.learnCh:
					s.store.Put(ev.hash, ev.intent, ev.entities, ev.confidence, ev.rawQuery)
				default:
					return
				}
			}
		}
	}
}

// precompute warms the embedding cache with every known example. Best-effort
// and fully concurrent with request serving.
func (s *Service) precompute() {
	defer s.bgWg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.quit
		cancel()
	}()

	sets := s.registry.ExampleSets()
	for name, examples := range s.store.ExampleSets() {
		sets[name] = append(sets[name], examples...)
	}
	s.semantic.Precompute(ctx, sets)
}

// GetStats aggregates process counters with store and cache sizes.
func (s *Service) GetStats() Stats {
	queries, corrections := s.store.Counts()
	st := Stats{
		TotalQueries:       s.counters.total.Load(),
		ExactMatches:       s.counters.exact.Load(),
		SemanticMatches:    s.counters.semantic.Load(),
		PatternMatches:     s.counters.pattern.Load(),
		LLMClassifications: s.counters.llm.Load(),
		FeedbackReceived:   s.counters.feedback.Load(),
		LearnedQueries:     int64(queries),
		Corrections:        int64(corrections),
	}
	if s.semantic != nil {
		st.CachedEmbeddings = int64(s.semantic.CacheSize())
	}
	return st
}

// Close stops background workers, drains pending learning writes, and
// flushes persistent state. Classify must not be called after Close.
func (s *Service) Close() {
	s.once.Do(func() {
		close(s.quit)
		s.bgWg.Wait()
		s.store.Close()
	})
}
