package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intentwise/cascade/embedding"
	"github.com/intentwise/cascade/intent"
	"github.com/intentwise/cascade/learning"
)

// semanticStrategy matches the query against static and learned intent
// examples by embedding similarity. The search is raced against the layer
// budget: a late result is discarded, never awaited.
type semanticStrategy struct {
	matcher   *embedding.Matcher
	registry  *intent.Registry
	store     *learning.Store
	budget    time.Duration
	threshold float64
	candidate float64
}

func (s *semanticStrategy) Name() string { return MethodSemantic }

func (s *semanticStrategy) TryClassify(ctx context.Context, q *Query) (*Result, bool) {
	remaining := s.budget - q.Elapsed()
	if remaining <= 0 {
		slog.Debug("cascade: semantic layer skipped, budget exhausted",
			"elapsed_ms", q.Elapsed().Milliseconds())
		return nil, false
	}
	if s.matcher.CircuitOpen() {
		slog.Debug("cascade: semantic layer skipped, circuit open")
		return nil, false
	}

	sets := s.registry.ExampleSets()
	for name, examples := range s.store.ExampleSets() {
		sets[name] = append(sets[name], examples...)
	}

	type outcome struct {
		match embedding.Match
		err   error
	}
	ch := make(chan outcome, 1)

	// Detached context: the timeout below bounds how long we wait, not the
	// lifetime of the search. A late result lands in the buffered channel
	// and is garbage collected with it.
	searchCtx := context.WithoutCancel(ctx)
	go func() {
		match, err := s.matcher.MatchQuery(searchCtx, q.Normalized, sets)
		ch <- outcome{match: match, err: err}
	}()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			slog.Debug("cascade: semantic search failed", "error", out.err)
			return nil, false
		}
		return s.evaluate(q, out.match)
	case <-timer.C:
		slog.Debug("cascade: semantic search timed out",
			"input", truncate(q.Normalized, 50),
			"budget_ms", s.budget.Milliseconds())
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (s *semanticStrategy) evaluate(q *Query, m embedding.Match) (*Result, bool) {
	if m.Intent == "" {
		return nil, false
	}

	similarity := float64(m.Similarity)
	result := &Result{
		Intent:      m.Intent,
		Confidence:  similarity,
		Explanation: fmt.Sprintf("similar to %q", m.Example),
		Method:      MethodSemantic,
	}

	if similarity >= s.threshold {
		slog.Debug("cascade: semantic match",
			"input", truncate(q.Normalized, 50),
			"intent", m.Intent,
			"similarity", similarity)
		return result, true
	}
	if similarity >= s.candidate {
		q.addCandidate(result)
	}
	return nil, false
}
