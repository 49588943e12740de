package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/intentwise/cascade/intent"
	"github.com/intentwise/cascade/llm"
)

// LLMClassifier is the last-resort structured classifier. The adapter behind
// it validates intents against the catalog, so results here are already
// catalog-safe.
type LLMClassifier interface {
	Classify(ctx context.Context, rawQuery string, conversationContext map[string]any) (*llm.Result, error)
}

var _ LLMClassifier = (*llm.Classifier)(nil)

// llmStrategy races the LLM classifier against the remaining layer budget.
type llmStrategy struct {
	classifier LLMClassifier
	budget     time.Duration
	threshold  float64
}

func (s *llmStrategy) Name() string { return MethodLLM }

func (s *llmStrategy) TryClassify(ctx context.Context, q *Query) (*Result, bool) {
	remaining := s.budget - q.Elapsed()
	if remaining <= 0 {
		slog.Debug("cascade: llm layer skipped, budget exhausted",
			"elapsed_ms", q.Elapsed().Milliseconds())
		return nil, false
	}

	type outcome struct {
		res *llm.Result
		err error
	}
	ch := make(chan outcome, 1)

	callCtx := context.WithoutCancel(ctx)
	go func() {
		res, err := s.classifier.Classify(callCtx, q.Raw, q.Context)
		ch <- outcome{res: res, err: err}
	}()

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case out := <-ch:
		if out.err != nil {
			slog.Debug("cascade: llm classification failed", "error", out.err)
			return nil, false
		}
		return s.evaluate(q, out.res)
	case <-timer.C:
		slog.Debug("cascade: llm classification timed out",
			"input", truncate(q.Raw, 50),
			"budget_ms", s.budget.Milliseconds())
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (s *llmStrategy) evaluate(q *Query, r *llm.Result) (*Result, bool) {
	result := &Result{
		Intent:      r.Intent,
		Entities:    r.Entities,
		Confidence:  r.Confidence,
		Explanation: r.Explanation,
		Method:      MethodLLM,
	}

	if r.Confidence >= s.threshold {
		slog.Debug("cascade: llm classification",
			"input", truncate(q.Raw, 50),
			"intent", r.Intent,
			"confidence", r.Confidence)
		return result, true
	}
	if r.Intent != intent.Unknown {
		q.addCandidate(result)
	}
	return nil, false
}
