package classify

import (
	"context"
	"log/slog"
	"time"

	"github.com/intentwise/cascade/intent"
)

// PatternMatch is the output of the external pattern matcher.
type PatternMatch struct {
	Intent      string
	Entities    map[string]any
	Confidence  float64
	Explanation string
}

// PatternMatcher is the deterministic regex/keyword classifier supplied by
// the calling service. Match must be synchronous and side-effect-free.
type PatternMatcher interface {
	Match(normalizedQuery string, conversationContext map[string]any) (PatternMatch, bool)
}

// patternStrategy runs the pattern matcher first. It is authoritative when
// confident because it is cheap and deterministic.
type patternStrategy struct {
	matcher   PatternMatcher
	threshold float64
	boost     float64
	boostCap  float64
}

func (s *patternStrategy) Name() string { return MethodPattern }

func (s *patternStrategy) TryClassify(_ context.Context, q *Query) (*Result, bool) {
	m, ok := s.matcher.Match(q.Normalized, q.Context)
	if !ok || m.Intent == "" {
		return nil, false
	}

	confidence := m.Confidence
	if m.Intent != intent.Unknown && confidence >= s.threshold {
		confidence += s.boost
		if confidence > s.boostCap {
			confidence = s.boostCap
		}
	}

	result := &Result{
		Intent:      m.Intent,
		Entities:    m.Entities,
		Confidence:  confidence,
		Explanation: m.Explanation,
		Method:      MethodPattern,
	}

	// An unknown-intent match is never authoritative: the deeper layers
	// still get a chance to classify.
	if m.Intent != intent.Unknown && confidence >= s.threshold {
		return result, true
	}

	// Below threshold: keep the match around for the fallback step.
	if m.Intent != intent.Unknown {
		q.addCandidate(result)
	}
	slog.Debug("cascade: pattern match below threshold",
		"input", truncate(q.Normalized, 50),
		"intent", m.Intent,
		"confidence", m.Confidence,
		"latency_ms", time.Since(q.StartedAt).Milliseconds())
	return nil, false
}
