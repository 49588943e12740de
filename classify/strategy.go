package classify

import (
	"context"
	"time"
)

// Query carries the state of one classification call through the cascade.
type Query struct {
	Raw        string
	Normalized string
	Hash       string
	Context    map[string]any
	UserID     string
	StartedAt  time.Time

	// candidates collected by layers that matched below their acceptance
	// threshold, in layer order. Used by the fallback step.
	candidates []*Result
}

// Elapsed returns the wall-clock time since the call started.
func (q *Query) Elapsed() time.Duration {
	return time.Since(q.StartedAt)
}

func (q *Query) addCandidate(r *Result) {
	q.candidates = append(q.candidates, r)
}

// bestCandidate returns the fallback result: the pattern-layer candidate if
// one exists, else the highest-confidence candidate from later layers.
func (q *Query) bestCandidate() *Result {
	var best *Result
	for _, c := range q.candidates {
		if c.Method == MethodPattern {
			return c
		}
		if best == nil || c.Confidence > best.Confidence {
			best = c
		}
	}
	return best
}

// Strategy is one cascade layer. TryClassify returns (result, true) when the
// layer produced an acceptable classification; (nil, false) means fall
// through to the next layer. Layers may record sub-threshold matches as
// candidates on the query.
type Strategy interface {
	Name() string
	TryClassify(ctx context.Context, q *Query) (*Result, bool)
}
