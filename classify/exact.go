package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/intentwise/cascade/cache"
	"github.com/intentwise/cascade/learning"
)

// exactStrategy serves queries the system has seen before. The TTL-bounded
// hot cache is consulted first as the fast read path; the learning store
// stays authoritative for usage counting, and a miss in both means the
// query is new.
type exactStrategy struct {
	store     *learning.Store
	hot       *cache.LRU[string, learning.QueryRecord]
	threshold float64
}

func (s *exactStrategy) Name() string { return MethodExact }

func (s *exactStrategy) TryClassify(_ context.Context, q *Query) (*Result, bool) {
	rec, ok := s.hot.Get(q.Hash)
	if !ok {
		if rec, ok = s.store.Get(q.Hash); !ok {
			return nil, false
		}
	}

	if rec.EffectiveConfidence() < s.threshold {
		q.addCandidate(&Result{
			Intent:      rec.Intent,
			Entities:    rec.Entities,
			Confidence:  rec.EffectiveConfidence(),
			Explanation: fmt.Sprintf("seen %d times before", rec.Uses),
			Method:      MethodExact,
		})
		return nil, false
	}

	// Accepted: the use counts even when the hot cache served the read.
	if uses, bumped := s.store.IncrementUsage(q.Hash); bumped {
		rec.Uses = uses
	}
	s.hot.Set(q.Hash, rec)

	slog.Debug("cascade: exact match",
		"input", truncate(q.Normalized, 50),
		"intent", rec.Intent,
		"uses", rec.Uses,
		"confidence", rec.EffectiveConfidence())
	return &Result{
		Intent:      rec.Intent,
		Entities:    rec.Entities,
		Confidence:  rec.EffectiveConfidence(),
		Explanation: fmt.Sprintf("seen %d times before", rec.Uses),
		Method:      MethodExact,
	}, true
}
