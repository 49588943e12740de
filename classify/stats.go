package classify

import "sync/atomic"

// Stats is a point-in-time snapshot of cascade activity.
type Stats struct {
	TotalQueries       int64 `json:"total_queries"`
	ExactMatches       int64 `json:"exact_matches"`
	SemanticMatches    int64 `json:"semantic_matches"`
	PatternMatches     int64 `json:"pattern_matches"`
	LLMClassifications int64 `json:"llm_classifications"`
	FeedbackReceived   int64 `json:"feedback_received"`
	LearnedQueries     int64 `json:"learned_queries"`
	Corrections        int64 `json:"corrections"`
	CachedEmbeddings   int64 `json:"cached_embeddings"`
}

// counters holds the per-process tallies behind GetStats.
type counters struct {
	total    atomic.Int64
	exact    atomic.Int64
	semantic atomic.Int64
	pattern  atomic.Int64
	llm      atomic.Int64
	feedback atomic.Int64
}

func (c *counters) recordMethod(method string) {
	c.total.Add(1)
	switch method {
	case MethodPattern:
		c.pattern.Add(1)
	case MethodExact:
		c.exact.Add(1)
	case MethodSemantic:
		c.semantic.Add(1)
	case MethodLLM:
		c.llm.Add(1)
	}
}
