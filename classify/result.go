package classify

import "time"

// Classification methods, reported in Result.Method.
const (
	MethodPattern  = "pattern_match"
	MethodExact    = "exact_match"
	MethodSemantic = "semantic_match"
	MethodLLM      = "llm_classification"
	MethodFallback = "fallback"
)

// Result is the outcome of one Classify call.
type Result struct {
	Intent      string         `json:"intent"`
	Entities    map[string]any `json:"entities,omitempty"`
	Confidence  float64        `json:"confidence"`
	Explanation string         `json:"explanation,omitempty"`
	Method      string         `json:"method"`
	DurationMs  int64          `json:"durationMs"`
	FollowUp    bool           `json:"followUp"`
	Timestamp   time.Time      `json:"timestamp"`
}
