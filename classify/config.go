package classify

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Thresholds are the confidence cut-offs applied by the cascade layers.
type Thresholds struct {
	// Pattern accepts a pattern-layer match at or above this confidence.
	Pattern float64

	// Exact accepts a learned record at or above this effective confidence.
	Exact float64

	// SemanticHigh accepts a semantic match at or above this similarity.
	SemanticHigh float64

	// Clarification accepts an LLM classification at or above this
	// confidence. Below it the result is only a fallback candidate.
	Clarification float64

	// FollowUp marks results below this confidence with followUp=true so
	// the caller asks a clarifying question instead of acting.
	FollowUp float64
}

// Config tunes the cascade controller.
type Config struct {
	Thresholds Thresholds

	// SemanticBudget bounds how long the controller waits on the semantic
	// layer, measured from call start (default: 2s).
	SemanticBudget time.Duration

	// LLMBudget bounds how long the controller waits on the LLM layer,
	// measured from call start (default: 5s).
	LLMBudget time.Duration

	// PatternBoost is added to confident non-fallback pattern matches,
	// capped at PatternBoostCap.
	PatternBoost    float64
	PatternBoostCap float64

	// LearnQueueSize bounds the background learning queue (default: 256).
	// A full queue drops the learning event rather than blocking Classify.
	LearnQueueSize int

	// HotCacheSize and HotCacheTTL tune the exact-match hot cache
	// (default: 500 entries, 5m).
	HotCacheSize int
	HotCacheTTL  time.Duration
}

// DefaultConfig returns the standard cascade tuning.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			Pattern:       0.70,
			Exact:         0.99,
			SemanticHigh:  0.85,
			Clarification: 0.50,
			FollowUp:      0.70,
		},
		SemanticBudget:  2 * time.Second,
		LLMBudget:       5 * time.Second,
		PatternBoost:    0.05,
		PatternBoostCap: 0.98,
		LearnQueueSize:  256,
		HotCacheSize:    500,
		HotCacheTTL:     5 * time.Minute,
	}
}

// Settings is the environment-driven configuration a hosting service uses to
// assemble a cascade: provider credentials, model names, and state file
// locations. Cascade tuning itself stays in Config.
type Settings struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string

	EmbeddingModel      string
	EmbeddingDimensions int
	LLMModel            string

	LearningPath       string
	EmbeddingCachePath string
}

// LoadSettings reads settings from the environment, with an optional .env
// file. All variables are prefixed CASCADE_ except the conventional
// OPENAI_API_KEY and OPENAI_BASE_URL.
func LoadSettings() Settings {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("CASCADE_EMBEDDING_MODEL", "text-embedding-3-small")
	v.SetDefault("CASCADE_EMBEDDING_DIMENSIONS", 1536)
	v.SetDefault("CASCADE_LLM_MODEL", "gpt-4o-mini")
	v.SetDefault("CASCADE_LEARNING_PATH", "data/learning.json")
	v.SetDefault("CASCADE_EMBEDDING_CACHE_PATH", "data/embeddings.json")

	return Settings{
		OpenAIAPIKey:        v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:       v.GetString("OPENAI_BASE_URL"),
		EmbeddingModel:      v.GetString("CASCADE_EMBEDDING_MODEL"),
		EmbeddingDimensions: v.GetInt("CASCADE_EMBEDDING_DIMENSIONS"),
		LLMModel:            v.GetString("CASCADE_LLM_MODEL"),
		LearningPath:        v.GetString("CASCADE_LEARNING_PATH"),
		EmbeddingCachePath:  v.GetString("CASCADE_EMBEDDING_CACHE_PATH"),
	}
}
