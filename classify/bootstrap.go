package classify

import (
	"github.com/pkg/errors"

	"github.com/intentwise/cascade/embedding"
	"github.com/intentwise/cascade/intent"
	"github.com/intentwise/cascade/learning"
	"github.com/intentwise/cascade/llm"
)

// Build assembles a full cascade from environment-driven settings: learning
// store, embedding matcher, and LLM classifier, all backed by the same
// OpenAI-compatible endpoint. The semantic and LLM layers are skipped when
// no API key is configured, degrading the cascade to pattern and exact
// matching.
func Build(settings Settings, cfg Config, registry *intent.Registry, pattern PatternMatcher) (*Service, error) {
	if registry == nil {
		return nil, errors.New("intent registry is required")
	}

	deps := Deps{
		Registry: registry,
		Pattern:  pattern,
		Store: learning.NewStore(learning.StoreConfig{
			Path: settings.LearningPath,
		}),
	}

	if settings.OpenAIAPIKey != "" {
		provider, err := embedding.NewProvider(embedding.ProviderConfig{
			APIKey:     settings.OpenAIAPIKey,
			BaseURL:    settings.OpenAIBaseURL,
			Model:      settings.EmbeddingModel,
			Dimensions: settings.EmbeddingDimensions,
		})
		if err != nil {
			return nil, errors.Wrap(err, "building embedding provider")
		}
		deps.Semantic = embedding.NewMatcher(embedding.MatcherConfig{
			Provider: provider,
			Cache: embedding.NewCache(embedding.CacheConfig{
				Path:  settings.EmbeddingCachePath,
				Model: settings.EmbeddingModel,
			}),
		})

		classifier, err := llm.NewClassifier(llm.Config{
			APIKey:  settings.OpenAIAPIKey,
			BaseURL: settings.OpenAIBaseURL,
			Model:   settings.LLMModel,
		}, registry)
		if err != nil {
			return nil, errors.Wrap(err, "building llm classifier")
		}
		deps.LLM = classifier
	}

	return New(cfg, deps)
}
