// Package embedding provides the semantic layer of the cascade: an
// OpenAI-compatible embedding provider, a persistent vector cache, and a
// cosine-similarity matcher guarded by a circuit breaker.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// Provider generates vector embeddings for text.
type Provider interface {
	// Embed generates a vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates vectors for multiple texts in one request.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the provider's model identifier.
	Model() string

	// Dimensions returns the vector dimension.
	Dimensions() int
}

// ProviderConfig configures an OpenAI-compatible embedding provider.
// Works with any compatible endpoint (openai, siliconflow, ollama, etc.)
// by setting BaseURL.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type openaiProvider struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewProvider creates an embedding provider backed by an OpenAI-compatible API.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &openaiProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return vectors[0], nil
}

func (p *openaiProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimensions,
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = data.Embedding
	}
	return vectors, nil
}

func (p *openaiProvider) Model() string {
	return p.model
}

func (p *openaiProvider) Dimensions() int {
	return p.dimensions
}
