// Package llm adapts an OpenAI-compatible chat model as the cascade's
// last-resort classifier. The adapter never trusts the model's output
// verbatim: intents are validated against the catalog and confidence is
// clamped before anything reaches the controller.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/intentwise/cascade/intent"
)

// unknownIntentConfidence caps the confidence reported when the model names
// an intent outside the catalog.
const unknownIntentConfidence = 0.4

// Result is a validated classification from the model.
type Result struct {
	Intent      string
	Entities    map[string]any
	Confidence  float64
	Explanation string
}

// Config configures the classifier.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int           // default: 512
	Temperature float32       // default: 0.1
	Timeout     time.Duration // per-request timeout (default: 10s)
}

// Classifier calls an OpenAI-compatible chat endpoint for structured
// classification.
type Classifier struct {
	client      *openai.Client
	registry    *intent.Registry
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewClassifier creates an LLM classifier bound to an intent catalog.
func NewClassifier(cfg Config, registry *intent.Registry) (*Classifier, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("intent registry is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Classifier{
		client:      openai.NewClientWithConfig(clientConfig),
		registry:    registry,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
	}, nil
}

// Classify asks the model for a structured classification of rawQuery.
func (c *Classifier) Classify(ctx context.Context, rawQuery string, convCtx map[string]any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(rawQuery, convCtx)},
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm classification failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from llm")
	}

	result, err := parseResponse(resp.Choices[0].Message.Content, c.registry)
	if err != nil {
		return nil, err
	}

	slog.Debug("llm: classification",
		"intent", result.Intent,
		"confidence", result.Confidence,
		"duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// systemPrompt lists the catalog so the model can only pick real intents.
func (c *Classifier) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify user queries about sales data into exactly one intent.\n")
	b.WriteString("Available intents:\n")
	for _, d := range c.registry.Definitions() {
		b.WriteString("- ")
		b.WriteString(d.Name)
		if d.Description != "" {
			b.WriteString(": ")
			b.WriteString(d.Description)
		}
		if len(d.EntitySlots) > 0 {
			b.WriteString(" (entities: ")
			b.WriteString(strings.Join(d.EntitySlots, ", "))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nRespond with ONLY valid JSON, no markdown:\n")
	b.WriteString(`{"intent":"name","entities":{},"confidence":0.0,"reasoning":"brief"}`)
	return b.String()
}

func userPrompt(rawQuery string, convCtx map[string]any) string {
	if len(convCtx) == 0 {
		return rawQuery
	}
	ctxJSON, err := json.Marshal(convCtx)
	if err != nil {
		return rawQuery
	}
	return fmt.Sprintf("Query: %s\nConversation context: %s", rawQuery, ctxJSON)
}

// wireResponse is the JSON shape the model is asked to produce.
type wireResponse struct {
	Intent     string         `json:"intent"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
}

// parseResponse decodes and validates the model output. An intent outside
// the catalog is coerced to the unknown intent with reduced confidence
// rather than trusted or rejected.
func parseResponse(content string, registry *intent.Registry) (*Result, error) {
	var wire wireResponse
	if err := json.Unmarshal([]byte(stripFences(content)), &wire); err != nil {
		return nil, fmt.Errorf("malformed llm response: %w", err)
	}

	result := &Result{
		Intent:      wire.Intent,
		Entities:    wire.Entities,
		Confidence:  clampConfidence(wire.Confidence),
		Explanation: wire.Reasoning,
	}

	if !registry.Valid(wire.Intent) {
		slog.Debug("llm: unrecognized intent coerced", "intent", wire.Intent)
		result.Intent = intent.Unknown
		if result.Confidence > unknownIntentConfidence {
			result.Confidence = unknownIntentConfidence
		}
		result.Entities = nil
	}
	return result, nil
}

// stripFences removes a surrounding markdown code fence if present. Some
// models wrap JSON despite being asked not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
