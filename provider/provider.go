package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/docquery-ai/docquery/config"
	gemini_provider "github.com/docquery-ai/docquery/provider/gemini"
	openai_provider "github.com/docquery-ai/docquery/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = "openai"
	Gemini Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy.
// Answer generates a natural-language answer to a question given retrieved
// context snippets. CreateEmbedding maps texts to fixed-dimension vectors;
// it must be deterministic for a given model version.
type Provider interface {
	Answer(ctx context.Context, question string, snippets []string) (string, error)
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm.api_key not set")
	}
	switch Client(cfg.Provider) {
	case OpenAI:
		return openai_provider.NewClient(
			cfg.APIKey,
			cfg.CompletionModel,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	case Gemini:
		return gemini_provider.NewClient(
			cfg.APIKey,
			cfg.CompletionModel,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
