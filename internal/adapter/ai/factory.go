package ai

import (
	"context"
	"fmt"

	"github.com/arturoeanton/codequery/internal/port"
	"github.com/arturoeanton/codequery/pkg/config"
)

// NewEmbedder builds the configured embedding provider wrapped with the
// rate limit (remote providers only) and the LRU cache.
func NewEmbedder(ctx context.Context, cfg *config.Config) (port.Embedder, error) {
	var e port.Embedder
	switch cfg.EmbeddingProvider {
	case "hashing", "":
		return WithCache(NewHashingEmbedder(cfg.EmbeddingDimension), cfg.EmbedCacheSize, cfg.EmbedCacheTTL), nil
	case "ollama":
		e = NewOllamaProvider(ollamaEmbed(cfg), ollamaChat(cfg), cfg.EmbeddingDimension)
	case "gemini":
		p, err := NewGeminiProvider(ctx, geminiConfig(cfg))
		if err != nil {
			return nil, err
		}
		e = p
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
	return WithCache(WithEmbedRateLimit(e, cfg.ProviderRPS), cfg.EmbedCacheSize, cfg.EmbedCacheTTL), nil
}

// NewGenerator builds the configured generative provider. It returns nil
// without error when generation is disabled, which puts the composer in
// retrieval-only mode.
func NewGenerator(ctx context.Context, cfg *config.Config) (port.Generator, error) {
	var g port.Generator
	switch cfg.GenerativeProvider {
	case "", "none":
		return nil, nil
	case "ollama":
		g = OllamaGenerator{NewOllamaProvider(ollamaEmbed(cfg), ollamaChat(cfg), cfg.EmbeddingDimension)}
	case "gemini":
		p, err := NewGeminiProvider(ctx, geminiConfig(cfg))
		if err != nil {
			return nil, err
		}
		g = GeminiGenerator{p}
	default:
		return nil, fmt.Errorf("unknown generative provider %q", cfg.GenerativeProvider)
	}
	return WithGenerateRateLimit(g, cfg.ProviderRPS), nil
}

func ollamaEmbed(cfg *config.Config) OllamaEndpointConfig {
	return OllamaEndpointConfig{BaseURL: cfg.OllamaEmbedURL, Model: cfg.OllamaEmbedModel, Token: cfg.OllamaEmbedToken}
}

func ollamaChat(cfg *config.Config) OllamaEndpointConfig {
	return OllamaEndpointConfig{BaseURL: cfg.OllamaChatURL, Model: cfg.OllamaChatModel, Token: cfg.OllamaChatToken}
}

func geminiConfig(cfg *config.Config) GeminiConfig {
	return GeminiConfig{
		APIKey:     cfg.GeminiAPIKey,
		EmbedModel: cfg.GeminiEmbedModel,
		ChatModel:  cfg.GeminiChatModel,
		Dimension:  cfg.EmbeddingDimension,
	}
}
