package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloo-solutions/filingsearch/internal/config"
	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// New builds the configured provider wrapped in a BatchEmbedder.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*BatchEmbedder, error) {
	var (
		inner Embedder
		err   error
	)
	switch cfg.EmbeddingProvider {
	case config.ProviderTEI:
		inner = NewTEIClient(TEIConfig{
			URL:        cfg.EmbeddingURL,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	case config.ProviderOpenAI:
		inner, err = NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	case config.ProviderGemini:
		inner, err = NewGeminiClient(ctx, GeminiConfig{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, cfg.EmbeddingProvider)
	}
	if errors.Is(err, ErrNoAPIKey) {
		return nil, domain.Wrap(domain.ErrMissingAPIKey, err)
	}
	if err != nil {
		return nil, err
	}
	return NewBatchEmbedder(inner, cfg.EmbeddingMaxBatch, logger), nil
}
