package embedding

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/config"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiModel      = config.GeminiDefaultModel
	DefaultGeminiDimensions = config.GeminiDefaultDimensions
)

type GeminiConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// GeminiClient embeds through the Gemini batch embedding endpoint. The API
// has no output size option, so Dimensions must match the model's native size.
type GeminiClient struct {
	client     *genai.Client
	batch      func(ctx context.Context, texts []string) ([][]float32, error)
	dimensions int
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultGeminiDimensions
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{
		client:     cl,
		batch:      batchEmbedContents(cl.EmbeddingModel(cfg.Model)),
		dimensions: cfg.Dimensions,
	}, nil
}

// batchEmbedContents sends texts as one BatchEmbedContents request.
func batchEmbedContents(model *genai.EmbeddingModel) func(context.Context, []string) ([][]float32, error) {
	return func(ctx context.Context, texts []string) ([][]float32, error) {
		batch := model.NewBatch()
		for _, t := range texts {
			batch.AddContent(genai.Text(t))
		}
		resp, err := model.BatchEmbedContents(ctx, batch)
		if err != nil {
			return nil, err
		}
		out := make([][]float32, 0, len(resp.Embeddings))
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
		return out, nil
	}
}

func (g *GeminiClient) Dimensions() int { return g.dimensions }

func (g *GeminiClient) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Embed sends all texts in one BatchEmbedContents request.
func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := checkInputs(texts); err != nil {
		return nil, err
	}

	out, err := g.batch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}
	if err := checkVectors(out, len(texts), g.dimensions); err != nil {
		return nil, err
	}
	return out, nil
}
