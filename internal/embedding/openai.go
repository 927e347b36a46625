package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultOpenAIModel is the OpenAI model used for generating embeddings
	DefaultOpenAIModel = openai.SmallEmbedding3
	// DefaultOpenAIDimensions is the native output size of text-embedding-3-small
	DefaultOpenAIDimensions = 1536
)

// ErrNoAPIKey is returned when a hosted provider is configured without a key
var ErrNoAPIKey = errors.New("embedding provider api key not set")

// EmbeddingAPI defines the interface for batch embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, texts []string, dimensions int) ([][]float32, error)
}

type OpenAIAdapter struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel) *OpenAIAdapter {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIAdapter{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// CreateEmbeddings calls the OpenAI API. Results are reordered by index since
// the API does not promise input order.
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, texts []string, dimensions int) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: a.model,
	}
	// ada-002 rejects the dimensions parameter
	if a.model != openai.AdaEmbeddingV2 {
		req.Dimensions = dimensions
	}

	resp, err := a.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	return out, nil
}

type OpenAIConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

// OpenAIClient wraps the OpenAI API client
type OpenAIClient struct {
	api        EmbeddingAPI
	dimensions int
}

// NewOpenAIClient creates a new OpenAI embedder with explicit configuration.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultOpenAIDimensions
	}
	return &OpenAIClient{
		api:        NewOpenAIAdapter(cfg.APIKey, openai.EmbeddingModel(cfg.Model)),
		dimensions: dimensions,
	}, nil
}

func (c *OpenAIClient) Dimensions() int { return c.dimensions }

// Embed generates embeddings for the given texts
func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := checkInputs(texts); err != nil {
		return nil, err
	}

	vectors, err := c.api.CreateEmbeddings(ctx, texts, c.dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if err := checkVectors(vectors, len(texts), c.dimensions); err != nil {
		return nil, err
	}
	return vectors, nil
}
