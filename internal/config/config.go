package config

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"

	ProviderTEI    = "tei"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	// GeminiDefaultModel has a fixed output size; the Gemini API cannot
	// shorten it.
	GeminiDefaultModel      = "gemini-embedding-001"
	GeminiDefaultDimensions = 3072
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"qdrant"`
	QdrantAddr     string `envconfig:"QDRANT_ADDR" default:"localhost:6334"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"regulatory_filings"`

	EmbeddingProvider   string `envconfig:"EMBEDDING_PROVIDER" default:"tei"`
	EmbeddingURL        string `envconfig:"EMBEDDING_URL" default:"http://localhost:8081"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"384"`
	EmbeddingMaxBatch   int    `envconfig:"EMBEDDING_MAX_BATCH" default:"256"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`

	RerankerURL        string `envconfig:"RERANKER_URL"`
	RerankerCandidates int    `envconfig:"RERANKER_CANDIDATES" default:"30"`

	ChunkMaxWords     int `envconfig:"CHUNK_MAX_WORDS" default:"500"`
	ChunkOverlapWords int `envconfig:"CHUNK_OVERLAP_WORDS" default:"50"`

	PipelineProducers int `envconfig:"PIPELINE_PRODUCERS" default:"4"`
	PipelineEmbedders int `envconfig:"PIPELINE_EMBEDDERS" default:"1"`
	PipelineUploaders int `envconfig:"PIPELINE_UPLOADERS" default:"2"`
	PipelineQueueSize int `envconfig:"PIPELINE_QUEUE_SIZE" default:"100"`
	ChunkBatchSize    int `envconfig:"CHUNK_BATCH_SIZE" default:"256"`
	PointBatchSize    int `envconfig:"POINT_BATCH_SIZE" default:"1000"`

	FetchRatePerSecond float64 `envconfig:"FETCH_RATE_PER_SECOND" default:"1"`
	FetchTimeoutSec    int     `envconfig:"FETCH_TIMEOUT_SECONDS" default:"30"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"regulatory-filings"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Prefix    string `envconfig:"S3_PREFIX"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("FILINGS", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))
	cfg.EmbeddingProvider = strings.ToLower(strings.TrimSpace(cfg.EmbeddingProvider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration errors that must stop the process before
// any work is scheduled.
func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendQdrant:
		if c.QdrantAddr == "" {
			return fmt.Errorf("%w: QDRANT_ADDR is required for the qdrant backend", domain.ErrMissingRequiredField)
		}
	case BackendPgvector:
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownBackend, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderTEI:
		if c.EmbeddingURL == "" {
			return fmt.Errorf("%w: EMBEDDING_URL is required for the tei provider", domain.ErrMissingRequiredField)
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY", domain.ErrMissingAPIKey)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY", domain.ErrMissingAPIKey)
		}
		if (c.EmbeddingModel == "" || c.EmbeddingModel == GeminiDefaultModel) && c.EmbeddingDimensions != GeminiDefaultDimensions {
			return fmt.Errorf("%w: %s returns %d dimensions, EMBEDDING_DIMENSIONS is %d",
				domain.ErrDimensionMismatch, GeminiDefaultModel, GeminiDefaultDimensions, c.EmbeddingDimensions)
		}
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownProvider, c.EmbeddingProvider)
	}

	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSIONS must be positive", domain.ErrInvalidConfig)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", domain.ErrMissingRequiredField)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasReranker() bool {
	return c.RerankerURL != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
