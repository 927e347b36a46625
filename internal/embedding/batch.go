package embedding

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

// DefaultMaxBatch caps how many texts go to the provider in one request.
const DefaultMaxBatch = 256

// BatchEmbedder splits input into provider-sized batches. A failing batch is
// halved and retried until single texts remain; only a single text that still
// fails is reported as an error. Errors that no batch size can fix (empty
// text, wrong vector size or count) are returned at once.
type BatchEmbedder struct {
	inner    Embedder
	maxBatch int
	logger   *slog.Logger
}

func NewBatchEmbedder(inner Embedder, maxBatch int, logger *slog.Logger) *BatchEmbedder {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchEmbedder{inner: inner, maxBatch: maxBatch, logger: logger}
}

func (b *BatchEmbedder) Dimensions() int { return b.inner.Dimensions() }

func (b *BatchEmbedder) MaxBatch() int { return b.maxBatch }

// Embed returns one vector per text in input order.
func (b *BatchEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.maxBatch {
		end := min(start+b.maxBatch, len(texts))
		vectors, err := b.embedShrinking(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (b *BatchEmbedder) embedShrinking(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := b.inner.Embed(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	if len(texts) == 1 || ctx.Err() != nil || permanent(err) {
		return nil, err
	}

	half := len(texts) / 2
	b.logger.Warn("embedding.batch_shrink",
		"batch_size", len(texts),
		"next_size", half,
		"error", err,
	)

	left, err := b.embedShrinking(ctx, texts[:half])
	if err != nil {
		return nil, err
	}
	right, err := b.embedShrinking(ctx, texts[half:])
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func permanent(err error) bool {
	return errors.Is(err, ErrEmptyText) ||
		errors.Is(err, ErrWrongDimensions) ||
		errors.Is(err, ErrWrongCount)
}

// Close releases the provider if it holds a client connection.
func (b *BatchEmbedder) Close() error {
	if c, ok := b.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
