package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// limitEmbedder fails any request larger than limit, and any request that
// contains a poisoned text.
type limitEmbedder struct {
	mu     sync.Mutex
	limit  int
	poison string
	calls  []int
}

func (f *limitEmbedder) Dimensions() int { return 2 }

func (f *limitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, len(texts))
	f.mu.Unlock()

	if f.limit > 0 && len(texts) > f.limit {
		return nil, errors.New("out of memory")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == f.poison {
			return nil, errors.New("poisoned input")
		}
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestBatchEmbedder_SplitsAtMaxBatch(t *testing.T) {
	inner := &limitEmbedder{}
	b := NewBatchEmbedder(inner, 4, nil)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "g", "hh", "iii", "j"}
	out, err := b.Embed(context.Background(), texts)

	require.NoError(t, err)
	require.Len(t, out, len(texts))
	for i, v := range out {
		assert.Equal(t, float32(len(texts[i])), v[0], "order preserved at %d", i)
	}
	assert.Equal(t, []int{4, 4, 2}, inner.calls)
}

func TestBatchEmbedder_ShrinksOnFailure(t *testing.T) {
	inner := &limitEmbedder{limit: 2}
	b := NewBatchEmbedder(inner, 8, nil)

	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	out, err := b.Embed(context.Background(), texts)

	require.NoError(t, err)
	assert.Len(t, out, 8)
	assert.Equal(t, []int{8, 4, 2, 2, 4, 2, 2}, inner.calls)
}

func TestBatchEmbedder_SingleTextFailureSurfaces(t *testing.T) {
	inner := &limitEmbedder{poison: "bad"}
	b := NewBatchEmbedder(inner, 4, nil)

	out, err := b.Embed(context.Background(), []string{"ok", "bad", "ok", "ok"})

	assert.Nil(t, out)
	assert.EqualError(t, err, "poisoned input")
	assert.Equal(t, []int{4, 2, 1, 1}, inner.calls)
}

func TestBatchEmbedder_EmptyTextNotRetried(t *testing.T) {
	b := NewBatchEmbedder(NewTEIClient(TEIConfig{URL: "http://127.0.0.1:0"}), 4, nil)

	_, err := b.Embed(context.Background(), []string{"a", ""})

	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestBatchEmbedder_WrongDimensionsNotRetried(t *testing.T) {
	calls := 0
	inner := geminiWith(2, func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		return vectors(len(texts), 3), nil
	})
	b := NewBatchEmbedder(inner, 8, nil)

	_, err := b.Embed(context.Background(), []string{"a", "b", "c", "d", "e", "f", "g", "h"})

	assert.ErrorIs(t, err, ErrWrongDimensions)
	assert.Equal(t, 1, calls)
}

func TestBatchEmbedder_WrongCountNotRetried(t *testing.T) {
	calls := 0
	inner := geminiWith(2, func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		return vectors(len(texts)-1, 2), nil
	})
	b := NewBatchEmbedder(inner, 8, nil)

	_, err := b.Embed(context.Background(), []string{"a", "b", "c", "d"})

	assert.ErrorIs(t, err, ErrWrongCount)
	assert.Equal(t, 1, calls)
}

func TestBatchEmbedder_Empty(t *testing.T) {
	b := NewBatchEmbedder(&limitEmbedder{}, 4, nil)

	out, err := b.Embed(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, out)
}
