package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyText is returned when an input text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when a vector has the wrong length
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrWrongCount is returned when a provider answers with a different number of vectors than texts
	ErrWrongCount = errors.New("embedding count does not match input count")
)

// Embedder turns texts into fixed-length vectors. Output order matches input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

func checkInputs(texts []string) error {
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: input %d", ErrEmptyText, i)
		}
	}
	return nil
}

func checkVectors(vectors [][]float32, want, dims int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: got %d, expected %d", ErrWrongCount, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("%w: vector %d has %d, expected %d", ErrWrongDimensions, i, len(v), dims)
		}
	}
	return nil
}
