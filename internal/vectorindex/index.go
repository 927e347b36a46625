package vectorindex

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/google/uuid"
)

// CollectionSpec describes a named collection of fixed-size vectors. All
// collections use cosine distance.
type CollectionSpec struct {
	Name       string
	Dimensions int
}

// Filter restricts a query to points whose payload Field equals one of AnyOf.
type Filter struct {
	Field string
	AnyOf []string
}

// ProceedingFilter restricts a query to the given proceeding numbers. It
// returns nil when numbers is empty.
func ProceedingFilter(numbers []string) *Filter {
	if len(numbers) == 0 {
		return nil
	}
	return &Filter{Field: "proceeding_id", AnyOf: numbers}
}

// Hit is one nearest-neighbour result. Score is a similarity: higher is closer.
type Hit struct {
	ID      uuid.UUID
	Score   float32
	Payload domain.PointPayload
}

// Index stores and queries embedding points.
type Index interface {
	EnsureCollection(ctx context.Context, spec CollectionSpec, deleteExisting bool) error
	Upsert(ctx context.Context, collection string, points []domain.EmbeddingPoint) error
	QueryNearest(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error)
	ExistingIDs(ctx context.Context, collection string, ids []uuid.UUID) (map[uuid.UUID]bool, error)
	Dimensions(ctx context.Context, collection string) (int, error)
	Close() error
}

func (s CollectionSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: collection name", domain.ErrInvalidConfig)
	}
	if s.Dimensions <= 0 {
		return fmt.Errorf("%w: collection dimensions %d", domain.ErrInvalidConfig, s.Dimensions)
	}
	return nil
}

// checkDimensions rejects any point whose vector length differs from dims.
func checkDimensions(points []domain.EmbeddingPoint, dims int) error {
	for _, p := range points {
		if len(p.Vector) != dims {
			return domain.Wrap(domain.ErrDimensionMismatch,
				fmt.Errorf("point %s has %d dimensions, collection has %d", p.ID, len(p.Vector), dims))
		}
	}
	return nil
}

// CheckCompatible fails when the collection exists with a different size than
// the embedder produces.
func CheckCompatible(ctx context.Context, idx Index, collection string, embedderDims int) error {
	dims, err := idx.Dimensions(ctx, collection)
	if err != nil {
		return err
	}
	if dims != embedderDims {
		return domain.Wrap(domain.ErrDimensionMismatch,
			fmt.Errorf("collection %s has %d dimensions, embedder produces %d", collection, dims, embedderDims))
	}
	return nil
}
