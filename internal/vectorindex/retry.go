package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/google/uuid"
)

// DefaultUpsertAttempts bounds how many times one batch is written.
const DefaultUpsertAttempts = 3

// Retrying retries transient Upsert failures with exponential backoff.
// Dimension mismatches and missing collections are permanent.
type Retrying struct {
	Index
	attempts uint64
	initial  time.Duration
	logger   *slog.Logger
}

func NewRetrying(idx Index, attempts int, logger *slog.Logger) *Retrying {
	if attempts <= 0 {
		attempts = DefaultUpsertAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{Index: idx, attempts: uint64(attempts), initial: 500 * time.Millisecond, logger: logger}
}

func (r *Retrying) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = 10 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, r.attempts-1), ctx)
}

func permanent(err error) bool {
	return errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, domain.ErrCollectionNotFound)
}

// Upsert writes points, retrying up to the configured number of attempts.
func (r *Retrying) Upsert(ctx context.Context, collection string, points []domain.EmbeddingPoint) error {
	attempt := 0
	op := func() error {
		attempt++
		err := r.Index.Upsert(ctx, collection, points)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		r.logger.Warn("vectorindex.upsert_retry",
			"collection", collection,
			"points", len(points),
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	err := backoff.Retry(op, r.policy(ctx))
	if err == nil {
		return nil
	}
	if permanent(err) || ctx.Err() != nil {
		return err
	}
	return domain.Wrap(domain.ErrRetriesExhausted, fmt.Errorf("upsert %d points after %d attempts: %w", len(points), attempt, err))
}

// ExistingIDs retries the probe the same way as Upsert.
func (r *Retrying) ExistingIDs(ctx context.Context, collection string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	var out map[uuid.UUID]bool
	err := backoff.Retry(func() error {
		var err error
		out, err = r.Index.ExistingIDs(ctx, collection, ids)
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy(ctx))
	return out, err
}
