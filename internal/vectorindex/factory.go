package vectorindex

import (
	"fmt"
	"log/slog"

	"github.com/cloo-solutions/filingsearch/internal/config"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New opens the configured backend wrapped with upsert retries. The pool is
// only used by the pgvector backend.
func New(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*Retrying, error) {
	var idx Index
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		q, err := NewQdrant(cfg.QdrantAddr)
		if err != nil {
			return nil, err
		}
		idx = q
	case config.BackendPgvector:
		if pool == nil {
			return nil, fmt.Errorf("%w: pgvector backend needs a database pool", domain.ErrInvalidConfig)
		}
		idx = NewPGVector(pool)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBackend, cfg.VectorBackend)
	}
	return NewRetrying(idx, DefaultUpsertAttempts, logger), nil
}
