package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PGVector stores each collection as a table (id uuid, embedding vector(N),
// payload jsonb) in Postgres.
type PGVector struct {
	pool   *pgxpool.Pool
	prefix string
}

func NewPGVector(pool *pgxpool.Pool) *PGVector {
	return &PGVector{pool: pool, prefix: "vec_"}
}

// Close is a no-op: the pool belongs to the caller.
func (p *PGVector) Close() error { return nil }

func (p *PGVector) table(collection string) string {
	return pgx.Identifier{p.prefix + strings.ToLower(collection)}.Sanitize()
}

func (p *PGVector) rawTable(collection string) string {
	return p.prefix + strings.ToLower(collection)
}

// EnsureCollection creates the extension, table and HNSW index.
func (p *PGVector) EnsureCollection(ctx context.Context, spec CollectionSpec, deleteExisting bool) error {
	if err := spec.validate(); err != nil {
		return err
	}
	table := p.table(spec.Name)

	if _, err := p.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("vectorindex: create extension: %w", err)
	}
	if deleteExisting {
		if _, err := p.pool.Exec(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("vectorindex: drop %s: %w", spec.Name, err)
		}
	} else {
		dims, err := p.Dimensions(ctx, spec.Name)
		switch {
		case err == nil:
			if dims != spec.Dimensions {
				return domain.Wrap(domain.ErrDimensionMismatch,
					fmt.Errorf("collection %s has %d dimensions, requested %d", spec.Name, dims, spec.Dimensions))
			}
			return nil
		case !errors.Is(err, domain.ErrCollectionNotFound):
			return err
		}
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id UUID PRIMARY KEY,
		embedding vector(%d) NOT NULL,
		payload JSONB NOT NULL DEFAULT '{}'::jsonb
	)`, table, spec.Dimensions)
	if _, err := p.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("vectorindex: create %s: %w", spec.Name, err)
	}

	index := pgx.Identifier{p.rawTable(spec.Name) + "_embedding_idx"}.Sanitize()
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`, index, table,
	)); err != nil {
		return fmt.Errorf("vectorindex: index %s: %w", spec.Name, err)
	}

	procIndex := pgx.Identifier{p.rawTable(spec.Name) + "_proceeding_idx"}.Sanitize()
	if _, err := p.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s ((payload->>'proceeding_id'))`, procIndex, table,
	)); err != nil {
		return fmt.Errorf("vectorindex: index %s: %w", spec.Name, err)
	}
	return nil
}

// Dimensions reads the declared vector size from the column type modifier.
func (p *PGVector) Dimensions(ctx context.Context, collection string) (int, error) {
	var dims *int
	err := p.pool.QueryRow(ctx,
		`SELECT a.atttypmod
		 FROM pg_attribute a
		 JOIN pg_class c ON c.oid = a.attrelid
		 WHERE c.relname = $1 AND a.attname = 'embedding' AND NOT a.attisdropped`,
		p.rawTable(collection),
	).Scan(&dims)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrCollectionNotFound
		}
		return 0, fmt.Errorf("vectorindex: read dimensions: %w", err)
	}
	if dims == nil || *dims <= 0 {
		return 0, fmt.Errorf("vectorindex: collection %s has no fixed dimensions", collection)
	}
	return *dims, nil
}

// Upsert writes points in one batch after checking their size.
func (p *PGVector) Upsert(ctx context.Context, collection string, points []domain.EmbeddingPoint) error {
	if len(points) == 0 {
		return nil
	}
	dims, err := p.Dimensions(ctx, collection)
	if err != nil {
		return err
	}
	if err := checkDimensions(points, dims); err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`,
		p.table(collection),
	)

	batch := &pgx.Batch{}
	for _, pt := range points {
		payload, err := json.Marshal(pt.Payload)
		if err != nil {
			return fmt.Errorf("vectorindex: encode payload: %w", err)
		}
		batch.Queue(query, pt.ID.String(), pgvector.NewVector(pt.Vector), payload)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("vectorindex: upsert %d points: %w", len(points), err)
		}
	}
	return br.Close()
}

// QueryNearest orders by the cosine distance operator and reports 1 - distance.
func (p *PGVector) QueryNearest(ctx context.Context, collection string, vector []float32, k int, filter *Filter) ([]Hit, error) {
	args := []any{pgvector.NewVector(vector), k}
	where := ""
	if filter != nil && len(filter.AnyOf) > 0 {
		where = `WHERE payload->>$3 = ANY($4)`
		args = append(args, filter.Field, filter.AnyOf)
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(
		`SELECT id::text, 1 - (embedding <=> $1) AS score, payload FROM %s %s ORDER BY embedding <=> $1 LIMIT $2`,
		p.table(collection), where,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var key string
		var score float64
		var payload []byte
		if err := rows.Scan(&key, &score, &payload); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, err
		}
		h.ID = id
		if err := json.Unmarshal(payload, &h.Payload); err != nil {
			return nil, fmt.Errorf("vectorindex: decode payload: %w", err)
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ExistingIDs reports which of ids are already stored.
func (p *PGVector) ExistingIDs(ctx context.Context, collection string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT id::text FROM %s WHERE id = ANY($1::uuid[])`, p.table(collection)), keys)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: existing ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}
