package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const docChunksDDL = `
CREATE TABLE IF NOT EXISTS doc_chunks (
    id UUID PRIMARY KEY,
    document_id BIGINT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    chunk_index INT NOT NULL,
    chunk_text TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS doc_chunks_fts_idx
    ON doc_chunks USING GIN (to_tsvector('english', chunk_text));`

// schemaGuard remembers that doc_chunks exists so the DDL runs once per
// process rather than once per insert. The DDL always runs on the pool, never
// inside a caller's transaction, so a rollback cannot undo it.
type schemaGuard struct {
	pool  *pgxpool.Pool
	mu    sync.Mutex
	ready bool
}

func (g *schemaGuard) ensure(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return nil
	}
	if _, err := g.pool.Exec(ctx, docChunksDDL); err != nil {
		return fmt.Errorf("create doc_chunks: %w", err)
	}
	g.ready = true
	return nil
}

// ChunkRepository persists document chunks.
type ChunkRepository struct {
	db     dbtx
	schema *schemaGuard
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool, schema: &schemaGuard{pool: pool}}
}

func newChunkRepositoryWithTx(tx pgx.Tx, schema *schemaGuard) *ChunkRepository {
	return &ChunkRepository{db: tx, schema: schema}
}

// EnsureSchema creates doc_chunks if it does not exist yet.
func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx)
}

// InsertChunks bulk-inserts chunks for one document. Chunks already stored
// under the same (document_id, chunk_index) are left untouched, so replays
// insert nothing. Returns the number of new rows.
func (r *ChunkRepository) InsertChunks(ctx context.Context, documentID int64, chunks []domain.ChunkRecord) (int, error) {
	if err := r.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return 0, fmt.Errorf("chunk %d belongs to document %d, not %d", c.Index, c.DocumentID, documentID)
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return 0, fmt.Errorf("marshal chunk metadata: %w", err)
		}
		batch.Queue(
			`INSERT INTO doc_chunks (id, document_id, chunk_index, chunk_text, metadata)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (document_id, chunk_index) DO NOTHING`,
			c.PointID(), documentID, c.Index, c.Text, meta,
		)
	}

	br := r.db.SendBatch(ctx, batch)
	inserted := 0
	for range chunks {
		tag, err := br.Exec()
		if err != nil {
			_ = br.Close()
			return inserted, fmt.Errorf("insert chunks for document %d: %w", documentID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// CountByDocument returns how many chunks are stored for a document.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID int64) (int, error) {
	return countChunks(ctx, r.db, documentID)
}

// ListByDocument returns a document's chunks in index order.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID int64) ([]domain.ChunkRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT chunk_index, chunk_text, metadata FROM doc_chunks
		 WHERE document_id = $1 ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChunkRecord
	for rows.Next() {
		c := domain.ChunkRecord{DocumentID: documentID}
		var meta []byte
		if err := rows.Scan(&c.Index, &c.Text, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// countChunks treats a missing doc_chunks table as zero chunks.
func countChunks(ctx context.Context, db dbtx, documentID int64) (int, error) {
	var n int
	err := withSavepoint(ctx, db, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `SELECT count(*) FROM doc_chunks WHERE document_id = $1`, documentID).Scan(&n)
	})
	if isUndefinedTable(err) {
		return 0, nil
	}
	return n, err
}
