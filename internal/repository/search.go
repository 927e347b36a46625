package repository

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const documentSnippetChars = 1000

// SearchRepository runs Postgres full-text ranking over chunks and documents.
type SearchRepository struct {
	db dbtx
}

func NewSearchRepository(pool *pgxpool.Pool) *SearchRepository {
	return &SearchRepository{db: pool}
}

// SearchChunks ranks chunk text with ts_rank_cd against plainto_tsquery.
func (r *SearchRepository) SearchChunks(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.document_id, c.chunk_index, c.chunk_text, d.source_url, coalesce(d.title, ''), p.proceeding_number,
			ts_rank_cd(to_tsvector('english', c.chunk_text), q) AS rank
		 FROM doc_chunks c
		 JOIN documents d ON d.id = c.document_id
		 JOIN proceedings p ON p.id = d.proceeding_id,
			plainto_tsquery('english', $1) q
		 WHERE to_tsvector('english', c.chunk_text) @@ q
		 ORDER BY rank DESC, c.document_id, c.chunk_index
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	return scanKeywordRows(rows)
}

// SearchDocuments ranks full document text. Hits carry a leading snippet and
// domain.DocumentLevelChunk as their chunk index.
func (r *SearchRepository) SearchDocuments(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error) {
	rows, err := r.db.Query(ctx,
		`SELECT d.id, $3::int, left(d.doc_text, $4), d.source_url, coalesce(d.title, ''), p.proceeding_number,
			ts_rank_cd(to_tsvector('english', coalesce(d.doc_text, '')), q) AS rank
		 FROM documents d
		 JOIN proceedings p ON p.id = d.proceeding_id,
			plainto_tsquery('english', $1) q
		 WHERE to_tsvector('english', coalesce(d.doc_text, '')) @@ q
		 ORDER BY rank DESC, d.id
		 LIMIT $2`,
		query, limit, domain.DocumentLevelChunk, documentSnippetChars,
	)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	return scanKeywordRows(rows)
}

func scanKeywordRows(rows pgx.Rows) ([]domain.RetrievalResult, error) {
	defer rows.Close()

	var out []domain.RetrievalResult
	for rows.Next() {
		var res domain.RetrievalResult
		var rank float32
		if err := rows.Scan(&res.DocumentID, &res.ChunkIndex, &res.ChunkText, &res.SourceURL, &res.Title, &res.ProceedingNumber, &rank); err != nil {
			return nil, err
		}
		r := float64(rank)
		res.KeywordRank = &r
		res.Score = r
		res.SearchType = domain.SearchTypeKeyword
		out = append(out, res)
	}
	return out, rows.Err()
}
