package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRepositories exposes repositories bound to one transaction.
type TxRepositories interface {
	Proceedings() *ProceedingRepository
	Documents() *DocumentRepository
	Chunks() *ChunkRepository
}

// TxRunner provides transactional repositories using a pgx pool.
type TxRunner struct {
	pool   *pgxpool.Pool
	schema *schemaGuard
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool, schema: &schemaGuard{pool: pool}}
}

// WithTx runs fn in one transaction. The lazy doc_chunks DDL runs first, on
// its own connection, so fn never waits for a second connection while holding
// the transaction's.
func (r *TxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	if err := r.schema.ensure(ctx); err != nil {
		return err
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}

	repos := &txRepos{tx: tx, schema: r.schema}
	if err := fn(repos); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	return tx.Commit(ctx)
}

type txRepos struct {
	tx     pgx.Tx
	schema *schemaGuard
}

func (r *txRepos) Proceedings() *ProceedingRepository {
	return NewProceedingRepositoryWithTx(r.tx)
}

func (r *txRepos) Documents() *DocumentRepository {
	return NewDocumentRepositoryWithTx(r.tx)
}

func (r *txRepos) Chunks() *ChunkRepository {
	return newChunkRepositoryWithTx(r.tx, r.schema)
}
