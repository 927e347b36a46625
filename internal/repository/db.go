package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx opens a
// savepoint, which lets a single statement fail without aborting the
// enclosing transaction.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	sqlStateStringDataRightTruncation = "22001"
	sqlStateUniqueViolation           = "23505"
	sqlStateUndefinedTable            = "42P01"
)

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isStringTruncation(err error) bool {
	return hasSQLState(err, sqlStateStringDataRightTruncation)
}

func isUniqueViolation(err error) bool {
	return hasSQLState(err, sqlStateUniqueViolation)
}

func isUndefinedTable(err error) bool {
	return hasSQLState(err, sqlStateUndefinedTable)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// withSavepoint runs fn inside a nested transaction so its failure can be
// recovered from by the caller.
func withSavepoint(ctx context.Context, db dbtx, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
