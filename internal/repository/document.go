package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DocumentRepository struct {
	db     dbtx
	logger *slog.Logger
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool, logger: slog.Default()}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx, logger: slog.Default()}
}

// Upsert returns the id of the document stored under doc.SourceURL, inserting
// it when absent. Stored documents are never rewritten. A value too long for
// its column triggers one retry with every bounded field truncated; losing
// an insert race to a concurrent writer returns the winner's id.
func (r *DocumentRepository) Upsert(ctx context.Context, proceedingID int64, doc domain.NewDocument) (id int64, created bool, err error) {
	doc.SourceURL = domain.NormalizeSourceURL(doc.SourceURL)
	if doc.SourceURL == "" {
		return 0, false, fmt.Errorf("%w: source url", domain.ErrMissingRequiredField)
	}

	id, err = r.idBySourceURL(ctx, doc.SourceURL)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("lookup document %s: %w", doc.SourceURL, err)
	}

	id, created, err = r.insert(ctx, proceedingID, doc)
	if isStringTruncation(err) {
		r.logger.Warn("document field exceeds column width, retrying truncated",
			"source_url", doc.SourceURL, "error", err)
		id, created, err = r.insert(ctx, proceedingID, doc.Truncated())
	}
	if isUniqueViolation(err) {
		created, err = false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert document %s: %w", doc.SourceURL, err)
	}
	if created {
		return id, true, nil
	}

	id, err = r.idBySourceURL(ctx, doc.SourceURL)
	if err != nil {
		return 0, false, fmt.Errorf("reselect document %s: %w", doc.SourceURL, err)
	}
	return id, false, nil
}

func (r *DocumentRepository) insert(ctx context.Context, proceedingID int64, doc domain.NewDocument) (int64, bool, error) {
	var id int64
	inserted := false
	err := withSavepoint(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO documents
				(proceeding_id, source_url, title, doc_type, filed_by, filing_date, year, description, doc_text)
			 VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (source_url) DO NOTHING
			 RETURNING id`,
			proceedingID,
			doc.SourceURL,
			nullableString(doc.Title),
			nullableString(doc.DocType),
			nullableString(doc.FiledBy),
			nullableString(doc.FilingDate),
			doc.Year(),
			nullableString(doc.Description),
			doc.Text,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return id, inserted, err
}

func (r *DocumentRepository) idBySourceURL(ctx context.Context, sourceURL string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM documents WHERE source_url = $1`, sourceURL).Scan(&id)
	return id, err
}

// Lookup reports the stored id and chunk count for a source URL.
func (r *DocumentRepository) Lookup(ctx context.Context, sourceURL string) (id int64, chunks int, found bool, err error) {
	id, err = r.idBySourceURL(ctx, domain.NormalizeSourceURL(sourceURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	chunks, err = countChunks(ctx, r.db, id)
	if err != nil {
		return 0, 0, false, err
	}
	return id, chunks, true, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*domain.Document, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *DocumentRepository) GetBySourceURL(ctx context.Context, sourceURL string) (*domain.Document, error) {
	return r.get(ctx, `WHERE source_url = $1`, domain.NormalizeSourceURL(sourceURL))
}

func (r *DocumentRepository) get(ctx context.Context, where string, arg any) (*domain.Document, error) {
	var d domain.Document
	var title, docType, filedBy, filingDate, description *string
	err := r.db.QueryRow(ctx,
		`SELECT id, proceeding_id, source_url, title, doc_type, filed_by, filing_date, year, description, doc_text, created_at
		 FROM documents `+where,
		arg,
	).Scan(&d.ID, &d.ProceedingID, &d.SourceURL, &title, &docType, &filedBy, &filingDate, &d.Year, &description, &d.Text, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	d.Title = deref(title)
	d.DocType = deref(docType)
	d.FiledBy = deref(filedBy)
	d.FilingDate = deref(filingDate)
	d.Description = deref(description)
	return &d, nil
}
