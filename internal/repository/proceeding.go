package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProceedingRepository struct {
	db dbtx
}

func NewProceedingRepository(pool *pgxpool.Pool) *ProceedingRepository {
	return &ProceedingRepository{db: pool}
}

func NewProceedingRepositoryWithTx(tx pgx.Tx) *ProceedingRepository {
	return &ProceedingRepository{db: tx}
}

// Upsert creates the proceeding on first reference with the default industry
// and status, or applies the non-nil fields to the existing row and touches
// updated_at. The unique proceeding_number makes concurrent callers converge
// on one row.
func (r *ProceedingRepository) Upsert(ctx context.Context, number string, f domain.ProceedingFields) (int64, error) {
	number = domain.NormalizeProceedingNumber(number)
	if number == "" {
		return 0, fmt.Errorf("%w: proceeding number", domain.ErrMissingRequiredField)
	}

	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO proceedings
			(proceeding_number, filed_by, industry, filing_date, category, current_status, description)
		 VALUES
			($1, $2, COALESCE($3, $8), $4, $5, COALESCE($6, $9), $7)
		 ON CONFLICT (proceeding_number) DO UPDATE SET
			filed_by = COALESCE($2, proceedings.filed_by),
			industry = COALESCE($3, proceedings.industry),
			filing_date = COALESCE($4, proceedings.filing_date),
			category = COALESCE($5, proceedings.category),
			current_status = COALESCE($6, proceedings.current_status),
			description = COALESCE($7, proceedings.description),
			updated_at = now()
		 RETURNING id`,
		domain.Truncate(number, domain.MaxProceedingNumberLen),
		truncated(f.FiledBy, domain.MaxFiledByLen),
		truncated(f.Industry, domain.MaxIndustryLen),
		truncated(f.FilingDate, domain.MaxFilingDateLen),
		truncated(f.Category, domain.MaxCategoryLen),
		truncated(f.Status, domain.MaxStatusLen),
		f.Description,
		domain.DefaultIndustry,
		domain.DefaultStatus,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert proceeding %s: %w", number, err)
	}
	return id, nil
}

func (r *ProceedingRepository) GetByNumber(ctx context.Context, number string) (*domain.Proceeding, error) {
	var p domain.Proceeding
	var filedBy, filingDate, category, description *string
	err := r.db.QueryRow(ctx,
		`SELECT id, proceeding_number, filed_by, industry, filing_date, category, current_status, description, created_at, updated_at
		 FROM proceedings WHERE proceeding_number = $1`,
		domain.NormalizeProceedingNumber(number),
	).Scan(&p.ID, &p.Number, &filedBy, &p.Industry, &filingDate, &category, &p.Status, &description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProceedingNotFound
		}
		return nil, err
	}
	p.FiledBy = deref(filedBy)
	p.FilingDate = deref(filingDate)
	p.Category = deref(category)
	p.Description = deref(description)
	return &p, nil
}

func truncated(s *string, max int) *string {
	if s == nil {
		return nil
	}
	t := domain.Truncate(*s, max)
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
