package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/source"
)

// ProceedingStore upserts proceeding metadata.
type ProceedingStore interface {
	UpsertProceeding(ctx context.Context, number string, fields domain.ProceedingFields) (int64, error)
}

// MetadataReport summarizes a LoadMetadata call.
type MetadataReport struct {
	Updated  int           `json:"updated"`
	Missing  int           `json:"missing"`
	Failures []UnitFailure `json:"failures,omitempty"`
}

// LoadMetadata refreshes proceeding attributes from every proceeding.json
// the source carries. Documents are not touched.
func LoadMetadata(ctx context.Context, store ProceedingStore, src source.Source, logger *slog.Logger) (*MetadataReport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	proceedings, err := src.Proceedings(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s: %w", src.Name(), err)
	}

	report := &MetadataReport{}
	fail := func(number string, stage domain.Stage, err error) {
		logger.Error("metadata.proceeding_failed", "proceeding", number, "stage", stage, "error", err)
		report.Failures = append(report.Failures, UnitFailure{
			Kind:   domain.UnitKindProceeding,
			Key:    number,
			Source: src.Name(),
			Stage:  stage,
			Error:  err.Error(),
		})
	}

	for _, number := range proceedings {
		rec, err := src.ProceedingRecord(ctx, number)
		if err != nil {
			fail(number, domain.StageEnumerate, err)
			continue
		}
		if rec == nil {
			report.Missing++
			continue
		}
		if _, err := store.UpsertProceeding(ctx, proceedingNumber(rec, number), rec.Fields()); err != nil {
			fail(number, domain.StageStore, err)
			continue
		}
		report.Updated++
	}

	logger.Info("metadata.done",
		"source", src.Name(),
		"updated", report.Updated,
		"missing", report.Missing,
		"failed", len(report.Failures),
	)
	return report, nil
}
