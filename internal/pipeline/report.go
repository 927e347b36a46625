package pipeline

import (
	"time"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// UnitFailure records why a unit failed.
type UnitFailure struct {
	Kind   domain.UnitKind `json:"kind"`
	Key    string          `json:"key"`
	Source string          `json:"source,omitempty"`
	Stage  domain.Stage    `json:"stage"`
	Error  string          `json:"error"`
}

// Report summarizes a run. Processed, Skipped and Failed count document
// units; proceeding-level failures appear in Failures only.
type Report struct {
	Processed      int           `json:"processed"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Chunks         int           `json:"chunks"`
	PointsUploaded int           `json:"points_uploaded"`
	PointsFailed   int           `json:"points_failed"`
	PointsSkipped  int           `json:"points_skipped"`
	Duration       time.Duration `json:"duration"`
	Failures       []UnitFailure `json:"failures,omitempty"`
	Units          []domain.Unit `json:"-"`
}
