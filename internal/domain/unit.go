package domain

import "time"

// UnitStatus is the lifecycle state of an ingestion unit.
type UnitStatus string

const (
	UnitStatusPending    UnitStatus = "pending"
	UnitStatusInProgress UnitStatus = "in_progress"
	UnitStatusCompleted  UnitStatus = "completed"
	UnitStatusFailed     UnitStatus = "failed"
	UnitStatusSkipped    UnitStatus = "skipped"
)

// UnitKind distinguishes proceeding-level from document-level units.
type UnitKind string

const (
	UnitKindProceeding UnitKind = "proceeding"
	UnitKindDocument   UnitKind = "document"
)

// Stage names the pipeline step a unit was in when it failed.
type Stage string

const (
	StageEnumerate Stage = "enumerate"
	StageFetch     Stage = "fetch"
	StageExtract   Stage = "extract"
	StageStore     Stage = "store"
	StageChunk     Stage = "chunk"
	StageEmbed     Stage = "embed"
	StageUpload    Stage = "upload"
)

// Unit is one tracked piece of ingestion work.
type Unit struct {
	Kind       UnitKind
	Key        string
	Source     string
	Status     UnitStatus
	Stage      Stage
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// NewUnit creates a pending unit.
func NewUnit(kind UnitKind, key, source string) *Unit {
	return &Unit{
		Kind:   kind,
		Key:    key,
		Source: source,
		Status: UnitStatusPending,
	}
}

// Terminal reports whether the status is a final state.
func (s UnitStatus) Terminal() bool {
	return s == UnitStatusCompleted || s == UnitStatusFailed || s == UnitStatusSkipped
}

// CanTransition reports whether moving from s to next is allowed.
// pending -> in_progress | skipped; in_progress -> completed | failed | skipped.
func (s UnitStatus) CanTransition(next UnitStatus) bool {
	switch s {
	case UnitStatusPending:
		return next == UnitStatusInProgress || next == UnitStatusSkipped || next == UnitStatusFailed
	case UnitStatusInProgress:
		return next == UnitStatusCompleted || next == UnitStatusFailed || next == UnitStatusSkipped
	}
	return false
}
