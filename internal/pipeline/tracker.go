package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// docState tracks a document unit whose chunks are in flight.
type docState struct {
	unit        *domain.Unit
	outstanding int
	failStage   domain.Stage
	failErr     error
}

// Tracker owns unit state and the run report. A document completes once
// every chunk it emitted has been uploaded and fails if any of them failed.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	units  []*domain.Unit
	docs   map[int64]*docState
	report Report
}

func NewTracker() *Tracker {
	return &Tracker{now: time.Now, docs: make(map[int64]*docState)}
}

func (t *Tracker) move(u *domain.Unit, next domain.UnitStatus) bool {
	if !u.Status.CanTransition(next) {
		return false
	}
	now := t.now()
	if next == domain.UnitStatusInProgress {
		u.StartedAt = now
	}
	u.Status = next
	if next.Terminal() {
		u.FinishedAt = &now
	}
	return true
}

// Register adds a pending unit.
func (t *Tracker) Register(kind domain.UnitKind, key, source string) *domain.Unit {
	u := domain.NewUnit(kind, key, source)
	t.mu.Lock()
	t.units = append(t.units, u)
	t.mu.Unlock()
	return u
}

// Start moves a unit to in_progress.
func (t *Tracker) Start(u *domain.Unit, stage domain.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.move(u, domain.UnitStatusInProgress) {
		u.Stage = stage
	}
}

// Advance records the stage a running unit has reached.
func (t *Tracker) Advance(u *domain.Unit, stage domain.Stage) {
	t.mu.Lock()
	u.Stage = stage
	t.mu.Unlock()
}

// Skip finishes a unit without doing its work.
func (t *Tracker) Skip(u *domain.Unit, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.move(u, domain.UnitStatusSkipped) {
		u.Error = reason
		if u.Kind == domain.UnitKindDocument {
			t.report.Skipped++
		}
	}
}

// Fail finishes a unit with an error.
func (t *Tracker) Fail(u *domain.Unit, stage domain.Stage, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failLocked(u, stage, err)
}

func (t *Tracker) failLocked(u *domain.Unit, stage domain.Stage, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	if !t.move(u, domain.UnitStatusFailed) {
		return
	}
	u.Stage = stage
	u.Error = err.Error()
	if u.Kind == domain.UnitKindDocument {
		t.report.Failed++
	}
	t.report.Failures = append(t.report.Failures, UnitFailure{
		Kind:   u.Kind,
		Key:    u.Key,
		Source: u.Source,
		Stage:  stage,
		Error:  u.Error,
	})
}

// Complete finishes a unit successfully.
func (t *Tracker) Complete(u *domain.Unit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completeLocked(u)
}

func (t *Tracker) completeLocked(u *domain.Unit) {
	if t.move(u, domain.UnitStatusCompleted) && u.Kind == domain.UnitKindDocument {
		t.report.Processed++
	}
}

// Expect hands n chunks of documentID to the downstream stages. With n == 0
// the unit completes immediately.
func (t *Tracker) Expect(u *domain.Unit, documentID int64, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.report.Chunks += n
	if n == 0 {
		t.completeLocked(u)
		return
	}
	u.Stage = domain.StageEmbed
	t.docs[documentID] = &docState{unit: u, outstanding: n}
}

// Resolve settles n chunks of documentID. err marks the document failed at
// stage. It returns the unit and its first failure when this call finished it.
func (t *Tracker) Resolve(documentID int64, n int, stage domain.Stage, err error) (*domain.Unit, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.docs[documentID]
	if !ok {
		return nil, nil
	}
	if err != nil && st.failErr == nil {
		st.failStage, st.failErr = stage, err
	}
	st.outstanding -= n
	if st.outstanding > 0 {
		return nil, nil
	}

	delete(t.docs, documentID)
	if st.failErr != nil {
		t.failLocked(st.unit, st.failStage, st.failErr)
	} else {
		t.completeLocked(st.unit)
	}
	return st.unit, st.failErr
}

// Points adds uploaded, failed and skipped point counts.
func (t *Tracker) Points(uploaded, failed, skipped int) {
	t.mu.Lock()
	t.report.PointsUploaded += uploaded
	t.report.PointsFailed += failed
	t.report.PointsSkipped += skipped
	t.mu.Unlock()
}

// Pending reports how many documents still have chunks in flight.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.docs)
}

// Units returns a snapshot of every registered unit.
func (t *Tracker) Units() []domain.Unit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Unit, len(t.units))
	for i, u := range t.units {
		out[i] = *u
	}
	return out
}

// Report returns a copy of the report so far.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.report
	r.Failures = append([]UnitFailure(nil), t.report.Failures...)
	return r
}

// seenSet guards against handling the same document twice in one run.
type seenSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newSeenSet() *seenSet {
	return &seenSet{keys: make(map[string]struct{})}
}

// Claim marks every key seen. It returns false if any key was already seen.
func (s *seenSet) Claim(keys ...string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := s.keys[k]; ok {
			return false
		}
	}
	for _, k := range keys {
		if k != "" {
			s.keys[k] = struct{}{}
		}
	}
	return true
}
