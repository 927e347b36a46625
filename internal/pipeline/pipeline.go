// Package pipeline moves filings from a source through extraction, the
// relational store, embedding and the vector index.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/chunker"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/embedding"
	"github.com/cloo-solutions/filingsearch/internal/repository"
	"github.com/cloo-solutions/filingsearch/internal/source"
	"github.com/cloo-solutions/filingsearch/internal/telemetry"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultProducers      = 4
	DefaultEmbedders      = 1
	DefaultUploaders      = 2
	DefaultQueueSize      = 100
	DefaultChunkBatchSize = 256
	DefaultPointBatchSize = 1000
)

// DocumentStore is the slice of the relational store the pipeline writes to.
type DocumentStore interface {
	Lookup(ctx context.Context, sourceURL string) (documentID int64, chunks int, found bool, err error)
	SaveDocument(ctx context.Context, ref domain.RawDocumentRef, text *string, chunkTexts []string) (*repository.SaveResult, error)
	StoredChunks(ctx context.Context, documentID int64) ([]domain.ChunkRecord, error)
	UpsertProceeding(ctx context.Context, number string, fields domain.ProceedingFields) (int64, error)
}

// Deps are the collaborators of a Pipeline. Fetcher may be nil to disable
// downloads of missing PDFs.
type Deps struct {
	Store     DocumentStore
	Fetcher   *source.Fetcher
	Extractor source.Extractor
	Chunker   *chunker.Chunker
	Embedder  embedding.Embedder
	Index     vectorindex.Index
	Logger    *slog.Logger
}

// Config sizes the stages. Zero values take the defaults.
type Config struct {
	Collection     string
	Producers      int
	Embedders      int
	Uploaders      int
	QueueSize      int
	ChunkBatchSize int
	PointBatchSize int
	// Force re-processes documents that are already stored with chunks.
	Force bool
	// SkipExisting probes the index and does not re-upload present points.
	SkipExisting bool
}

func (c Config) withDefaults() Config {
	if c.Producers <= 0 {
		c.Producers = DefaultProducers
	}
	if c.Embedders <= 0 {
		c.Embedders = DefaultEmbedders
	}
	if c.Uploaders <= 0 {
		c.Uploaders = DefaultUploaders
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ChunkBatchSize <= 0 {
		c.ChunkBatchSize = DefaultChunkBatchSize
	}
	if c.PointBatchSize <= 0 {
		c.PointBatchSize = DefaultPointBatchSize
	}
	return c
}

// Pipeline runs ingestion. A Pipeline may run more than once, but not
// concurrently with itself.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

// New validates deps and returns a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", domain.ErrInvalidConfig)
	case deps.Extractor == nil:
		return nil, fmt.Errorf("%w: extractor", domain.ErrInvalidConfig)
	case deps.Chunker == nil:
		return nil, fmt.Errorf("%w: chunker", domain.ErrInvalidConfig)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", domain.ErrInvalidConfig)
	case deps.Index == nil:
		return nil, fmt.Errorf("%w: vector index", domain.ErrInvalidConfig)
	case cfg.Collection == "":
		return nil, fmt.Errorf("%w: collection name", domain.ErrInvalidConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{deps: deps, cfg: cfg.withDefaults(), logger: logger}, nil
}

// sampleText is embedded once before a run to learn the provider's real
// vector size.
const sampleText = "regulatory filing"

// Preflight embeds a sample text and creates the collection if needed, or
// drops and recreates it when recreate is set. An embedder whose vectors
// differ from its configured size, or an existing collection whose size
// differs from the embedder's, is a fatal ErrDimensionMismatch.
func (p *Pipeline) Preflight(ctx context.Context, recreate bool) error {
	if err := p.checkEmbedder(ctx); err != nil {
		return err
	}
	spec := vectorindex.CollectionSpec{Name: p.cfg.Collection, Dimensions: p.deps.Embedder.Dimensions()}
	if err := p.deps.Index.EnsureCollection(ctx, spec, recreate); err != nil {
		return fmt.Errorf("preflight collection %s: %w", spec.Name, err)
	}
	return nil
}

func (p *Pipeline) checkEmbedder(ctx context.Context) error {
	want := p.deps.Embedder.Dimensions()
	vectors, err := p.deps.Embedder.Embed(ctx, []string{sampleText})
	switch {
	case errors.Is(err, embedding.ErrWrongDimensions):
		return domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("preflight embed: %w", err))
	case err != nil:
		return fmt.Errorf("preflight embed: %w", err)
	case len(vectors) != 1:
		return fmt.Errorf("preflight embed: %w: got %d vectors", embedding.ErrWrongCount, len(vectors))
	case len(vectors[0]) != want:
		return domain.Wrap(domain.ErrDimensionMismatch,
			fmt.Errorf("embedder returned %d dimensions, configured %d", len(vectors[0]), want))
	}
	return nil
}

// run is the shared state of one Run.
type run struct {
	p       *Pipeline
	loader  *source.Loader
	tracker *Tracker
	seen    *seenSet

	work   chan string
	chunks chan []domain.ChunkRecord
	points chan []domain.EmbeddingPoint

	mu        sync.Mutex
	producers int
	embedders int
}

// Run ingests every proceeding src enumerates. Unit failures are recorded
// in the report and never stop the run; the returned error is reserved for
// failures that prevent the run from starting.
func (p *Pipeline) Run(ctx context.Context, src source.Source) (*Report, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", telemetry.SpanAttributes{
		Collection: p.cfg.Collection,
		Operation:  src.Name(),
	})
	defer span.End()

	if err := p.Preflight(ctx, false); err != nil {
		span.SetError(err)
		return nil, err
	}

	proceedings, err := src.Proceedings(ctx)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("enumerate %s: %w", src.Name(), err)
	}

	r := &run{
		p:         p,
		loader:    source.NewLoader(src, p.deps.Fetcher, p.deps.Extractor),
		tracker:   NewTracker(),
		seen:      newSeenSet(),
		work:      make(chan string, p.cfg.QueueSize),
		chunks:    make(chan []domain.ChunkRecord, p.cfg.QueueSize),
		points:    make(chan []domain.EmbeddingPoint, p.cfg.QueueSize),
		producers: p.cfg.Producers,
		embedders: p.cfg.Embedders,
	}

	p.logger.Info("pipeline.start",
		"source", src.Name(),
		"collection", p.cfg.Collection,
		"proceedings", len(proceedings),
		"producers", p.cfg.Producers,
		"embedders", p.cfg.Embedders,
		"uploaders", p.cfg.Uploaders,
	)

	var g errgroup.Group
	g.Go(func() error {
		defer close(r.work)
		for _, number := range proceedings {
			r.work <- number
		}
		return nil
	})
	for range p.cfg.Producers {
		g.Go(func() error {
			r.produce(ctx, src)
			return nil
		})
	}
	for range p.cfg.Embedders {
		g.Go(func() error {
			r.embed(ctx)
			return nil
		})
	}
	for range p.cfg.Uploaders {
		g.Go(func() error {
			r.upload(ctx)
			return nil
		})
	}
	_ = g.Wait()

	report := r.tracker.Report()
	report.Units = r.tracker.Units()
	report.Duration = time.Since(start)
	observeRun(report.Duration)

	p.logger.Info("pipeline.done",
		"source", src.Name(),
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"chunks", report.Chunks,
		"points_uploaded", report.PointsUploaded,
		"points_failed", report.PointsFailed,
		"points_skipped", report.PointsSkipped,
		"duration", report.Duration,
	)
	return &report, nil
}

// producerDone is called once by each producer. The last one closes the
// chunk channel.
func (r *run) producerDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers--
	if r.producers == 0 {
		close(r.chunks)
	}
}

// embedderDone is called once by each embedder. The last one closes the
// point channel.
func (r *run) embedderDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedders--
	if r.embedders == 0 {
		close(r.points)
	}
}

// fail finishes u as failed, logs it and reports it to Sentry.
func (r *run) fail(ctx context.Context, u *domain.Unit, proceeding string, stage domain.Stage, err error) {
	r.tracker.Fail(u, stage, err)
	r.reportFailure(ctx, u, proceeding, stage, err)
}

func (r *run) reportFailure(ctx context.Context, u *domain.Unit, proceeding string, stage domain.Stage, err error) {
	if u.Kind == domain.UnitKindDocument {
		recordDocument(string(domain.UnitStatusFailed))
	}
	r.p.logger.Error("pipeline.unit_failed",
		"kind", u.Kind,
		"key", u.Key,
		"source", u.Source,
		"proceeding", proceeding,
		"stage", stage,
		"code", domain.CodeOf(err),
		"error", err,
	)
	telemetry.CaptureUnitError(ctx, err, telemetry.SpanAttributes{
		Proceeding: proceeding,
		Document:   u.Key,
		Stage:      string(stage),
	})
}

func (r *run) skip(u *domain.Unit, reason string) {
	r.tracker.Skip(u, reason)
	if u.Kind == domain.UnitKindDocument {
		recordDocument(string(domain.UnitStatusSkipped))
		r.p.logger.Debug("pipeline.unit_skipped", "key", u.Key, "reason", reason)
	}
}

func (r *run) complete(u *domain.Unit) {
	if u.Status == domain.UnitStatusCompleted {
		recordDocument(string(domain.UnitStatusCompleted))
	}
}

// settle resolves chunks grouped by document and reports documents that
// finished as a result.
func (r *run) settle(ctx context.Context, counts map[int64]int, proceedings map[int64]string, stage domain.Stage, err error) {
	for docID, n := range counts {
		u, failErr := r.tracker.Resolve(docID, n, stage, err)
		if u == nil {
			continue
		}
		switch u.Status {
		case domain.UnitStatusFailed:
			r.reportFailure(ctx, u, proceedings[docID], u.Stage, failErr)
		case domain.UnitStatusCompleted:
			r.complete(u)
		}
	}
}
