package pipeline

import (
	"context"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/source"
	"github.com/cloo-solutions/filingsearch/internal/telemetry"
	"github.com/google/uuid"
)

const (
	skipCertificate = "certificate of service"
	skipDuplicate   = "duplicate in run"
	skipIngested    = "already ingested"
)

// chunkBatcher is a producer's private buffer in front of the chunk channel.
type chunkBatcher struct {
	size int
	out  chan<- []domain.ChunkRecord
	buf  []domain.ChunkRecord
}

func (b *chunkBatcher) add(c domain.ChunkRecord) {
	b.buf = append(b.buf, c)
	if len(b.buf) >= b.size {
		b.flush()
	}
}

func (b *chunkBatcher) flush() {
	if len(b.buf) == 0 {
		return
	}
	b.out <- b.buf
	b.buf = make([]domain.ChunkRecord, 0, b.size)
}

// produce drains the work channel. It flushes its partial batch before
// signalling that it is done.
func (r *run) produce(ctx context.Context, src source.Source) {
	defer r.producerDone()

	b := &chunkBatcher{size: r.p.cfg.ChunkBatchSize, out: r.chunks}
	for number := range r.work {
		r.proceeding(ctx, src, number, b)
	}
	b.flush()
}

func (r *run) proceeding(ctx context.Context, src source.Source, number string, b *chunkBatcher) {
	u := r.tracker.Register(domain.UnitKindProceeding, number, src.Name())
	r.tracker.Start(u, domain.StageEnumerate)

	refs, err := src.Documents(ctx, number)
	if err != nil {
		r.fail(ctx, u, number, domain.StageEnumerate, err)
		return
	}

	// proceeding.json is optional; a broken one fails the proceeding unit
	// but its documents are still ingested.
	var recordErr error
	var recordStage domain.Stage
	rec, err := src.ProceedingRecord(ctx, number)
	switch {
	case err != nil:
		recordErr, recordStage = err, domain.StageEnumerate
	case rec != nil:
		r.tracker.Advance(u, domain.StageStore)
		if _, err := r.p.deps.Store.UpsertProceeding(ctx, proceedingNumber(rec, number), rec.Fields()); err != nil {
			recordErr, recordStage = err, domain.StageStore
		}
	}

	for _, ref := range refs {
		r.document(ctx, ref, b)
	}

	if recordErr != nil {
		r.fail(ctx, u, number, recordStage, recordErr)
		return
	}
	r.tracker.Complete(u)
}

func proceedingNumber(rec *domain.ProceedingRecord, dir string) string {
	if rec.Number != "" {
		return domain.NormalizeProceedingNumber(rec.Number)
	}
	return domain.NormalizeProceedingNumber(dir)
}

func (r *run) document(ctx context.Context, ref domain.RawDocumentRef, b *chunkBatcher) {
	ref = ref.Normalize()
	u := r.tracker.Register(domain.UnitKindDocument, ref.Key(), ref.SourceURL)

	if !r.seen.Claim(ref.Key(), ref.SourceURL) {
		r.skip(u, skipDuplicate)
		return
	}
	if err := ref.Validate(); err != nil {
		r.fail(ctx, u, ref.ProceedingNumber, domain.StageEnumerate, err)
		return
	}
	if ref.IsCertificateOfService() {
		r.skip(u, skipCertificate)
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "pipeline.document", telemetry.SpanAttributes{
		Proceeding: ref.ProceedingNumber,
		Document:   ref.Key(),
	})
	defer span.End()

	r.tracker.Start(u, domain.StageStore)
	if !r.p.cfg.Force {
		docID, chunks, found, err := r.p.deps.Store.Lookup(ctx, ref.SourceURL)
		if err != nil {
			span.SetError(err)
			r.fail(ctx, u, ref.ProceedingNumber, domain.StageStore, err)
			return
		}
		if found && chunks > 0 {
			r.repair(ctx, u, ref, docID, chunks, b)
			return
		}
	}

	r.tracker.Advance(u, domain.StageFetch)
	content, stage, err := r.loader.Load(ctx, ref)
	if err != nil {
		span.SetError(err)
		r.fail(ctx, u, ref.ProceedingNumber, stage, err)
		return
	}

	r.tracker.Advance(u, domain.StageChunk)
	var texts []string
	if content.Text != nil {
		texts = r.p.deps.Chunker.Split(*content.Text)
	}
	if len(texts) == 0 {
		texts = []string{ref.MetadataSummary()}
	}

	r.tracker.Advance(u, domain.StageStore)
	res, err := r.p.deps.Store.SaveDocument(ctx, ref, content.Text, texts)
	if err != nil {
		span.SetError(err)
		r.fail(ctx, u, ref.ProceedingNumber, domain.StageStore, err)
		return
	}

	r.p.logger.Debug("pipeline.document_stored",
		"key", u.Key,
		"document_id", res.DocumentID,
		"origin", content.Origin,
		"chunks", len(res.Chunks),
		"new_chunks", res.NewChunks,
	)

	r.tracker.Expect(u, res.DocumentID, len(res.Chunks))
	recordChunks(len(res.Chunks))
	if len(res.Chunks) == 0 {
		r.complete(u)
		return
	}
	for _, c := range res.Chunks {
		b.add(c)
	}
}

// repair re-queues the stored chunks of an ingested document whose points
// are missing from the index. A document with every point present is skipped.
func (r *run) repair(ctx context.Context, u *domain.Unit, ref domain.RawDocumentRef, docID int64, chunks int, b *chunkBatcher) {
	r.tracker.Advance(u, domain.StageUpload)
	ids := make([]uuid.UUID, chunks)
	for i := range ids {
		ids[i] = domain.PointID(docID, i)
	}
	existing, err := r.p.deps.Index.ExistingIDs(ctx, r.p.cfg.Collection, ids)
	if err != nil {
		r.fail(ctx, u, ref.ProceedingNumber, domain.StageUpload, err)
		return
	}
	present := 0
	for _, id := range ids {
		if existing[id] {
			present++
		}
	}
	if present == chunks {
		r.skip(u, skipIngested)
		return
	}

	r.tracker.Advance(u, domain.StageStore)
	stored, err := r.p.deps.Store.StoredChunks(ctx, docID)
	if err != nil {
		r.fail(ctx, u, ref.ProceedingNumber, domain.StageStore, err)
		return
	}
	missing := make([]domain.ChunkRecord, 0, len(stored))
	for _, c := range stored {
		if !existing[c.PointID()] {
			missing = append(missing, c)
		}
	}

	r.p.logger.Info("pipeline.document_repair",
		"key", u.Key,
		"document_id", docID,
		"chunks", len(stored),
		"missing", len(missing),
	)

	r.tracker.Expect(u, docID, len(missing))
	recordChunks(len(missing))
	for _, c := range missing {
		b.add(c)
	}
}

// embed turns chunk batches into point batches of PointBatchSize. The last
// embedder to finish closes the point channel.
func (r *run) embed(ctx context.Context) {
	defer r.embedderDone()

	size := r.p.cfg.PointBatchSize
	buf := make([]domain.EmbeddingPoint, 0, size)
	for batch := range r.chunks {
		buf = append(buf, r.embedBatch(ctx, batch)...)
		for len(buf) >= size {
			out := make([]domain.EmbeddingPoint, size)
			copy(out, buf[:size])
			r.points <- out
			buf = append(buf[:0], buf[size:]...)
		}
	}
	if len(buf) > 0 {
		r.points <- buf
	}
}

// embedBatch embeds a batch in one call. When that fails it retries each
// document's chunks separately so one bad document does not fail the others.
func (r *run) embedBatch(ctx context.Context, batch []domain.ChunkRecord) []domain.EmbeddingPoint {
	points, err := r.embedChunks(ctx, batch)
	if err == nil {
		return points
	}

	groups := groupByDocument(batch)
	if len(groups) == 1 {
		r.failChunks(ctx, batch, domain.StageEmbed, err)
		return nil
	}

	r.p.logger.Warn("pipeline.embed_batch_failed",
		"chunks", len(batch),
		"documents", len(groups),
		"error", err,
	)
	var out []domain.EmbeddingPoint
	for _, group := range groups {
		pts, err := r.embedChunks(ctx, group)
		if err != nil {
			r.failChunks(ctx, group, domain.StageEmbed, err)
			continue
		}
		out = append(out, pts...)
	}
	return out
}

func (r *run) embedChunks(ctx context.Context, chunks []domain.ChunkRecord) ([]domain.EmbeddingPoint, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	start := time.Now()
	vectors, err := r.p.deps.Embedder.Embed(ctx, texts)
	observeEmbed(start)
	if err != nil {
		return nil, err
	}

	points := make([]domain.EmbeddingPoint, len(chunks))
	for i, c := range chunks {
		points[i] = domain.NewEmbeddingPoint(c, vectors[i])
	}
	return points, nil
}

func (r *run) failChunks(ctx context.Context, chunks []domain.ChunkRecord, stage domain.Stage, err error) {
	counts := make(map[int64]int)
	procs := make(map[int64]string)
	for _, c := range chunks {
		counts[c.DocumentID]++
		procs[c.DocumentID] = c.Metadata.ProceedingNumber
	}
	r.tracker.Points(0, len(chunks), 0)
	recordPoints("failed", len(chunks))
	r.settle(ctx, counts, procs, stage, err)
}

// groupByDocument splits a batch into runs of one document each, keeping
// first-seen order.
func groupByDocument(batch []domain.ChunkRecord) [][]domain.ChunkRecord {
	index := make(map[int64]int)
	var groups [][]domain.ChunkRecord
	for _, c := range batch {
		i, ok := index[c.DocumentID]
		if !ok {
			i = len(groups)
			index[c.DocumentID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], c)
	}
	return groups
}

// upload drains the point channel until the last embedder closes it.
func (r *run) upload(ctx context.Context) {
	for points := range r.points {
		r.uploadBatch(ctx, points)
	}
}

func (r *run) uploadBatch(ctx context.Context, points []domain.EmbeddingPoint) {
	collection := r.p.cfg.Collection

	if r.p.cfg.SkipExisting {
		var present []domain.EmbeddingPoint
		points, present = r.partitionExisting(ctx, points)
		if len(present) > 0 {
			r.tracker.Points(0, 0, len(present))
			recordPoints("skipped", len(present))
			counts, procs := countPoints(present)
			r.settle(ctx, counts, procs, domain.StageUpload, nil)
		}
		if len(points) == 0 {
			return
		}
	}

	start := time.Now()
	err := r.p.deps.Index.Upsert(ctx, collection, points)
	observeUpsert(start)

	counts, procs := countPoints(points)
	if err != nil {
		r.tracker.Points(0, len(points), 0)
		recordPoints("failed", len(points))
		r.settle(ctx, counts, procs, domain.StageUpload, err)
		return
	}
	r.tracker.Points(len(points), 0, 0)
	recordPoints("uploaded", len(points))
	r.settle(ctx, counts, procs, domain.StageUpload, nil)
}

// partitionExisting splits points into those missing from the index and
// those already present. A failed probe uploads everything.
func (r *run) partitionExisting(ctx context.Context, points []domain.EmbeddingPoint) (missing, present []domain.EmbeddingPoint) {
	ids := make([]uuid.UUID, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	existing, err := r.p.deps.Index.ExistingIDs(ctx, r.p.cfg.Collection, ids)
	if err != nil {
		r.p.logger.Warn("pipeline.existing_probe_failed", "points", len(points), "error", err)
		return points, nil
	}
	for _, p := range points {
		if existing[p.ID] {
			present = append(present, p)
		} else {
			missing = append(missing, p)
		}
	}
	return missing, present
}

func countPoints(points []domain.EmbeddingPoint) (map[int64]int, map[int64]string) {
	counts := make(map[int64]int)
	procs := make(map[int64]string)
	for _, p := range points {
		counts[p.Payload.DocumentID]++
		procs[p.Payload.DocumentID] = p.Payload.ProceedingNumber
	}
	return counts, procs
}
