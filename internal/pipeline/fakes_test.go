package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/repository"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"github.com/google/uuid"
)

// memSource serves proceedings from memory. PDFs are keyed by location.
type memSource struct {
	docs    map[string][]domain.RawDocumentRef
	records map[string]*domain.ProceedingRecord
	pdfs    map[string][]byte
	listErr error
}

func newMemSource() *memSource {
	return &memSource{
		docs:    make(map[string][]domain.RawDocumentRef),
		records: make(map[string]*domain.ProceedingRecord),
		pdfs:    make(map[string][]byte),
	}
}

// add registers a document with a stored PDF holding text. An empty text
// registers the record without a PDF.
func (s *memSource) add(proceeding, id, text string) domain.RawDocumentRef {
	ref := domain.RawDocumentRef{
		DocumentID:       id,
		SourceURL:        "http://filings.example.gov/" + proceeding + "/" + id + ".pdf",
		ProceedingNumber: proceeding,
		Title:            "Filing " + id,
		DocType:          "E-Filed: Ruling",
		FiledBy:          "Utility Co",
		FilingDate:       "January 5, 2024",
	}
	if text != "" {
		ref.Location = proceeding + "/" + id + ".pdf"
		s.pdfs[ref.Location] = []byte(text)
	}
	s.docs[proceeding] = append(s.docs[proceeding], ref)
	return ref
}

func (s *memSource) Name() string { return "mem" }

func (s *memSource) Proceedings(ctx context.Context) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]string, 0, len(s.docs))
	for k := range s.docs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memSource) Documents(ctx context.Context, proceeding string) ([]domain.RawDocumentRef, error) {
	return s.docs[proceeding], nil
}

func (s *memSource) ProceedingRecord(ctx context.Context, proceeding string) (*domain.ProceedingRecord, error) {
	return s.records[proceeding], nil
}

func (s *memSource) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	b, ok := s.pdfs[location]
	if !ok {
		return nil, domain.Wrap(domain.ErrSourceNotFound, errors.New(location))
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// textExtractor treats the PDF bytes as the text. "%%broken" is unparsable.
type textExtractor struct{}

func (textExtractor) Extract(ctx context.Context, pdf []byte) (string, error) {
	s := string(pdf)
	if strings.HasPrefix(s, "%%broken") {
		return "", domain.ErrMalformedPDF
	}
	return s, nil
}

// memStore mimics the relational store: documents keyed by source URL,
// chunks numbered per document.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	docs        map[string]int64
	chunks      map[int64][]domain.ChunkRecord
	proceedings map[string]domain.ProceedingFields
	saves       int
	saveErr     map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		docs:        make(map[string]int64),
		chunks:      make(map[int64][]domain.ChunkRecord),
		proceedings: make(map[string]domain.ProceedingFields),
		saveErr:     make(map[string]error),
	}
}

func (m *memStore) Lookup(ctx context.Context, sourceURL string) (int64, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.docs[sourceURL]
	if !ok {
		return 0, 0, false, nil
	}
	return id, len(m.chunks[id]), true, nil
}

func (m *memStore) SaveDocument(ctx context.Context, ref domain.RawDocumentRef, text *string, chunkTexts []string) (*repository.SaveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErr[ref.SourceURL]; err != nil {
		return nil, err
	}
	m.saves++
	if _, ok := m.proceedings[ref.ProceedingNumber]; !ok {
		m.proceedings[ref.ProceedingNumber] = domain.ProceedingFields{}
	}
	id, ok := m.docs[ref.SourceURL]
	created := !ok
	if !ok {
		m.nextID++
		id = m.nextID
		m.docs[ref.SourceURL] = id
	}
	chunks := domain.NewChunkRecords(id, chunkTexts, ref.ChunkMetadata())
	newChunks := 0
	if len(m.chunks[id]) == 0 {
		m.chunks[id] = chunks
		newChunks = len(chunks)
	}
	return &repository.SaveResult{DocumentID: id, Created: created, Chunks: chunks, NewChunks: newChunks}, nil
}

func (m *memStore) StoredChunks(ctx context.Context, documentID int64) ([]domain.ChunkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ChunkRecord(nil), m.chunks[documentID]...), nil
}

func (m *memStore) UpsertProceeding(ctx context.Context, number string, fields domain.ProceedingFields) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proceedings[number] = fields
	return int64(len(m.proceedings)), nil
}

func (m *memStore) chunkCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.chunks {
		n += len(c)
	}
	return n
}

var _ vectorindex.Index = (*memIndex)(nil)

// memIndex is an in-memory vectorindex.Index.
type memIndex struct {
	mu          sync.Mutex
	collections map[string]int
	points      map[uuid.UUID]domain.EmbeddingPoint
	upserts     int
	failUpsert  func(points []domain.EmbeddingPoint) error
}

func newMemIndex() *memIndex {
	return &memIndex{
		collections: make(map[string]int),
		points:      make(map[uuid.UUID]domain.EmbeddingPoint),
	}
}

func (m *memIndex) EnsureCollection(ctx context.Context, spec vectorindex.CollectionSpec, deleteExisting bool) error {
	m.mu.Lock()
	dims, ok := m.collections[spec.Name]
	m.mu.Unlock()
	if ok && !deleteExisting {
		if dims != spec.Dimensions {
			return domain.Wrap(domain.ErrDimensionMismatch, fmt.Errorf("%d != %d", dims, spec.Dimensions))
		}
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[spec.Name] = spec.Dimensions
	if deleteExisting {
		m.points = make(map[uuid.UUID]domain.EmbeddingPoint)
	}
	return nil
}

func (m *memIndex) Upsert(ctx context.Context, collection string, points []domain.EmbeddingPoint) error {
	if m.failUpsert != nil {
		if err := m.failUpsert(points); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *memIndex) QueryNearest(ctx context.Context, collection string, vector []float32, k int, filter *vectorindex.Filter) ([]vectorindex.Hit, error) {
	return nil, nil
}

func (m *memIndex) ExistingIDs(ctx context.Context, collection string, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]bool)
	for _, id := range ids {
		if _, ok := m.points[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (m *memIndex) Dimensions(ctx context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dims, ok := m.collections[collection]
	if !ok {
		return 0, domain.ErrCollectionNotFound
	}
	return dims, nil
}

func (m *memIndex) Close() error { return nil }

func (m *memIndex) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

// fakeEmbedder returns constant vectors and fails any call containing poison.
// A non-zero outDims makes it return vectors of that size instead of dims.
type fakeEmbedder struct {
	dims    int
	outDims int
	poison  string

	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.poison != "" && strings.Contains(t, f.poison) {
			return nil, errors.New("model rejected input")
		}
		n := f.dims
		if f.outDims > 0 {
			n = f.outDims
		}
		v := make([]float32, n)
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}
