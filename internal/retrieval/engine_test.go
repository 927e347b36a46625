package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockKeywordSearcher struct {
	mock.Mock
}

func (m *MockKeywordSearcher) SearchChunks(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

func (m *MockKeywordSearcher) SearchDocuments(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RetrievalResult), args.Error(1)
}

type MockReranker struct {
	mock.Mock
}

func (m *MockReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	args := m.Called(ctx, query, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float64), args.Error(1)
}

type queryEmbedder struct {
	err error
}

func (q queryEmbedder) Dimensions() int { return 3 }

func (q queryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if q.err != nil {
		return nil, q.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// stubIndex returns hits whose proceeding passes the filter, in the given order.
type stubIndex struct {
	vectorindex.Index
	hits    []vectorindex.Hit
	err     error
	queries []*vectorindex.Filter
	limits  []int
}

func (s *stubIndex) QueryNearest(ctx context.Context, collection string, vector []float32, k int, filter *vectorindex.Filter) ([]vectorindex.Hit, error) {
	s.queries = append(s.queries, filter)
	s.limits = append(s.limits, k)
	if s.err != nil {
		return nil, s.err
	}
	var out []vectorindex.Hit
	for _, h := range s.hits {
		if filter != nil && !contains(filter.AnyOf, h.Payload.ProceedingNumber) {
			continue
		}
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func hit(doc int64, chunk int, proceeding string, score float32, text string) vectorindex.Hit {
	return vectorindex.Hit{
		ID:    domain.PointID(doc, chunk),
		Score: score,
		Payload: domain.PointPayload{
			DocumentID:       doc,
			ChunkIndex:       chunk,
			ProceedingNumber: proceeding,
			SourceURL:        "https://filings.example.gov/" + uuid.NewString(),
			Text:             text,
		},
	}
}

func newTestEngine(t *testing.T, kw *MockKeywordSearcher, idx *stubIndex, rr Reranker) *Engine {
	t.Helper()
	e, err := NewEngine(EngineDeps{
		Keyword:  kw,
		Embedder: queryEmbedder{},
		Index:    idx,
		Reranker: rr,
	}, Config{Collection: "filings", RerankCandidates: 4})
	require.NoError(t, err)
	return e
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(EngineDeps{}, Config{Collection: "c"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewEngine(EngineDeps{Keyword: new(MockKeywordSearcher), Embedder: queryEmbedder{}, Index: &stubIndex{}}, Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	e, err := NewEngine(EngineDeps{Keyword: new(MockKeywordSearcher), Embedder: queryEmbedder{}, Index: &stubIndex{}}, Config{Collection: "c"})
	require.NoError(t, err)
	assert.Equal(t, DefaultRerankCandidates, e.cfg.RerankCandidates)
	assert.False(t, e.CanRerank())
}

func TestKeyword_ChunkHits(t *testing.T) {
	kw := new(MockKeywordSearcher)
	chunks := []domain.RetrievalResult{keywordHit(1, 2, 0.4)}
	kw.On("SearchChunks", mock.Anything, "wildfire", 5).Return(chunks, nil)

	got, err := newTestEngine(t, kw, &stubIndex{}, nil).Keyword(context.Background(), "  wildfire ", 0)

	require.NoError(t, err)
	assert.Equal(t, chunks, got)
	kw.AssertNotCalled(t, "SearchDocuments", mock.Anything, mock.Anything, mock.Anything)
}

func TestKeyword_FallsBackToDocuments(t *testing.T) {
	kw := new(MockKeywordSearcher)
	docs := []domain.RetrievalResult{keywordHit(3, domain.DocumentLevelChunk, 0.2)}
	kw.On("SearchChunks", mock.Anything, "rate case", 10).Return(nil, nil)
	kw.On("SearchDocuments", mock.Anything, "rate case", 10).Return(docs, nil)

	got, err := newTestEngine(t, kw, &stubIndex{}, nil).Keyword(context.Background(), "rate case", 10)

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.DocumentLevelChunk, got[0].ChunkIndex)
	kw.AssertExpectations(t)
}

func TestKeyword_EmptyQuery(t *testing.T) {
	_, err := newTestEngine(t, new(MockKeywordSearcher), &stubIndex{}, nil).Keyword(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestSemantic_ConvertsHits(t *testing.T) {
	idx := &stubIndex{hits: []vectorindex.Hit{hit(1, 0, "A2401001", 0.91, "vegetation management")}}

	got, err := newTestEngine(t, new(MockKeywordSearcher), idx, nil).Semantic(context.Background(), SemanticQuery{Query: "trees", Limit: 3})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.SearchTypeSemantic, got[0].SearchType)
	assert.InDelta(t, 0.91, got[0].Score, 1e-6)
	require.NotNil(t, got[0].Similarity)
	assert.Equal(t, "A2401001", got[0].ProceedingNumber)
	assert.Equal(t, "vegetation management", got[0].ChunkText)
	assert.False(t, got[0].FilterRelaxed)
	assert.Equal(t, []int{3}, idx.limits)
	assert.Nil(t, idx.queries[0])
}

func TestSemantic_FilterFallback(t *testing.T) {
	tests := []struct {
		name            string
		allowUnfiltered bool
		wantHits        int
		wantQueries     int
	}{
		{"explicit fallback", true, 1, 2},
		{"no fallback by default", false, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &stubIndex{hits: []vectorindex.Hit{hit(1, 0, "A2401001", 0.5, "text")}}
			e := newTestEngine(t, new(MockKeywordSearcher), idx, nil)

			got, err := e.Semantic(context.Background(), SemanticQuery{
				Query:           "q",
				Proceedings:     []string{"R9999999"},
				AllowUnfiltered: tt.allowUnfiltered,
			})

			require.NoError(t, err)
			assert.Len(t, got, tt.wantHits)
			assert.Len(t, idx.queries, tt.wantQueries)
			require.NotNil(t, idx.queries[0])
			assert.Equal(t, "proceeding_id", idx.queries[0].Field)
			if tt.wantHits > 0 {
				assert.True(t, got[0].FilterRelaxed)
			}
		})
	}
}

func TestSemantic_Errors(t *testing.T) {
	idx := &stubIndex{err: domain.ErrCollectionNotFound}
	_, err := newTestEngine(t, new(MockKeywordSearcher), idx, nil).Semantic(context.Background(), SemanticQuery{Query: "q"})
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	e, err := NewEngine(EngineDeps{
		Keyword:  new(MockKeywordSearcher),
		Embedder: queryEmbedder{err: errors.New("tei down")},
		Index:    &stubIndex{},
	}, Config{Collection: "filings"})
	require.NoError(t, err)
	_, err = e.Semantic(context.Background(), SemanticQuery{Query: "q"})
	assert.ErrorContains(t, err, "tei down")
}

func TestRerank_SortsByCrossEncoderScore(t *testing.T) {
	idx := &stubIndex{hits: []vectorindex.Hit{
		hit(1, 0, "A1", 0.9, "first"),
		hit(2, 0, "A1", 0.8, "second"),
		hit(3, 0, "A1", 0.7, "third"),
	}}
	rr := new(MockReranker)
	rr.On("Rerank", mock.Anything, "wildfire liability", []string{"first", "second", "third"}).
		Return([]float64{0.1, 0.95, 0.5}, nil)

	e := newTestEngine(t, new(MockKeywordSearcher), idx, rr)
	got, err := e.Rerank(context.Background(), "wildfire liability", 2, nil)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].DocumentID)
	assert.Equal(t, int64(3), got[1].DocumentID)
	assert.Equal(t, domain.SearchTypeReranked, got[0].SearchType)
	require.NotNil(t, got[0].RerankScore)
	assert.InDelta(t, 0.95, *got[0].RerankScore, 1e-9)
	assert.Equal(t, []int{4}, idx.limits, "candidates are oversampled")
	rr.AssertExpectations(t)
}

func TestRerank_Unavailable(t *testing.T) {
	_, err := newTestEngine(t, new(MockKeywordSearcher), &stubIndex{}, nil).Rerank(context.Background(), "q", 5, nil)
	assert.ErrorIs(t, err, domain.ErrRerankUnavailable)
}

func TestRerank_ScoreCountMismatch(t *testing.T) {
	idx := &stubIndex{hits: []vectorindex.Hit{hit(1, 0, "A1", 0.9, "a"), hit(2, 0, "A1", 0.8, "b")}}
	rr := new(MockReranker)
	rr.On("Rerank", mock.Anything, "q", mock.Anything).Return([]float64{1}, nil)

	_, err := newTestEngine(t, new(MockKeywordSearcher), idx, rr).Rerank(context.Background(), "q", 5, nil)
	assert.ErrorContains(t, err, "got 1 scores for 2 candidates")
}

func TestHybrid_FusesBothStrategies(t *testing.T) {
	kw := new(MockKeywordSearcher)
	kw.On("SearchChunks", mock.Anything, "q", 4).
		Return([]domain.RetrievalResult{keywordHit(1, 0, 0.8)}, nil)
	idx := &stubIndex{hits: []vectorindex.Hit{
		hit(2, 0, "A1", 0.9, "b"),
		hit(1, 0, "A1", 0.6, "a"),
	}}

	got, err := newTestEngine(t, kw, idx, nil).Hybrid(context.Background(), "q", Weights{Keyword: 0.3, Semantic: 0.7}, 2)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].DocumentID)
	assert.InDelta(t, 0.66, got[0].Score, 1e-6)
	assert.Equal(t, int64(2), got[1].DocumentID)
	assert.InDelta(t, 0.63, got[1].Score, 1e-6)
	assert.Equal(t, []int{4}, idx.limits)
}

func TestHybrid_OversamplesPastMaxLimit(t *testing.T) {
	kw := new(MockKeywordSearcher)
	kw.On("SearchChunks", mock.Anything, "q", 2*MaxLimit).
		Return([]domain.RetrievalResult{keywordHit(1, 0, 0.8)}, nil)
	idx := &stubIndex{hits: []vectorindex.Hit{hit(2, 0, "A1", 0.9, "b")}}

	got, err := newTestEngine(t, kw, idx, nil).Hybrid(context.Background(), "q", DefaultWeights, 500)

	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []int{2 * MaxLimit}, idx.limits)
	kw.AssertExpectations(t)
}

func TestSearch_Dispatch(t *testing.T) {
	kw := new(MockKeywordSearcher)
	kw.On("SearchChunks", mock.Anything, "q", 5).Return([]domain.RetrievalResult{keywordHit(1, 0, 1)}, nil)
	kw.On("SearchChunks", mock.Anything, "q", 10).Return([]domain.RetrievalResult{keywordHit(1, 0, 1)}, nil)
	idx := &stubIndex{hits: []vectorindex.Hit{hit(1, 0, "A1", 0.5, "a")}}
	e := newTestEngine(t, kw, idx, nil)

	tests := []struct {
		mode    domain.SearchType
		want    domain.SearchType
		wantErr error
	}{
		{domain.SearchTypeKeyword, domain.SearchTypeKeyword, nil},
		{"", domain.SearchTypeSemantic, nil},
		{domain.SearchTypeSemantic, domain.SearchTypeSemantic, nil},
		{domain.SearchTypeHybrid, domain.SearchTypeHybrid, nil},
		{domain.SearchTypeReranked, "", domain.ErrRerankUnavailable},
		{"fuzzy", "", domain.ErrInvalidSearchMode},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			got, err := e.Search(context.Background(), Request{Query: "q", Mode: tt.mode})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotEmpty(t, got)
			assert.Equal(t, tt.want, got[0].SearchType)
		})
	}
}
