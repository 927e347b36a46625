// Package retrieval answers queries over ingested filings with keyword,
// semantic, reranked and hybrid search.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/embedding"
	"github.com/cloo-solutions/filingsearch/internal/telemetry"
	"github.com/cloo-solutions/filingsearch/internal/vectorindex"
)

const (
	DefaultLimit            = 5
	MaxLimit                = 100
	DefaultRerankCandidates = 30
)

// KeywordSearcher ranks stored text with the relational full-text engine.
type KeywordSearcher interface {
	SearchChunks(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error)
	SearchDocuments(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error)
}

// EngineDeps are the collaborators of an Engine. Reranker is optional.
type EngineDeps struct {
	Keyword  KeywordSearcher
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Reranker Reranker
	Logger   *slog.Logger
}

// Config holds engine defaults.
type Config struct {
	Collection       string
	RerankCandidates int
}

// Engine is safe for concurrent use.
type Engine struct {
	deps   EngineDeps
	cfg    Config
	logger *slog.Logger
}

// SemanticQuery is a nearest-neighbour search. An empty Collection uses the
// engine default. When Proceedings filters out every point and
// AllowUnfiltered is set, the search is repeated without the filter.
type SemanticQuery struct {
	Query           string
	Limit           int
	Collection      string
	Proceedings     []string
	AllowUnfiltered bool
}

// Request is a mode-dispatched search, as received from the CLI or API.
type Request struct {
	Query           string            `json:"query"`
	Mode            domain.SearchType `json:"mode"`
	Limit           int               `json:"limit"`
	Collection      string            `json:"collection,omitempty"`
	Proceedings     []string          `json:"proceedings,omitempty"`
	AllowUnfiltered bool              `json:"allow_unfiltered,omitempty"`
	Weights         *Weights          `json:"weights,omitempty"`
}

func NewEngine(deps EngineDeps, cfg Config) (*Engine, error) {
	if deps.Keyword == nil {
		return nil, fmt.Errorf("%w: keyword searcher", domain.ErrInvalidConfig)
	}
	if deps.Embedder == nil || deps.Index == nil {
		return nil, fmt.Errorf("%w: embedder and vector index", domain.ErrInvalidConfig)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: collection name", domain.ErrInvalidConfig)
	}
	if cfg.RerankCandidates <= 0 {
		cfg.RerankCandidates = DefaultRerankCandidates
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger}, nil
}

// CanRerank reports whether a reranker is configured.
func (e *Engine) CanRerank() bool {
	return e.deps.Reranker != nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

func cleanQuery(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", domain.ErrEmptyQuery
	}
	return q, nil
}

// Search dispatches on req.Mode. An empty mode is semantic.
func (e *Engine) Search(ctx context.Context, req Request) (results []domain.RetrievalResult, err error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.SearchTypeSemantic
	}

	ctx, span := telemetry.StartSpan(ctx, "retrieval.search", telemetry.SpanAttributes{
		Collection: req.Collection,
		Operation:  string(mode),
	})
	defer span.End()
	start := time.Now()
	defer func() {
		recordSearch(string(mode), start, err)
		if err != nil {
			span.SetError(err)
		}
	}()

	switch mode {
	case domain.SearchTypeKeyword:
		return e.Keyword(ctx, req.Query, req.Limit)
	case domain.SearchTypeSemantic:
		return e.Semantic(ctx, SemanticQuery{
			Query:           req.Query,
			Limit:           req.Limit,
			Collection:      req.Collection,
			Proceedings:     req.Proceedings,
			AllowUnfiltered: req.AllowUnfiltered,
		})
	case domain.SearchTypeReranked:
		return e.Rerank(ctx, req.Query, req.Limit, req.Proceedings)
	case domain.SearchTypeHybrid:
		w := DefaultWeights
		if req.Weights != nil {
			w = *req.Weights
		}
		return e.Hybrid(ctx, req.Query, w, req.Limit)
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSearchMode, mode)
}

// Keyword ranks chunks by full-text relevance. When no chunk matches it
// searches whole documents; those hits carry domain.DocumentLevelChunk.
func (e *Engine) Keyword(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error) {
	return e.keyword(ctx, query, clampLimit(limit))
}

func (e *Engine) keyword(ctx context.Context, query string, limit int) ([]domain.RetrievalResult, error) {
	query, err := cleanQuery(query)
	if err != nil {
		return nil, err
	}

	results, err := e.deps.Keyword.SearchChunks(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) > 0 {
		return results, nil
	}

	e.logger.Debug("retrieval.keyword_document_fallback", "query", query)
	return e.deps.Keyword.SearchDocuments(ctx, query, limit)
}

// Semantic embeds the query with the ingestion embedder and returns its
// nearest chunks. Score is the index's similarity, higher is closer.
func (e *Engine) Semantic(ctx context.Context, q SemanticQuery) ([]domain.RetrievalResult, error) {
	return e.semantic(ctx, q, clampLimit(q.Limit))
}

func (e *Engine) semantic(ctx context.Context, q SemanticQuery, limit int) ([]domain.RetrievalResult, error) {
	query, err := cleanQuery(q.Query)
	if err != nil {
		return nil, err
	}
	collection := q.Collection
	if collection == "" {
		collection = e.cfg.Collection
	}

	vector, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := vectorindex.ProceedingFilter(q.Proceedings)
	hits, err := e.deps.Index.QueryNearest(ctx, collection, vector, limit, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	relaxed := false
	if len(hits) == 0 && filter != nil && q.AllowUnfiltered {
		e.logger.Info("retrieval.filter_relaxed",
			"collection", collection,
			"proceedings", q.Proceedings,
		)
		recordFilterRelaxed()
		hits, err = e.deps.Index.QueryNearest(ctx, collection, vector, limit, nil)
		if err != nil {
			return nil, fmt.Errorf("query %s unfiltered: %w", collection, err)
		}
		relaxed = true
	}

	results := make([]domain.RetrievalResult, len(hits))
	for i, h := range hits {
		results[i] = fromHit(h)
		results[i].FilterRelaxed = relaxed
	}
	return results, nil
}

func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.deps.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	return vectors[0], nil
}

func fromHit(h vectorindex.Hit) domain.RetrievalResult {
	sim := float64(h.Score)
	return domain.RetrievalResult{
		DocumentID:       h.Payload.DocumentID,
		ChunkIndex:       h.Payload.ChunkIndex,
		ProceedingNumber: h.Payload.ProceedingNumber,
		SourceURL:        h.Payload.SourceURL,
		Title:            h.Payload.Title,
		ChunkText:        h.Payload.Text,
		Score:            sim,
		Similarity:       &sim,
		SearchType:       domain.SearchTypeSemantic,
	}
}

// Rerank oversamples semantic candidates, scores each against the query with
// the cross-encoder and keeps the best k.
func (e *Engine) Rerank(ctx context.Context, query string, k int, proceedings []string) ([]domain.RetrievalResult, error) {
	if e.deps.Reranker == nil {
		return nil, domain.ErrRerankUnavailable
	}
	k = clampLimit(k)

	candidates, err := e.Semantic(ctx, SemanticQuery{
		Query:       query,
		Limit:       max(e.cfg.RerankCandidates, k),
		Proceedings: proceedings,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.ChunkText
	}
	scores, err := e.deps.Reranker.Rerank(ctx, strings.TrimSpace(query), texts)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("rerank: got %d scores for %d candidates", len(scores), len(candidates))
	}

	for i := range candidates {
		s := scores[i]
		candidates[i].RerankScore = &s
		candidates[i].Score = s
		candidates[i].SearchType = domain.SearchTypeReranked
	}
	sortByScore(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Hybrid runs keyword and unfiltered semantic search at twice the limit and
// fuses them with w. The doubled limit is not clamped again, so each
// strategy contributes up to 2*MaxLimit candidates.
func (e *Engine) Hybrid(ctx context.Context, query string, w Weights, limit int) ([]domain.RetrievalResult, error) {
	limit = clampLimit(limit)

	keyword, err := e.keyword(ctx, query, 2*limit)
	if err != nil {
		return nil, err
	}
	semantic, err := e.semantic(ctx, SemanticQuery{Query: query}, 2*limit)
	if err != nil {
		return nil, err
	}
	return Fuse(keyword, semantic, w, limit), nil
}
