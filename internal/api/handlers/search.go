package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cloo-solutions/filingsearch/internal/api"
	"github.com/cloo-solutions/filingsearch/internal/api/middleware"
	"github.com/cloo-solutions/filingsearch/internal/domain"
	"github.com/cloo-solutions/filingsearch/internal/retrieval"
	"github.com/cloo-solutions/filingsearch/internal/telemetry"
)

type Searcher interface {
	Search(ctx context.Context, req retrieval.Request) ([]domain.RetrievalResult, error)
}

type SearchHandler struct {
	engine Searcher
	logger *slog.Logger
}

func NewSearchHandler(engine Searcher, logger *slog.Logger) *SearchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchHandler{engine: engine, logger: logger}
}

type SearchRequest struct {
	Query           string   `json:"query"`
	Mode            string   `json:"mode,omitempty"`
	Limit           int      `json:"limit,omitempty"`
	Collection      string   `json:"collection,omitempty"`
	Proceedings     []string `json:"proceedings,omitempty"`
	AllowUnfiltered bool     `json:"allow_unfiltered,omitempty"`
	KeywordWeight   *float64 `json:"keyword_weight,omitempty"`
	SemanticWeight  *float64 `json:"semantic_weight,omitempty"`
}

type SearchResponse struct {
	Mode    domain.SearchType        `json:"mode"`
	Count   int                      `json:"count"`
	Results []domain.RetrievalResult `json:"results"`
}

// toRequest validates the body and converts it to an engine request.
func (s SearchRequest) toRequest() (retrieval.Request, error) {
	mode, err := domain.ParseSearchType(s.Mode)
	if err != nil {
		return retrieval.Request{}, err
	}
	if strings.TrimSpace(s.Query) == "" {
		return retrieval.Request{}, domain.ErrEmptyQuery
	}

	req := retrieval.Request{
		Query:           s.Query,
		Mode:            mode,
		Limit:           s.Limit,
		Collection:      s.Collection,
		AllowUnfiltered: s.AllowUnfiltered,
	}
	for _, p := range s.Proceedings {
		if n := domain.NormalizeProceedingNumber(p); n != "" {
			req.Proceedings = append(req.Proceedings, n)
		}
	}
	if s.KeywordWeight != nil || s.SemanticWeight != nil {
		w := retrieval.DefaultWeights
		if s.KeywordWeight != nil {
			w.Keyword = *s.KeywordWeight
		}
		if s.SemanticWeight != nil {
			w.Semantic = *s.SemanticWeight
		}
		req.Weights = &w
	}
	return req, nil
}

// Search handles POST /search.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			api.Error(w, http.StatusBadRequest, "request body is required")
		default:
			api.Error(w, http.StatusBadRequest, "invalid request body")
		}
		return
	}

	req, err := body.toRequest()
	if err != nil {
		api.HandleError(w, err)
		return
	}

	results, err := h.engine.Search(r.Context(), req)
	if err != nil {
		if api.DomainErrorToHTTP(err) >= http.StatusInternalServerError {
			h.logger.Error("search.failed",
				"mode", req.Mode,
				"request_id", middleware.GetRequestID(r.Context()),
				"error", err,
			)
			telemetry.CaptureError(r.Context(), err)
		}
		api.HandleError(w, err)
		return
	}

	if results == nil {
		results = []domain.RetrievalResult{}
	}
	api.Success(w, http.StatusOK, SearchResponse{
		Mode:    req.Mode,
		Count:   len(results),
		Results: results,
	})
}
