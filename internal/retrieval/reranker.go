package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultRerankModel is the cross-encoder the rerank server is expected to serve.
const DefaultRerankModel = "cross-encoder/ms-marco-MiniLM-L-6-v2"

// Reranker scores (query, text) pairs with a cross-encoder. Scores align
// with texts; higher is more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}

type teiRerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	Truncate  bool     `json:"truncate"`
	RawScores bool     `json:"raw_scores"`
}

type teiRerankHit struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// TEIReranker calls the /rerank route of a text-embeddings-inference server
// running a cross-encoder.
type TEIReranker struct {
	baseURL    string
	httpClient *http.Client
}

func NewTEIReranker(url string, timeout time.Duration) *TEIReranker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TEIReranker{
		baseURL:    strings.TrimRight(url, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (r *TEIReranker) Rerank(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(teiRerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank error (status %d): %s", resp.StatusCode, string(raw))
	}

	var hits []teiRerankHit
	if err := json.Unmarshal(raw, &hits); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(hits) != len(texts) {
		return nil, fmt.Errorf("rerank returned %d scores for %d texts", len(hits), len(texts))
	}

	scores := make([]float64, len(texts))
	seen := make([]bool, len(texts))
	for _, h := range hits {
		if h.Index < 0 || h.Index >= len(texts) || seen[h.Index] {
			return nil, fmt.Errorf("rerank returned invalid index %d", h.Index)
		}
		seen[h.Index] = true
		scores[h.Index] = h.Score
	}
	return scores, nil
}
