package domain

import (
	"fmt"
	"strings"
)

// SearchType tags which strategy produced a RetrievalResult.
type SearchType string

const (
	SearchTypeKeyword  SearchType = "keyword"
	SearchTypeSemantic SearchType = "semantic"
	SearchTypeReranked SearchType = "reranked"
	SearchTypeHybrid   SearchType = "hybrid"
)

// DocumentLevelChunk marks keyword hits on full document text rather than a chunk.
const DocumentLevelChunk = -1

// RetrievalResult is a transient ranked hit. Exactly the score fields that
// apply to SearchType are set.
type RetrievalResult struct {
	DocumentID       int64      `json:"document_id"`
	ChunkIndex       int        `json:"chunk_index"`
	ProceedingNumber string     `json:"proceeding_id"`
	SourceURL        string     `json:"source_url"`
	Title            string     `json:"title,omitempty"`
	ChunkText        string     `json:"chunk_text"`
	Score            float64    `json:"score"`
	SearchType       SearchType `json:"search_type"`
	KeywordRank      *float64   `json:"keyword_rank,omitempty"`
	Similarity       *float64   `json:"similarity,omitempty"`
	RerankScore      *float64   `json:"rerank_score,omitempty"`
	FilterRelaxed    bool       `json:"filter_relaxed,omitempty"`
}

// Key identifies the (document, chunk) pair used for fusion.
func (r RetrievalResult) Key() string {
	return fmt.Sprintf("%d_%d", r.DocumentID, r.ChunkIndex)
}

// ParseSearchType maps user input to a SearchType.
func ParseSearchType(s string) (SearchType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keyword", "lexical":
		return SearchTypeKeyword, nil
	case "semantic", "":
		return SearchTypeSemantic, nil
	case "rerank", "reranked":
		return SearchTypeReranked, nil
	case "hybrid":
		return SearchTypeHybrid, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSearchMode, s)
}
