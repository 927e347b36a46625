package retrieval

import (
	"sort"

	"github.com/cloo-solutions/filingsearch/internal/domain"
)

// DefaultWeights favour semantic similarity over keyword rank.
var DefaultWeights = Weights{Keyword: 0.3, Semantic: 0.7}

// Weights scale each strategy's score in a hybrid search. They are not
// normalized.
type Weights struct {
	Keyword  float64 `json:"keyword"`
	Semantic float64 `json:"semantic"`
}

// Fuse unions keyword and semantic hits by (document id, chunk index). A hit
// in both lists scores Keyword*rank + Semantic*similarity; a hit in one list
// scores that strategy's weighted score alone. The result is sorted by score
// descending and cut to limit (limit <= 0 keeps everything).
func Fuse(keyword, semantic []domain.RetrievalResult, w Weights, limit int) []domain.RetrievalResult {
	byKey := make(map[string]int, len(keyword)+len(semantic))
	out := make([]domain.RetrievalResult, 0, len(keyword)+len(semantic))

	for _, r := range keyword {
		rank := r.Score
		if r.KeywordRank != nil {
			rank = *r.KeywordRank
		}
		if i, ok := byKey[r.Key()]; ok {
			// Duplicate keyword hits keep the better rank.
			if rank*w.Keyword > out[i].Score {
				out[i].Score = rank * w.Keyword
				out[i].KeywordRank = &rank
			}
			continue
		}
		r.KeywordRank = &rank
		r.Similarity = nil
		r.RerankScore = nil
		r.Score = rank * w.Keyword
		r.SearchType = domain.SearchTypeHybrid
		byKey[r.Key()] = len(out)
		out = append(out, r)
	}

	for _, r := range semantic {
		sim := r.Score
		if r.Similarity != nil {
			sim = *r.Similarity
		}
		if i, ok := byKey[r.Key()]; ok {
			if out[i].Similarity != nil {
				continue
			}
			out[i].Similarity = &sim
			out[i].Score += sim * w.Semantic
			if out[i].ChunkText == "" {
				out[i].ChunkText = r.ChunkText
			}
			continue
		}
		r.Similarity = &sim
		r.KeywordRank = nil
		r.RerankScore = nil
		r.Score = sim * w.Semantic
		r.SearchType = domain.SearchTypeHybrid
		byKey[r.Key()] = len(out)
		out = append(out, r)
	}

	sortByScore(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sortByScore orders results by score descending with a stable
// (document, chunk) tie-break.
func sortByScore(results []domain.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}
