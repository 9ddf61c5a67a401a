// Package vectors runs similarity search against named document collections
// and merges the results by score.
package vectors

import (
	"context"
	"sort"
)

// Chunk is one retrievable unit of text as handed to callers of Merge.
// Scores are dropped on the way out; callers receive ordering only.
type Chunk struct {
	FileID   string `json:"file_id"`
	VectorID string `json:"vector_id"`
	Content  string `json:"content"`
}

// ScoredChunk is a search hit before merging.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Filter restricts a search to chunks of specific files.
type Filter struct {
	FileIDs []string
}

// Searcher is the vector-database contract consumed by the merger.
// Implementations must be safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, collection string, queryVec []float32, k int, filter *Filter) ([]ScoredChunk, error)
	ListCollections(ctx context.Context) ([]string, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Merge searches every named collection for the query, concatenates the
// hits, orders them by score descending and returns the top k. Equal scores
// keep input order (collection order, then per-collection rank). Stateless;
// safe to call concurrently.
func Merge(ctx context.Context, s Searcher, e Embedder, collections []string, query string, k int, filter *Filter) ([]Chunk, error) {
	if k <= 0 || len(collections) == 0 {
		return nil, nil
	}

	vec, err := e.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var hits []ScoredChunk
	for _, c := range collections {
		res, err := s.Search(ctx, c, vec, k, filter)
		if err != nil {
			return nil, err
		}
		hits = append(hits, res...)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out, nil
}
