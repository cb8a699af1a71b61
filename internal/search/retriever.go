// Package search implements cosine-similarity top-k retrieval over the
// embedding store.
package search

import (
	"fmt"
	"math"
	"sort"

	"github.com/hyanglab/noticebot/internal/board"
	"github.com/hyanglab/noticebot/internal/embed"
)

// Result is one retrieved post with its similarity score.
type Result struct {
	PostID string
	Score  float64
}

// Retriever holds a read-only view of the embedding store.
type Retriever struct {
	store *embed.Store
}

// New builds a Retriever.
func New(store *embed.Store) *Retriever {
	return &Retriever{store: store}
}

// Search returns the k records most similar to the query vector, in
// descending score order, ties broken by more recent publish date. An empty
// store yields an empty result, not an error.
func (r *Retriever) Search(query []float64, k int) ([]Result, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1")
	}
	records := r.store.Records()
	if len(records) == 0 {
		return nil, nil
	}
	if dim := r.store.Dimension(); len(query) != dim {
		return nil, &board.ConfigurationError{
			Reason: fmt.Sprintf("query dimension %d does not match store dimension %d", len(query), dim),
		}
	}

	type scored struct {
		rec   embed.Record
		score float64
	}
	results := make([]scored, 0, len(records))
	for _, rec := range records {
		results = append(results, scored{rec: rec, score: Cosine(query, rec.Vector)})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].rec.PublishedAt.After(results[j].rec.PublishedAt)
	})

	if k > len(results) {
		k = len(results)
	}
	out := make([]Result, k)
	for i := 0; i < k; i++ {
		out[i] = Result{PostID: results[i].rec.PostID, Score: results[i].score}
	}
	return out, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is a
// zero vector.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
