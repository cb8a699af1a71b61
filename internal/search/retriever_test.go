package search

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyanglab/noticebot/internal/board"
	"github.com/hyanglab/noticebot/internal/embed"
)

func storeWith(t *testing.T, records ...embed.Record) *embed.Store {
	t.Helper()
	s, err := embed.OpenStore(filepath.Join(t.TempDir(), "embeddings.json"))
	require.NoError(t, err)
	if len(records) > 0 {
		require.NoError(t, s.PutBatch(records))
	}
	return s
}

func TestSearchRanksByCosine(t *testing.T) {
	s := storeWith(t,
		embed.Record{PostID: "exact", Vector: []float64{1, 0, 0}},
		embed.Record{PostID: "close", Vector: []float64{0.9, 0.1, 0}},
		embed.Record{PostID: "far", Vector: []float64{0, 0, 1}},
	)
	r := New(s)

	results, err := r.Search([]float64{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "exact", results[0].PostID)
	assert.Equal(t, "close", results[1].PostID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchKLargerThanStore(t *testing.T) {
	s := storeWith(t, embed.Record{PostID: "only", Vector: []float64{1, 0}})
	results, err := New(s).Search([]float64{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchEmptyStore(t *testing.T) {
	results, err := New(storeWith(t)).Search([]float64{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchInvalidK(t *testing.T) {
	s := storeWith(t, embed.Record{PostID: "x", Vector: []float64{1}})
	_, err := New(s).Search([]float64{1}, 0)
	require.Error(t, err)
}

func TestSearchDimensionMismatch(t *testing.T) {
	s := storeWith(t, embed.Record{PostID: "x", Vector: []float64{1, 0, 0}})
	_, err := New(s).Search([]float64{1, 0}, 3)
	require.Error(t, err)
	var cfgErr *board.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSearchTieBreaksByRecency(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := storeWith(t,
		embed.Record{PostID: "old", Vector: []float64{1, 0}, PublishedAt: older},
		embed.Record{PostID: "new", Vector: []float64{1, 0}, PublishedAt: newer},
	)

	results, err := New(s).Search([]float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].PostID)
	assert.Equal(t, "old", results[1].PostID)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Cosine(tc.a, tc.b), 1e-9)
		})
	}
}
