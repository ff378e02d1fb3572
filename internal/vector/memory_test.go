package vector

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-rag/scribe/internal/errors"
)

func newTestStore() *MemoryStore {
	return NewMemoryStore(3, slog.New(slog.DiscardHandler))
}

func point(id, docID, fileType string, vec []float32) Point {
	return Point{
		ID:     id,
		Vector: vec,
		Payload: Payload{
			ChunkID:    id,
			DocumentID: docID,
			Content:    "content of " + id,
			FileType:   fileType,
		},
	}
}

func TestMemorySearchRanksBySimilarity(t *testing.T) {
	m := newTestStore()
	ctx := t.Context()

	require.NoError(t, m.UpsertVectors(ctx, []Point{
		point("c1", "d1", "md", []float32{1, 0, 0}),
		point("c2", "d1", "md", []float32{0, 1, 0}),
		point("c3", "d2", "md", []float32{0.9, 0.1, 0}),
	}))

	results, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 2, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "c3", results[1].ChunkID)
	assert.Greater(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}
}

func TestMemorySearchThreshold(t *testing.T) {
	m := newTestStore()
	ctx := t.Context()

	require.NoError(t, m.UpsertVectors(ctx, []Point{
		point("close", "d1", "md", []float32{1, 0, 0}),
		point("far", "d1", "md", []float32{0, 1, 0}),
	}))

	results, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 10, 0.5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].ChunkID)
}

func TestMemorySearchFilters(t *testing.T) {
	m := newTestStore()
	ctx := t.Context()

	require.NoError(t, m.UpsertVectors(ctx, []Point{
		point("c1", "d1", "md", []float32{1, 0, 0}),
		point("c2", "d2", "pdf", []float32{1, 0.01, 0}),
		point("c3", "d3", "md", []float32{1, 0.02, 0}),
	}))

	byDoc, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 10, 0,
		&Filters{DocumentIDs: []string{"d2"}})
	require.NoError(t, err)
	require.Len(t, byDoc, 1)
	assert.Equal(t, "c2", byDoc[0].ChunkID)

	byType, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 10, 0,
		&Filters{FileTypes: []string{"md"}})
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	both, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 10, 0,
		&Filters{DocumentIDs: []string{"d2"}, FileTypes: []string{"md"}})
	require.NoError(t, err)
	assert.Empty(t, both, "filters must AND together")
}

func TestMemoryDeleteByDocument(t *testing.T) {
	m := newTestStore()
	ctx := t.Context()

	require.NoError(t, m.UpsertVectors(ctx, []Point{
		point("c1", "d1", "md", []float32{1, 0, 0}),
		point("c2", "d1", "md", []float32{0.9, 0.1, 0}),
		point("c3", "d2", "md", []float32{0.8, 0.2, 0}),
	}))
	require.NoError(t, m.DeleteVectorsByDocumentID(ctx, "d1"))

	assert.Equal(t, 1, m.Len())
	results, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 10, 0,
		&Filters{DocumentIDs: []string{"d1"}})
	require.NoError(t, err)
	assert.Empty(t, results, "deleted document must not match")

	all, err := m.SearchVectors(ctx, []float32{1, 0, 0}, 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c3", all[0].ChunkID)
}

func TestMemoryUpsertReplacesByID(t *testing.T) {
	m := newTestStore()
	ctx := t.Context()

	require.NoError(t, m.UpsertVectors(ctx, []Point{point("c1", "d1", "md", []float32{1, 0, 0})}))
	require.NoError(t, m.UpsertVectors(ctx, []Point{point("c1", "d1", "md", []float32{0, 1, 0})}))

	assert.Equal(t, 1, m.Len())
	results, err := m.SearchVectors(ctx, []float32{0, 1, 0}, 1, 0.9, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
}

func TestMemoryDimensionMismatch(t *testing.T) {
	m := newTestStore()
	ctx := t.Context()

	err := m.UpsertVectors(ctx, []Point{point("c1", "d1", "md", []float32{1, 0})})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))

	_, err = m.SearchVectors(ctx, []float32{1, 0}, 5, 0, nil)
	require.Error(t, err)
}

func TestMemoryEmptyIndex(t *testing.T) {
	m := newTestStore()
	results, err := m.SearchVectors(t.Context(), []float32{1, 0, 0}, 5, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
