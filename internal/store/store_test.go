package store

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDocument(path string) *model.Document {
	return &model.Document{
		ID:       uuid.NewString(),
		Filename: filepath.Base(path),
		Filepath: path,
		FileType: model.FileTypeMd,
		FileSize: 42,
		Checksum: "abc123",
		Status:   model.StatusProcessing,
		Metadata: map[string]any{"title": "Test"},
	}
}

func testChunks(docID string, n int) []model.Chunk {
	chunks := make([]model.Chunk, n)
	for i := range chunks {
		chunks[i] = model.Chunk{
			ID:          uuid.NewString(),
			DocumentID:  docID,
			Content:     "chunk content",
			ChunkIndex:  i,
			StartOffset: i * 10,
			EndOffset:   (i + 1) * 10,
			TokenCount:  3,
		}
	}
	return chunks
}

func TestDocumentRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	doc := testDocument("/docs/a.md")
	require.NoError(t, s.InsertDocument(ctx, doc))

	got, err := s.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Filepath, got.Filepath)
	assert.Equal(t, model.StatusProcessing, got.Status)
	assert.Equal(t, "Test", got.Metadata["title"])
	assert.Nil(t, got.IndexedAt)

	byPath, err := s.GetDocumentByPath(ctx, "/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, byPath.ID)
}

func TestDocumentFilepathUnique(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.InsertDocument(ctx, testDocument("/docs/a.md")))
	err := s.InsertDocument(ctx, testDocument("/docs/a.md"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConflict))
}

func TestGetDocumentNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetDocumentByID(t.Context(), uuid.NewString())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestUpdateDocumentPartial(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	doc := testDocument("/docs/a.md")
	require.NoError(t, s.InsertDocument(ctx, doc))

	indexed := model.StatusIndexed
	count := 7
	now := time.Now().UTC()
	require.NoError(t, s.UpdateDocument(ctx, doc.ID, DocumentUpdate{
		Status:     &indexed,
		ChunkCount: &count,
		IndexedAt:  &now,
		Tags:       []string{"network", "guide"},
	}))

	got, err := s.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusIndexed, got.Status)
	assert.Equal(t, 7, got.ChunkCount)
	assert.Equal(t, []string{"network", "guide"}, got.Tags)
	require.NotNil(t, got.IndexedAt)
	// Untouched fields survive.
	assert.Equal(t, "abc123", got.Checksum)
	assert.Equal(t, "Test", got.Metadata["title"])
}

func TestUpdateDocumentUnknownID(t *testing.T) {
	s := openTestStore(t)
	st := model.StatusFailed
	err := s.UpdateDocument(t.Context(), uuid.NewString(), DocumentUpdate{Status: &st})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestGetAllDocumentsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	older := testDocument("/docs/older.md")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	older.UpdatedAt = older.CreatedAt
	newer := testDocument("/docs/newer.md")

	require.NoError(t, s.InsertDocument(ctx, older))
	require.NoError(t, s.InsertDocument(ctx, newer))

	docs, err := s.GetAllDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "/docs/newer.md", docs[0].Filepath)
	assert.Equal(t, "/docs/older.md", docs[1].Filepath)
}

func TestChunkBatchRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	doc := testDocument("/docs/a.md")
	require.NoError(t, s.InsertDocument(ctx, doc))
	require.NoError(t, s.InsertChunks(ctx, testChunks(doc.ID, 5)))

	got, err := s.GetChunksByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, c := range got {
		assert.Equal(t, i, c.ChunkIndex, "chunks must come back in index order")
	}

	n, err := s.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestInsertChunksAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	doc := testDocument("/docs/a.md")
	require.NoError(t, s.InsertDocument(ctx, doc))

	chunks := testChunks(doc.ID, 3)
	chunks[2].ChunkIndex = 0 // violates (document_id, chunk_index) uniqueness

	err := s.InsertChunks(ctx, chunks)
	require.Error(t, err)

	n, err := s.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "failed batch must leave no partial rows")
}

func TestInsertChunksRequiresDocument(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertChunks(t.Context(), testChunks(uuid.NewString(), 1))
	require.Error(t, err, "foreign keys must be enforced")
}

func TestDeleteDocumentCascadesChunks(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	doc := testDocument("/docs/a.md")
	require.NoError(t, s.InsertDocument(ctx, doc))
	require.NoError(t, s.InsertChunks(ctx, testChunks(doc.ID, 4)))

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))

	_, err := s.GetDocumentByID(ctx, doc.ID)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	chunks, err := s.GetChunksByDocumentID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	doc := testDocument("/docs/a.md")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.InsertDocumentTx(ctx, tx, doc); err != nil {
			return err
		}
		return errors.Internal("boom", nil)
	})
	require.Error(t, err)

	_, err = s.GetDocumentByPath(ctx, doc.Filepath)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestCollectionsCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	col := &model.Collection{ID: uuid.NewString(), Name: "runbooks", Color: "#00aa88"}
	require.NoError(t, s.CreateCollection(ctx, col))

	dup := &model.Collection{ID: uuid.NewString(), Name: "runbooks"}
	err := s.CreateCollection(ctx, dup)
	assert.True(t, errors.IsKind(err, errors.KindConflict))

	doc := testDocument("/docs/a.md")
	require.NoError(t, s.InsertDocument(ctx, doc))
	require.NoError(t, s.AssignDocumentToCollection(ctx, doc.ID, col.ID))

	got, err := s.GetCollection(ctx, col.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.DocumentCount)

	list, err := s.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteCollection(ctx, col.ID))
	stillThere, err := s.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err, "documents outlive their collection")
	assert.Empty(t, stillThere.CollectionID)
}

func TestQueryLogInsertAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.InsertQueryLog(ctx, &model.QueryLog{
		Query:       "what is rag",
		QueryType:   "search",
		ResultCount: 3,
		TopScore:    0.87,
		LatencyMs:   120,
	}))

	logs, err := s.RecentQueryLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "what is rag", logs[0].Query)
	assert.NotEmpty(t, logs[0].ID)
}
