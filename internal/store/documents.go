package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/scribe-rag/scribe/internal/model"
)

const documentColumns = `id, filename, filepath, file_type, file_size, mime_type,
	checksum, status, chunk_count, summary, tags, collection_id, metadata,
	created_at, updated_at, indexed_at`

// InsertDocument writes a new document row. CreatedAt/UpdatedAt are set
// here when zero.
func (s *Store) InsertDocument(ctx context.Context, doc *model.Document) error {
	return s.insertDocument(ctx, s.db, doc)
}

// InsertDocumentTx is InsertDocument inside a caller-owned transaction.
func (s *Store) InsertDocumentTx(ctx context.Context, tx *sql.Tx, doc *model.Document) error {
	return s.insertDocument(ctx, tx, doc)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) insertDocument(ctx context.Context, db execer, doc *model.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = now
	}

	tags, err := json.Marshal(orEmptySlice(doc.Tags))
	if err != nil {
		return classifyDBError("insert document", err)
	}
	meta, err := json.Marshal(orEmptyMap(doc.Metadata))
	if err != nil {
		return classifyDBError("insert document", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.Filepath, string(doc.FileType), doc.FileSize,
		doc.MimeType, doc.Checksum, string(doc.Status), doc.ChunkCount,
		doc.Summary, string(tags), nullString(doc.CollectionID), string(meta),
		doc.CreatedAt, doc.UpdatedAt, nullTime(doc.IndexedAt))
	return classifyDBError("insert document", err)
}

// DocumentUpdate is a partial update; nil fields stay unchanged.
type DocumentUpdate struct {
	Filename     *string
	FileSize     *int64
	MimeType     *string
	Checksum     *string
	Status       *model.DocumentStatus
	ChunkCount   *int
	Summary      *string
	Tags         []string
	CollectionID *string
	Metadata     map[string]any
	IndexedAt    *time.Time
}

// UpdateDocument applies a partial update and bumps updated_at.
func (s *Store) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error {
	return s.updateDocument(ctx, s.db, id, upd)
}

// UpdateDocumentTx is UpdateDocument inside a caller-owned transaction.
func (s *Store) UpdateDocumentTx(ctx context.Context, tx *sql.Tx, id string, upd DocumentUpdate) error {
	return s.updateDocument(ctx, tx, id, upd)
}

func (s *Store) updateDocument(ctx context.Context, db execer, id string, upd DocumentUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	if upd.Filename != nil {
		add("filename", *upd.Filename)
	}
	if upd.FileSize != nil {
		add("file_size", *upd.FileSize)
	}
	if upd.MimeType != nil {
		add("mime_type", *upd.MimeType)
	}
	if upd.Checksum != nil {
		add("checksum", *upd.Checksum)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.ChunkCount != nil {
		add("chunk_count", *upd.ChunkCount)
	}
	if upd.Summary != nil {
		add("summary", *upd.Summary)
	}
	if upd.Tags != nil {
		tags, err := json.Marshal(upd.Tags)
		if err != nil {
			return classifyDBError("update document", err)
		}
		add("tags", string(tags))
	}
	if upd.CollectionID != nil {
		add("collection_id", nullString(*upd.CollectionID))
	}
	if upd.Metadata != nil {
		meta, err := json.Marshal(upd.Metadata)
		if err != nil {
			return classifyDBError("update document", err)
		}
		add("metadata", string(meta))
	}
	if upd.IndexedAt != nil {
		add("indexed_at", *upd.IndexedAt)
	}

	args = append(args, id)
	res, err := db.ExecContext(ctx,
		fmt.Sprintf("UPDATE documents SET %s WHERE id = ?", strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return classifyDBError("update document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyDBError("update document", sql.ErrNoRows)
	}
	return nil
}

// GetDocumentByID fetches one document.
func (s *Store) GetDocumentByID(ctx context.Context, id string) (*model.Document, error) {
	return s.getDocument(ctx, s.db, "id = ?", id)
}

// GetDocumentByPath fetches the document at a canonical filepath.
func (s *Store) GetDocumentByPath(ctx context.Context, path string) (*model.Document, error) {
	return s.getDocument(ctx, s.db, "filepath = ?", path)
}

// GetDocumentByPathTx is GetDocumentByPath inside a caller-owned transaction.
func (s *Store) GetDocumentByPathTx(ctx context.Context, tx *sql.Tx, path string) (*model.Document, error) {
	return s.getDocument(ctx, tx, "filepath = ?", path)
}

func (s *Store) getDocument(ctx context.Context, db querier, where string, arg any) (*model.Document, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE "+where, arg)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, classifyDBError("get document", err)
	}
	return doc, nil
}

// GetAllDocuments returns every document, newest first.
func (s *Store) GetAllDocuments(ctx context.Context) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, classifyDBError("list documents", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classifyDBError("list documents", err)
		}
		docs = append(docs, doc)
	}
	return docs, classifyDBError("list documents", rows.Err())
}

// GetDocumentsByCollection returns the documents in one collection,
// newest first.
func (s *Store) GetDocumentsByCollection(ctx context.Context, collectionID string) ([]*model.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE collection_id = ? ORDER BY created_at DESC",
		collectionID)
	if err != nil {
		return nil, classifyDBError("list collection documents", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classifyDBError("list collection documents", err)
		}
		docs = append(docs, doc)
	}
	return docs, classifyDBError("list collection documents", rows.Err())
}

// DeleteDocument removes the document row; chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return classifyDBError("delete document", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyDBError("delete document", sql.ErrNoRows)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		doc          model.Document
		fileType     string
		status       string
		tags         string
		meta         string
		collectionID sql.NullString
		indexedAt    sql.NullTime
	)
	err := row.Scan(&doc.ID, &doc.Filename, &doc.Filepath, &fileType,
		&doc.FileSize, &doc.MimeType, &doc.Checksum, &status, &doc.ChunkCount,
		&doc.Summary, &tags, &collectionID, &meta,
		&doc.CreatedAt, &doc.UpdatedAt, &indexedAt)
	if err != nil {
		return nil, err
	}

	doc.FileType = model.FileType(fileType)
	doc.Status = model.DocumentStatus(status)
	if collectionID.Valid {
		doc.CollectionID = collectionID.String
	}
	if indexedAt.Valid {
		t := indexedAt.Time
		doc.IndexedAt = &t
	}
	if err := json.Unmarshal([]byte(tags), &doc.Tags); err != nil {
		doc.Tags = nil
	}
	if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
		doc.Metadata = nil
	}
	return &doc, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
