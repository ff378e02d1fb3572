package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/scribe-rag/scribe/internal/model"
)

// CreateCollection inserts a collection. Name must be unique.
func (s *Store) CreateCollection(ctx context.Context, col *model.Collection) error {
	if col.CreatedAt.IsZero() {
		col.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, description, color, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		col.ID, col.Name, col.Description, col.Color, col.CreatedAt)
	return classifyDBError("create collection", err)
}

const collectionQuery = `
	SELECT c.id, c.name, c.description, c.color, c.created_at,
		COUNT(d.id) AS document_count
	FROM collections c
	LEFT JOIN documents d ON d.collection_id = c.id`

// GetCollection fetches one collection with its document count.
func (s *Store) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	row := s.db.QueryRowContext(ctx, collectionQuery+" WHERE c.id = ? GROUP BY c.id", id)

	var col model.Collection
	err := row.Scan(&col.ID, &col.Name, &col.Description, &col.Color,
		&col.CreatedAt, &col.DocumentCount)
	if err != nil {
		return nil, classifyDBError("get collection", err)
	}
	return &col, nil
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]*model.Collection, error) {
	rows, err := s.db.QueryContext(ctx, collectionQuery+" GROUP BY c.id ORDER BY c.name")
	if err != nil {
		return nil, classifyDBError("list collections", err)
	}
	defer rows.Close()

	var cols []*model.Collection
	for rows.Next() {
		var col model.Collection
		if err := rows.Scan(&col.ID, &col.Name, &col.Description, &col.Color,
			&col.CreatedAt, &col.DocumentCount); err != nil {
			return nil, classifyDBError("list collections", err)
		}
		cols = append(cols, &col)
	}
	return cols, classifyDBError("list collections", rows.Err())
}

// DeleteCollection removes a collection; member documents keep existing
// with their collection_id cleared.
func (s *Store) DeleteCollection(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id)
	if err != nil {
		return classifyDBError("delete collection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyDBError("delete collection", sql.ErrNoRows)
	}
	return nil
}

// AssignDocumentToCollection moves a document into a collection, or out of
// any collection when collectionID is empty.
func (s *Store) AssignDocumentToCollection(ctx context.Context, documentID, collectionID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE documents SET collection_id = ?, updated_at = ? WHERE id = ?",
		nullString(collectionID), time.Now().UTC(), documentID)
	if err != nil {
		return classifyDBError("assign document to collection", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return classifyDBError("assign document to collection", sql.ErrNoRows)
	}
	return nil
}
