package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/scribe-rag/scribe/internal/model"
)

// InsertChunks writes a batch of chunks atomically. Either every chunk
// lands or none do.
func (s *Store) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, content, chunk_index,
				start_offset, end_offset, token_count, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return classifyDBError("insert chunks", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, c := range chunks {
			if c.CreatedAt.IsZero() {
				c.CreatedAt = now
			}
			meta, err := json.Marshal(orEmptyMap(c.Metadata))
			if err != nil {
				return classifyDBError("insert chunks", err)
			}
			if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Content,
				c.ChunkIndex, c.StartOffset, c.EndOffset, c.TokenCount,
				string(meta), c.CreatedAt); err != nil {
				return classifyDBError("insert chunks", err)
			}
		}
		return nil
	})
}

// GetChunksByDocumentID returns a document's chunks ordered by chunk_index.
func (s *Store) GetChunksByDocumentID(ctx context.Context, documentID string) ([]model.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content, chunk_index, start_offset,
			end_offset, token_count, metadata, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		documentID)
	if err != nil {
		return nil, classifyDBError("get chunks", err)
	}
	defer rows.Close()

	var chunks []model.Chunk
	for rows.Next() {
		var (
			c    model.Chunk
			meta string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex,
			&c.StartOffset, &c.EndOffset, &c.TokenCount, &meta, &c.CreatedAt); err != nil {
			return nil, classifyDBError("get chunks", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			c.Metadata = nil
		}
		chunks = append(chunks, c)
	}
	return chunks, classifyDBError("get chunks", rows.Err())
}

// GetChunkByID fetches a single chunk.
func (s *Store) GetChunkByID(ctx context.Context, id string) (*model.Chunk, error) {
	var (
		c    model.Chunk
		meta string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, content, chunk_index, start_offset,
			end_offset, token_count, metadata, created_at
		FROM chunks WHERE id = ?`, id).
		Scan(&c.ID, &c.DocumentID, &c.Content, &c.ChunkIndex,
			&c.StartOffset, &c.EndOffset, &c.TokenCount, &meta, &c.CreatedAt)
	if err != nil {
		return nil, classifyDBError("get chunk", err)
	}
	if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
		c.Metadata = nil
	}
	return &c, nil
}

// DeleteChunksByDocumentID removes a document's chunks.
func (s *Store) DeleteChunksByDocumentID(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID)
	return classifyDBError("delete chunks", err)
}

// CountChunks returns the number of chunks for a document.
func (s *Store) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chunks WHERE document_id = ?", documentID).Scan(&n)
	return n, classifyDBError("count chunks", err)
}
