// Package store is the relational metadata layer: documents, chunks,
// collections, and query logs in SQLite. WAL journaling allows concurrent
// readers under a single writer; foreign keys cascade chunk deletion.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/scribe-rag/scribe/internal/errors"
)

// Store wraps the SQLite connection and owns the schema.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Internal("create database directory", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Internal("open sqlite database", err)
	}
	// modernc's driver serializes writes per connection; a single writer
	// connection avoids SQLITE_BUSY under concurrent ingestion.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Info("metadata store opened", "path", path)
	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return errors.Internal(fmt.Sprintf("apply %s", p), err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Internal("apply schema", err)
	}
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Internal("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Internal("commit transaction", err)
	}
	return nil
}

// classifyDBError maps driver errors onto the error taxonomy.
func classifyDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return errors.NotFound(op + ": not found")
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return errors.Conflict(op + ": already exists")
	}
	if strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return errors.Validation(op + ": referenced row does not exist")
	}
	return errors.New(errors.KindInternal, op, err)
}

const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	color       TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id            TEXT PRIMARY KEY,
	filename      TEXT NOT NULL,
	filepath      TEXT NOT NULL UNIQUE,
	file_type     TEXT NOT NULL,
	file_size     INTEGER NOT NULL DEFAULT 0,
	mime_type     TEXT NOT NULL DEFAULT '',
	checksum      TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'pending',
	chunk_count   INTEGER NOT NULL DEFAULT 0,
	summary       TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	collection_id TEXT REFERENCES collections(id) ON DELETE SET NULL,
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	indexed_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);

CREATE TABLE IF NOT EXISTS chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	content      TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	start_offset INTEGER NOT NULL DEFAULT 0,
	end_offset   INTEGER NOT NULL DEFAULT 0,
	token_count  INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TIMESTAMP NOT NULL,
	UNIQUE(document_id, chunk_index)
);

CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS query_logs (
	id           TEXT PRIMARY KEY,
	query        TEXT NOT NULL,
	query_type   TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	result_count INTEGER NOT NULL DEFAULT 0,
	top_score    REAL NOT NULL DEFAULT 0,
	latency_ms   INTEGER NOT NULL DEFAULT 0,
	metadata     TEXT NOT NULL DEFAULT '{}',
	created_at   TIMESTAMP NOT NULL
);
`
