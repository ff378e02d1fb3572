package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/scribe-rag/scribe/internal/model"
)

// InsertQueryLog appends one analytics record. The core pipelines never
// read these back.
func (s *Store) InsertQueryLog(ctx context.Context, entry *model.QueryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(orEmptyMap(entry.Metadata))
	if err != nil {
		return classifyDBError("insert query log", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO query_logs (id, query, query_type, source, result_count,
			top_score, latency_ms, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Query, entry.QueryType, entry.Source, entry.ResultCount,
		entry.TopScore, entry.LatencyMs, string(meta), entry.CreatedAt)
	return classifyDBError("insert query log", err)
}

// RecentQueryLogs returns the newest n analytics records.
func (s *Store) RecentQueryLogs(ctx context.Context, n int) ([]*model.QueryLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, query_type, source, result_count, top_score,
			latency_ms, metadata, created_at
		FROM query_logs ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, classifyDBError("list query logs", err)
	}
	defer rows.Close()

	var logs []*model.QueryLog
	for rows.Next() {
		var (
			entry model.QueryLog
			meta  string
		)
		if err := rows.Scan(&entry.ID, &entry.Query, &entry.QueryType,
			&entry.Source, &entry.ResultCount, &entry.TopScore,
			&entry.LatencyMs, &meta, &entry.CreatedAt); err != nil {
			return nil, classifyDBError("list query logs", err)
		}
		if err := json.Unmarshal([]byte(meta), &entry.Metadata); err != nil {
			entry.Metadata = nil
		}
		logs = append(logs, &entry)
	}
	return logs, classifyDBError("list query logs", rows.Err())
}
