// Package telemetry records query analytics. Recording is fire-and-forget:
// failures are logged and never affect the request that triggered them.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/store"
)

// Query types written to the log.
const (
	TypeSearch = "search"
	TypeAsk    = "ask"
)

// Recorder appends query analytics to the metadata store.
type Recorder struct {
	meta   *store.Store
	logger *slog.Logger
}

// NewRecorder builds a recorder. meta may be nil, which turns recording
// into a no-op.
func NewRecorder(meta *store.Store, logger *slog.Logger) *Recorder {
	return &Recorder{meta: meta, logger: logger.With("component", "telemetry")}
}

// RecordSearch logs one retrieval call.
func (r *Recorder) RecordSearch(ctx context.Context, query, source string, results []model.SearchResult, latency time.Duration, meta map[string]any) {
	r.record(ctx, &model.QueryLog{
		Query:       query,
		QueryType:   TypeSearch,
		Source:      source,
		ResultCount: len(results),
		TopScore:    topScore(results),
		LatencyMs:   latency.Milliseconds(),
		Metadata:    meta,
	})
}

// RecordAsk logs one ask call.
func (r *Recorder) RecordAsk(ctx context.Context, query, source string, answer *model.Answer, latency time.Duration) {
	entry := &model.QueryLog{
		Query:     query,
		QueryType: TypeAsk,
		Source:    source,
		LatencyMs: latency.Milliseconds(),
	}
	if answer != nil {
		entry.ResultCount = len(answer.Sources)
		entry.TopScore = topScore(answer.Sources)
		entry.Metadata = map[string]any{
			"model":         answer.Model,
			"totalTokens":   answer.Usage.TotalTokens,
			"rerankUsed":    answer.Metadata.RerankUsed,
			"hydeUsed":      answer.Metadata.HydeUsed,
			"queryExpanded": answer.Metadata.QueryExpanded,
		}
		if answer.Verification != nil {
			entry.Metadata["groundingScore"] = answer.Verification.GroundingScore
		}
	}
	r.record(ctx, entry)
}

// Recent returns the newest n log entries.
func (r *Recorder) Recent(ctx context.Context, n int) ([]*model.QueryLog, error) {
	if r.meta == nil {
		return nil, nil
	}
	return r.meta.RecentQueryLogs(ctx, n)
}

func (r *Recorder) record(ctx context.Context, entry *model.QueryLog) {
	if r.meta == nil {
		return
	}
	if err := r.meta.InsertQueryLog(ctx, entry); err != nil {
		r.logger.Warn("query log write failed", "query_type", entry.QueryType, "error", err)
	}
}

func topScore(results []model.SearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	best := results[0].Score
	for _, r := range results[1:] {
		if r.Score > best {
			best = r.Score
		}
	}
	return best
}
