package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/embed"
	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/rerank"
	"github.com/scribe-rag/scribe/internal/store"
	"github.com/scribe-rag/scribe/internal/vector"
)

// Request describes one retrieval call. Zero values take config defaults.
type Request struct {
	Query string
	Limit int
	// Threshold 0 takes the config default; a negative value disables the
	// score floor entirely.
	Threshold   float64
	Rerank      *bool // nil follows config.reranking.enabled
	DocumentIDs []string
	FileTypes   []string
}

// Response carries the results plus which enhancements actually ran, so
// callers can tell a reranked order from a fallback.
type Response struct {
	Results        []model.SearchResult
	RerankUsed     bool
	HydeUsed       bool
	QueryExpanded  bool
	EffectiveQuery string
}

// Engine composes the retrieval pipeline.
type Engine struct {
	embedder  embed.Embedder
	vectors   vector.Store
	reranker  rerank.Reranker
	expander  *Expander
	hyde      *HyDE
	meta      *store.Store
	cfg       config.SearchConfig
	rerankCfg config.RerankingConfig
	logger    *slog.Logger
}

// NewEngine wires the retrieval pipeline. expander, hyde, reranker and
// meta may be nil; the corresponding stage is skipped.
func NewEngine(
	embedder embed.Embedder,
	vectors vector.Store,
	reranker rerank.Reranker,
	expander *Expander,
	hyde *HyDE,
	meta *store.Store,
	cfg config.SearchConfig,
	rerankCfg config.RerankingConfig,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		embedder:  embedder,
		vectors:   vectors,
		reranker:  reranker,
		expander:  expander,
		hyde:      hyde,
		meta:      meta,
		cfg:       cfg,
		rerankCfg: rerankCfg,
		logger:    logger.With("component", "search"),
	}
}

// Search runs the full retrieval pipeline. An empty query yields an empty
// response, not an error.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return &Response{}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.Limit
	}
	threshold := req.Threshold
	switch {
	case threshold < 0:
		threshold = 0
	case threshold == 0:
		threshold = e.cfg.Threshold
	}
	useRerank := e.rerankCfg.Enabled && e.reranker != nil
	if req.Rerank != nil {
		useRerank = *req.Rerank && e.reranker != nil
	}

	// Query enhancement. HyDE wins over expansion; the two never compose.
	resp := &Response{EffectiveQuery: query}
	embedText := query
	switch {
	case e.hyde != nil && e.hyde.ShouldUse(query):
		if passage := e.hyde.Generate(ctx, query); passage != query {
			embedText = passage
			resp.HydeUsed = true
		}
	case e.expander != nil && e.expander.Enabled():
		if expanded := e.expander.Expand(ctx, query); expanded != query {
			embedText = expanded
			resp.QueryExpanded = true
		}
	}
	resp.EffectiveQuery = embedText

	queryVector, err := e.embedder.EmbedSingle(ctx, embedText)
	if err != nil {
		return nil, err
	}

	candidateLimit := limit
	if useRerank {
		multiplier := e.rerankCfg.CandidateMultiplier
		if multiplier <= 1 {
			multiplier = 4
		}
		candidateLimit = limit * multiplier
	}

	filters := buildFilters(req)
	start := time.Now()
	candidates, err := e.vectors.SearchVectors(ctx, queryVector, candidateLimit, threshold, filters)
	if err != nil {
		return nil, err
	}

	results := candidates
	if useRerank && len(candidates) > limit {
		results, resp.RerankUsed = e.rerankCandidates(ctx, query, candidates, limit)
	}
	if len(results) > limit {
		results = results[:limit]
	}

	e.attachSummaries(ctx, results)
	resp.Results = results

	e.logger.Debug("search finished",
		"candidates", len(candidates),
		"results", len(results),
		"rerank_used", resp.RerankUsed,
		"hyde_used", resp.HydeUsed,
		"duration_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// rerankCandidates reorders candidates by cross-encoder score. The second
// return reports whether real scores came back; on fallback the original
// ANN order survives with sentinel scores.
func (e *Engine) rerankCandidates(ctx context.Context, query string, candidates []model.SearchResult, limit int) ([]model.SearchResult, bool) {
	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	ranked, err := e.reranker.Rerank(ctx, query, documents, limit)
	if err != nil || len(ranked) == 0 {
		e.logger.Warn("rerank unavailable, keeping vector order", "error", err)
		return candidates, false
	}

	results := make([]model.SearchResult, 0, len(ranked))
	rerankUsed := false
	for _, r := range ranked {
		c := candidates[r.Index]
		c.Score = r.RelevanceScore
		if r.RelevanceScore >= 0 {
			rerankUsed = true
		}
		results = append(results, c)
	}
	return results, rerankUsed
}

// FindSimilar returns chunks semantically close to an existing chunk,
// excluding the chunk itself.
func (e *Engine) FindSimilar(ctx context.Context, chunkID string, limit int) ([]model.SearchResult, error) {
	if e.meta == nil {
		return nil, errors.Internal("similar search requires the metadata store", nil)
	}
	if limit <= 0 {
		limit = e.cfg.Limit
	}

	chunk, err := e.meta.GetChunkByID(ctx, chunkID)
	if err != nil {
		return nil, err
	}

	queryVector, err := e.embedder.EmbedSingle(ctx, chunk.Content)
	if err != nil {
		return nil, err
	}

	// Oversample so the source chunk and its closest siblings do not crowd
	// out everything else.
	candidates, err := e.vectors.SearchVectors(ctx, queryVector, limit+10, 0, nil)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, limit)
	for _, c := range candidates {
		if c.ChunkID == chunkID {
			continue
		}
		results = append(results, c)
		if len(results) == limit {
			break
		}
	}
	e.attachSummaries(ctx, results)
	return results, nil
}

// attachSummaries fills DocumentSummary from the metadata store, one
// lookup per distinct document.
func (e *Engine) attachSummaries(ctx context.Context, results []model.SearchResult) {
	if e.meta == nil || len(results) == 0 {
		return
	}
	summaries := make(map[string]string)
	for i, r := range results {
		summary, seen := summaries[r.DocumentID]
		if !seen {
			doc, err := e.meta.GetDocumentByID(ctx, r.DocumentID)
			if err == nil {
				summary = doc.Summary
			}
			summaries[r.DocumentID] = summary
		}
		results[i].DocumentSummary = summary
	}
}

func buildFilters(req Request) *vector.Filters {
	if len(req.DocumentIDs) == 0 && len(req.FileTypes) == 0 {
		return nil
	}
	return &vector.Filters{
		DocumentIDs: req.DocumentIDs,
		FileTypes:   req.FileTypes,
	}
}
