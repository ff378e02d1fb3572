// Package search is the retrieval pipeline: query enhancement (expansion
// or HyDE), embedding, ANN search, and optional cross-encoder reranking.
package search

import (
	"context"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/sanitize"
)

// Expander knobs. Queries longer than expandMaxInput are specific enough
// already and skip expansion.
const (
	expanderCacheSize    = 1000
	expandMaxInput       = 100
	expandMaxOutput      = 500
	expandTemperature    = 0.2
	expandMaxTokens      = 100
	expanderSystemPrompt = "You expand short search queries with related terms and synonyms " +
		"to improve document retrieval. Reply with the expanded query only, no explanations."
)

// Expander rewrites short queries with related terms via the LLM. It never
// fails: any error returns the sanitized input unchanged.
type Expander struct {
	llm     llm.Client
	cache   *lru.Cache[string, string]
	enabled atomic.Bool
	logger  *slog.Logger
}

// NewExpander builds a query expander.
func NewExpander(client llm.Client, enabled bool, logger *slog.Logger) *Expander {
	cache, _ := lru.New[string, string](expanderCacheSize)
	e := &Expander{
		llm:    client,
		cache:  cache,
		logger: logger.With("component", "expander"),
	}
	e.enabled.Store(enabled)
	return e
}

// Expand returns an expanded form of query, or the sanitized query when
// expansion is disabled, skipped, cached out, or fails.
func (e *Expander) Expand(ctx context.Context, query string) string {
	if !e.enabled.Load() || query == "" {
		return query
	}

	sanitized := sanitize.Query(query)
	if sanitized == "" {
		return query
	}
	if len(sanitized) > expandMaxInput {
		return sanitized
	}

	if cached, ok := e.cache.Get(sanitized); ok {
		return cached
	}

	result, err := e.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       "Expand this search query with related terms: " + sanitized,
		SystemPrompt: expanderSystemPrompt,
		Temperature:  expandTemperature,
		MaxTokens:    expandMaxTokens,
	})
	if err != nil {
		e.logger.Warn("query expansion failed", "error", err)
		return sanitized
	}

	expanded := sanitize.Query(result.Content)
	// An expansion that is shorter than the input, or absurdly long, is
	// noise; keep the original.
	if len(expanded) <= len(sanitized) || len(expanded) > expandMaxOutput {
		return sanitized
	}

	e.cache.Add(sanitized, expanded)
	return expanded
}

// SetEnabled toggles expansion at runtime.
func (e *Expander) SetEnabled(enabled bool) {
	e.enabled.Store(enabled)
}

// Enabled reports whether expansion is active.
func (e *Expander) Enabled() bool {
	return e.enabled.Load()
}

// ClearCache drops all cached expansions.
func (e *Expander) ClearCache() {
	e.cache.Purge()
}
