package search

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/sanitize"
)

const (
	hydeCacheSize   = 500
	hydeMinQueryLen = 15
	hydeMinPassage  = 50
	hydeTemperature = 0.5
	hydeMaxTokens   = 400
	hydeSystem      = "You write a short, factual passage that would plausibly appear in a " +
		"document answering the user's question. Write the passage only."
)

// Simple lookups embed fine as-is; generating a passage for them wastes a
// gateway call.
var simpleLookupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^what is (a |the )?[\w\s-]+\??$`),
	regexp.MustCompile(`(?i)^who is\b`),
	regexp.MustCompile(`(?i)^where is\b`),
	regexp.MustCompile(`(?i)^when (was|did|is)\b`),
}

// Complex questions benefit from a hypothetical passage. Thai prefixes
// cover how-to/steps/fix/explain phrasings.
var complexQueryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhow (do|to|can|should)\b`),
	regexp.MustCompile(`(?i)\bwhy\b`),
	regexp.MustCompile(`(?i)\b(explain|describe|compare)\b`),
	regexp.MustCompile(`(?i)\b(troubleshoot|fix|solve|resolve)\b`),
	regexp.MustCompile(`(?i)\bbest (practice|way)\b`),
	regexp.MustCompile(`(?i)\bdifference between\b`),
	regexp.MustCompile(`(?i)\bsteps to\b`),
	regexp.MustCompile(`^(วิธี|ขั้นตอน|แก้ไข|อธิบาย)`),
}

// HyDE implements Hypothetical Document Embedding: for complex queries,
// embed an LLM-generated candidate answer instead of the raw question.
type HyDE struct {
	llm     llm.Client
	cache   *lru.Cache[string, string]
	enabled atomic.Bool
	logger  *slog.Logger
}

// NewHyDE builds the generator.
func NewHyDE(client llm.Client, enabled bool, logger *slog.Logger) *HyDE {
	cache, _ := lru.New[string, string](hydeCacheSize)
	h := &HyDE{
		llm:    client,
		cache:  cache,
		logger: logger.With("component", "hyde"),
	}
	h.enabled.Store(enabled)
	return h
}

// ShouldUse decides whether a query gets the HyDE treatment: never when
// disabled or trivially short, never for simple lookups, always for
// complex question shapes, otherwise only for queries over five tokens.
func (h *HyDE) ShouldUse(query string) bool {
	if !h.enabled.Load() {
		return false
	}
	query = strings.TrimSpace(query)
	if len(query) < hydeMinQueryLen {
		return false
	}

	for _, p := range simpleLookupPatterns {
		if p.MatchString(query) {
			return false
		}
	}
	for _, p := range complexQueryPatterns {
		if p.MatchString(query) {
			return true
		}
	}
	return len(strings.Fields(query)) > 5
}

// Generate returns a hypothetical passage for the query, or the sanitized
// query itself when generation fails or produces too little text.
func (h *HyDE) Generate(ctx context.Context, query string) string {
	sanitized := sanitize.Query(query)
	if sanitized == "" {
		return query
	}

	if cached, ok := h.cache.Get(sanitized); ok {
		return cached
	}

	result, err := h.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       "Question: " + sanitized,
		SystemPrompt: hydeSystem,
		Temperature:  hydeTemperature,
		MaxTokens:    hydeMaxTokens,
	})
	if err != nil {
		h.logger.Warn("hyde generation failed", "error", err)
		return sanitized
	}

	passage := strings.TrimSpace(result.Content)
	if len(passage) <= hydeMinPassage {
		return sanitized
	}

	h.cache.Add(sanitized, passage)
	return passage
}

// SetEnabled toggles HyDE at runtime.
func (h *HyDE) SetEnabled(enabled bool) {
	h.enabled.Store(enabled)
}

// ClearCache drops all cached passages.
func (h *HyDE) ClearCache() {
	h.cache.Purge()
}
