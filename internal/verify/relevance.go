// Package verify checks answers against their retrieved evidence: a
// relevance filter drops weakly related chunks, and a grounding verifier
// scores how well the answer is supported by what survived.
package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/sanitize"
)

const (
	relevanceTemperature = 0.1
	relevanceMaxTokens   = 200
	relevanceCacheSize   = 1000
	questionKeyPrefix    = 100

	relevanceSystemPrompt = "You judge whether a document excerpt is relevant to a question. " +
		`Reply with JSON only: {"score": <0.0-1.0>, "explanation": "<one sentence>"}`
)

// scoreExtractPattern pulls the first plausible score out of a response
// that is not valid JSON.
var scoreExtractPattern = regexp.MustCompile(`(?:0?\.\d+|[01](?:\.\d+)?)`)

// RelevanceFilter scores chunks against the question in parallel and keeps
// only those above the threshold.
type RelevanceFilter struct {
	llm         llm.Client
	cache       *expirable.LRU[string, model.ScoredChunk]
	threshold   float64
	maxParallel int
	logger      *slog.Logger
}

// NewRelevanceFilter builds a filter from verification config.
func NewRelevanceFilter(client llm.Client, cfg config.VerificationConfig, logger *slog.Logger) *RelevanceFilter {
	maxParallel := cfg.MaxParallelCalls
	if maxParallel <= 0 {
		maxParallel = 3
	}
	return &RelevanceFilter{
		llm:         client,
		cache:       expirable.NewLRU[string, model.ScoredChunk](relevanceCacheSize, nil, cfg.CacheTTL),
		threshold:   cfg.RelevanceThreshold,
		maxParallel: maxParallel,
		logger:      logger.With("component", "relevance"),
	}
}

// Filter scores every result against the question and returns the chunks
// with score >= threshold, best first. Scoring never fails: an unusable
// LLM response degrades to the vector similarity score.
func (f *RelevanceFilter) Filter(ctx context.Context, question string, results []model.SearchResult) []model.ScoredChunk {
	if len(results) == 0 {
		return nil
	}

	scored := make([]model.ScoredChunk, len(results))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxParallel)
	for i, r := range results {
		g.Go(func() error {
			scored[i] = f.scoreChunk(gctx, question, r)
			return nil
		})
	}
	_ = g.Wait()

	kept := make([]model.ScoredChunk, 0, len(scored))
	for _, s := range scored {
		if s.Score >= f.threshold {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })

	f.logger.Debug("relevance filter finished",
		"candidates", len(results), "kept", len(kept), "threshold", f.threshold)
	return kept
}

func (f *RelevanceFilter) scoreChunk(ctx context.Context, question string, result model.SearchResult) model.ScoredChunk {
	key := relevanceKey(question, result.ChunkID)
	if cached, ok := f.cache.Get(key); ok {
		cached.Result = result
		return cached
	}

	scored := model.ScoredChunk{Result: result, Score: vectorFallbackScore(result)}

	completion, err := f.llm.Complete(ctx, llm.CompletionRequest{
		Prompt: "Question: " + sanitize.Query(question) +
			"\n\nExcerpt:\n" + result.Content,
		SystemPrompt: relevanceSystemPrompt,
		Temperature:  relevanceTemperature,
		MaxTokens:    relevanceMaxTokens,
	})
	if err != nil {
		f.logger.Warn("relevance scoring failed, using vector score",
			"chunk_id", result.ChunkID, "error", err)
		return scored
	}

	if score, explanation, ok := parseRelevance(completion.Content); ok {
		scored.Score = score
		scored.Explanation = explanation
	}

	f.cache.Add(key, scored)
	return scored
}

// parseRelevance reads {"score": x, "explanation": s}, falling back to the
// first numeric token in the response.
func parseRelevance(raw string) (float64, string, bool) {
	var parsed struct {
		Score       float64 `json:"score"`
		Explanation string  `json:"explanation"`
	}
	if body, ok := extractJSONObject(raw); ok {
		if err := json.Unmarshal([]byte(body), &parsed); err == nil {
			return clamp01(parsed.Score), parsed.Explanation, true
		}
	}

	if m := scoreExtractPattern.FindString(raw); m != "" {
		if score, err := strconv.ParseFloat(m, 64); err == nil && score <= 1 {
			return clamp01(score), "", true
		}
	}
	return 0, "", false
}

// vectorFallbackScore reuses the similarity score when the LLM is
// unusable. Rerank fallback sentinels count as zero relevance.
func vectorFallbackScore(result model.SearchResult) float64 {
	if result.Score < 0 {
		return 0
	}
	return clamp01(result.Score)
}

func relevanceKey(question, chunkID string) string {
	q := question
	if len(q) > questionKeyPrefix {
		q = q[:questionKeyPrefix]
	}
	sum := sha256.Sum256([]byte(q + "|" + chunkID))
	return hex.EncodeToString(sum[:])
}

// extractJSONObject returns the span between the first "{" and the last
// "}", which survives prose and code fences around the JSON.
func extractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
