package verify

import (
	"context"
	"log/slog"
	"time"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/model"
)

// Pipeline composes relevance filtering and grounding verification.
type Pipeline struct {
	relevance *RelevanceFilter
	grounding *GroundingVerifier
	enabled   bool
	logger    *slog.Logger
}

// PipelineResult is what RunPipeline produces: the chunks that passed the
// relevance filter and the grounding verdict computed against them.
type PipelineResult struct {
	FilteredChunks []model.ScoredChunk
	Verification   *model.VerificationResult
}

// NewPipeline wires the verification stages. Grounding prompts carry the
// full evidence set, so they run under double the standard LLM timeout.
func NewPipeline(client llm.Client, cfg config.VerificationConfig, llmTimeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		relevance: NewRelevanceFilter(client, cfg, logger),
		grounding: NewGroundingVerifier(client, cfg.GroundingThreshold, 2*llmTimeout, logger),
		enabled:   cfg.Enabled,
		logger:    logger.With("component", "verify"),
	}
}

// RunPipeline filters search results by relevance, then verifies the
// answer against the kept chunks. When verification is disabled both
// stages are skipped and a neutral verdict comes back instantly.
func (p *Pipeline) RunPipeline(ctx context.Context, question, answer string, results []model.SearchResult) *PipelineResult {
	if !p.enabled {
		return &PipelineResult{
			FilteredChunks: asScored(results),
			Verification:   neutralResult(),
		}
	}

	kept := p.relevance.Filter(ctx, question, results)
	verification := p.grounding.Verify(ctx, question, answer, kept)
	return &PipelineResult{FilteredChunks: kept, Verification: verification}
}

// QuickVerify checks grounding against all results without relevance
// filtering.
func (p *Pipeline) QuickVerify(ctx context.Context, question, answer string, results []model.SearchResult) *model.VerificationResult {
	if !p.enabled {
		return neutralResult()
	}
	return p.grounding.Verify(ctx, question, answer, asScored(results))
}

// Enabled reports whether verification runs at all.
func (p *Pipeline) Enabled() bool {
	return p.enabled
}

func asScored(results []model.SearchResult) []model.ScoredChunk {
	scored := make([]model.ScoredChunk, len(results))
	for i, r := range results {
		scored[i] = model.ScoredChunk{Result: r, Score: vectorFallbackScore(r)}
	}
	return scored
}

// neutralResult is the verdict when verification is disabled.
func neutralResult() *model.VerificationResult {
	return &model.VerificationResult{GroundingScore: 1.0, IsGrounded: true}
}
