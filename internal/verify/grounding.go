package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/sanitize"
)

const (
	groundingTemperature = 0.1
	groundingMaxTokens   = 800

	groundingSystemPrompt = "You verify whether an answer is supported by the provided excerpts. " +
		"Reply with JSON only, exactly this shape: " +
		`{"groundingScore": <0.0-1.0>, "isGrounded": <bool>, ` +
		`"supportedClaims": [<string>], "unsupportedClaims": [<string>], ` +
		`"citations": [{"chunkIndex": <int>, "quote": <string>, "relevanceScore": <0.0-1.0>}]}`
)

// GroundingVerifier asks the LLM how well an answer is supported by its
// evidence chunks. Grounding prompts carry the full evidence set, so the
// call runs under double the standard gateway timeout.
type GroundingVerifier struct {
	llm       llm.Client
	threshold float64
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGroundingVerifier builds a verifier. timeout bounds the whole call
// for clients that do not enforce a per-call deadline of their own.
func NewGroundingVerifier(client llm.Client, threshold float64, timeout time.Duration, logger *slog.Logger) *GroundingVerifier {
	return &GroundingVerifier{
		llm:       client,
		threshold: threshold,
		timeout:   timeout,
		logger:    logger.With("component", "grounding"),
	}
}

// groundingResponse is the JSON shape the model must produce.
type groundingResponse struct {
	GroundingScore    float64  `json:"groundingScore"`
	IsGrounded        bool     `json:"isGrounded"`
	SupportedClaims   []string `json:"supportedClaims"`
	UnsupportedClaims []string `json:"unsupportedClaims"`
	Citations         []struct {
		ChunkIndex     int     `json:"chunkIndex"`
		Quote          string  `json:"quote"`
		RelevanceScore float64 `json:"relevanceScore"`
	} `json:"citations"`
}

// Verify scores the answer against chunks. An unusable LLM response yields
// the conservative default (score 0.5, not grounded) rather than an error.
func (v *GroundingVerifier) Verify(ctx context.Context, question, answer string, chunks []model.ScoredChunk) *model.VerificationResult {
	completion, err := v.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       v.buildPrompt(question, answer, chunks),
		SystemPrompt: groundingSystemPrompt,
		Temperature:  groundingTemperature,
		MaxTokens:    groundingMaxTokens,
		Timeout:      v.timeout,
	})
	if err != nil {
		v.logger.Warn("grounding verification failed", "error", err)
		return conservativeResult()
	}

	body, ok := extractJSONObject(completion.Content)
	if !ok {
		v.logger.Warn("grounding response contains no JSON")
		return conservativeResult()
	}
	var parsed groundingResponse
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		v.logger.Warn("grounding response is not valid JSON", "error", err)
		return conservativeResult()
	}

	result := &model.VerificationResult{
		GroundingScore:    clamp01(parsed.GroundingScore),
		IsGrounded:        parsed.IsGrounded,
		SupportedClaims:   parsed.SupportedClaims,
		UnsupportedClaims: parsed.UnsupportedClaims,
	}
	// A score below the threshold can never count as grounded, whatever
	// the model claims.
	if result.GroundingScore < v.threshold {
		result.IsGrounded = false
	}

	for _, c := range parsed.Citations {
		if c.ChunkIndex < 0 || c.ChunkIndex >= len(chunks) {
			v.logger.Debug("dropping citation with out-of-range chunk index",
				"chunk_index", c.ChunkIndex, "chunks", len(chunks))
			continue
		}
		source := chunks[c.ChunkIndex].Result
		result.Citations = append(result.Citations, model.Citation{
			ChunkID:        source.ChunkID,
			Filename:       source.Filename,
			Quote:          c.Quote,
			RelevanceScore: clamp01(c.RelevanceScore),
		})
	}

	return result
}

func (v *GroundingVerifier) buildPrompt(question, answer string, chunks []model.ScoredChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nAnswer to verify:\n%s\n\nExcerpts:\n",
		sanitize.Query(question), answer)
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] (%s)\n%s\n\n", i, c.Result.Filename, c.Result.Content)
	}
	return b.String()
}

// conservativeResult is the default when verification itself fails: not
// grounded, middling score, explicit marker claim.
func conservativeResult() *model.VerificationResult {
	return &model.VerificationResult{
		GroundingScore:    0.5,
		IsGrounded:        false,
		UnsupportedClaims: []string{"Verification failed"},
	}
}
