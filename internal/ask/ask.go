// Package ask answers questions over the indexed corpus: retrieve
// evidence, prompt the LLM with it, optionally verify the answer against
// the evidence.
package ask

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/sanitize"
	"github.com/scribe-rag/scribe/internal/search"
	"github.com/scribe-rag/scribe/internal/verify"
)

const (
	// DefaultLimit is how many chunks back an answer by default.
	DefaultLimit = 5

	answerSystemPrompt = "You answer questions using only the provided excerpts. " +
		"If the excerpts do not contain the answer, say so. " +
		"Reference excerpts by their number when it helps."

	// noEvidenceAnswer is returned without a gateway call when retrieval
	// finds nothing above the threshold.
	noEvidenceAnswer = "I could not find relevant information in the indexed documents to answer this question."
)

// Request describes one ask call. Zero values take defaults.
type Request struct {
	Question    string
	Limit       int
	Threshold   float64
	Model       string
	Rerank      *bool
	Verify      bool
	DocumentIDs []string
	FileTypes   []string
}

// Service runs the ask pipeline.
type Service struct {
	engine   *search.Engine
	llm      llm.Client
	verifier *verify.Pipeline
	logger   *slog.Logger
}

// NewService wires the ask pipeline. verifier may be nil, which disables
// the Verify option.
func NewService(engine *search.Engine, client llm.Client, verifier *verify.Pipeline, logger *slog.Logger) *Service {
	return &Service{
		engine:   engine,
		llm:      client,
		verifier: verifier,
		logger:   logger.With("component", "ask"),
	}
}

// Ask retrieves evidence for the question, generates an answer from it,
// and optionally verifies the answer's grounding.
func (s *Service) Ask(ctx context.Context, req Request) (*model.Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, errors.Validation("question is empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	retrieved, err := s.engine.Search(ctx, search.Request{
		Query:       question,
		Limit:       limit,
		Threshold:   req.Threshold,
		Rerank:      req.Rerank,
		DocumentIDs: req.DocumentIDs,
		FileTypes:   req.FileTypes,
	})
	if err != nil {
		return nil, err
	}

	answer := &model.Answer{
		Sources: retrieved.Results,
		Metadata: model.AnswerMetadata{
			RerankUsed:    retrieved.RerankUsed,
			HydeUsed:      retrieved.HydeUsed,
			QueryExpanded: retrieved.QueryExpanded,
			OriginalQuery: question,
		},
	}

	if len(retrieved.Results) == 0 {
		answer.Answer = noEvidenceAnswer
		return answer, nil
	}

	completion, err := s.llm.Complete(ctx, llm.CompletionRequest{
		Prompt:       buildPrompt(question, retrieved.Results),
		SystemPrompt: answerSystemPrompt,
		Model:        req.Model,
	})
	if err != nil {
		return nil, err
	}

	answer.Answer = strings.TrimSpace(completion.Content)
	answer.Model = completion.Model
	answer.Usage = completion.Usage

	if req.Verify && s.verifier != nil {
		out := s.verifier.RunPipeline(ctx, question, answer.Answer, retrieved.Results)
		answer.Verification = out.Verification
		answer.Confidence = out.Verification.GroundingScore
	}

	s.logger.Info("question answered",
		"sources", len(answer.Sources),
		"verified", answer.Verification != nil,
		"duration_ms", time.Since(start).Milliseconds())
	return answer, nil
}

// buildPrompt numbers the evidence chunks with their source filenames.
func buildPrompt(question string, results []model.SearchResult) string {
	var b strings.Builder
	b.WriteString("Excerpts:\n\n")
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, r.Filename, r.Content)
	}
	fmt.Fprintf(&b, "Question: %s", sanitize.Query(question))
	return b.String()
}
