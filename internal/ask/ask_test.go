package ask

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/llm"
	"github.com/scribe-rag/scribe/internal/model"
	"github.com/scribe-rag/scribe/internal/search"
	"github.com/scribe-rag/scribe/internal/vector"
	"github.com/scribe-rag/scribe/internal/verify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0, 0}
	}
	return out, nil
}

func (f fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vecs, _ := f.Embed(ctx, []string{text})
	return vecs[0], nil
}

func (fakeEmbedder) Dimension() int { return 4 }

type fakeVectors struct {
	results []model.SearchResult
}

func (f *fakeVectors) EnsureCollection(context.Context) error { return nil }

func (f *fakeVectors) UpsertVectors(context.Context, []vector.Point) error { return nil }

func (f *fakeVectors) DeleteVectorsByDocumentID(context.Context, string) error { return nil }

func (f *fakeVectors) Close() error { return nil }

func (f *fakeVectors) SearchVectors(_ context.Context, _ []float32, limit int, threshold float64, _ *vector.Filters) ([]model.SearchResult, error) {
	var out []model.SearchResult
	for _, r := range f.results {
		if r.Score >= threshold {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// scriptLLM dispatches on the system prompt so one fake serves answering,
// relevance scoring and grounding.
type scriptLLM struct {
	mu      sync.Mutex
	calls   int
	answer  string
	err     error
	lastAsk llm.CompletionRequest
}

func (s *scriptLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	switch {
	case strings.Contains(req.SystemPrompt, "relevant to a question"):
		return &llm.CompletionResult{Content: `{"score": 0.9}`, Model: "test-model"}, nil
	case strings.Contains(req.SystemPrompt, "supported by the provided excerpts"):
		return &llm.CompletionResult{
			Content: `{"groundingScore": 0.9, "isGrounded": true,
				"citations": [{"chunkIndex": 0, "quote": "RAG combines retrieval", "relevanceScore": 0.95}]}`,
			Model: "test-model",
		}, nil
	default:
		s.lastAsk = req
		return &llm.CompletionResult{
			Content: s.answer,
			Model:   "test-model",
			Usage:   model.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		}, nil
	}
}

func (s *scriptLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newService(t *testing.T, client llm.Client, results []model.SearchResult, withVerifier bool) *Service {
	t.Helper()

	engine := search.NewEngine(fakeEmbedder{}, &fakeVectors{results: results}, nil, nil, nil, nil,
		config.SearchConfig{Limit: 10, Threshold: 0.5},
		config.RerankingConfig{}, testLogger())

	var verifier *verify.Pipeline
	if withVerifier {
		verifier = verify.NewPipeline(client, config.VerificationConfig{
			Enabled:            true,
			RelevanceThreshold: 0.6,
			GroundingThreshold: 0.7,
			MaxParallelCalls:   3,
			CacheTTL:           time.Minute,
		}, 30*time.Second, testLogger())
	}
	return NewService(engine, client, verifier, testLogger())
}

func corpus() []model.SearchResult {
	return []model.SearchResult{
		{ChunkID: "c1", DocumentID: "d1", Content: "RAG combines retrieval with generation.",
			Score: 0.9, Filename: "rag.md"},
		{ChunkID: "c2", DocumentID: "d1", Content: "Chunking splits documents into pieces.",
			Score: 0.7, Filename: "rag.md"},
	}
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	svc := newService(t, &scriptLLM{}, nil, false)

	_, err := svc.Ask(t.Context(), Request{Question: "   "})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindValidation))
}

func TestAskWithoutEvidenceSkipsGateway(t *testing.T) {
	client := &scriptLLM{answer: "must not be used"}
	svc := newService(t, client, nil, false)

	answer, err := svc.Ask(t.Context(), Request{Question: "What is RAG?"})
	require.NoError(t, err)
	assert.Equal(t, noEvidenceAnswer, answer.Answer)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, client.callCount())
}

func TestAskAnswersFromEvidence(t *testing.T) {
	client := &scriptLLM{answer: "RAG combines retrieval with generation."}
	svc := newService(t, client, corpus(), false)

	answer, err := svc.Ask(t.Context(), Request{Question: "What is RAG?"})
	require.NoError(t, err)
	assert.Equal(t, "RAG combines retrieval with generation.", answer.Answer)
	assert.Equal(t, "test-model", answer.Model)
	assert.Equal(t, 120, answer.Usage.TotalTokens)
	assert.Len(t, answer.Sources, 2)
	assert.Equal(t, "What is RAG?", answer.Metadata.OriginalQuery)
	assert.Nil(t, answer.Verification)

	// The prompt carries the evidence with filenames and the question.
	assert.Contains(t, client.lastAsk.Prompt, "[1] rag.md")
	assert.Contains(t, client.lastAsk.Prompt, "RAG combines retrieval with generation.")
	assert.Contains(t, client.lastAsk.Prompt, "Question: What is RAG?")
}

func TestAskGroundedVerification(t *testing.T) {
	client := &scriptLLM{answer: "RAG combines retrieval with generation."}
	svc := newService(t, client, corpus(), true)

	answer, err := svc.Ask(t.Context(), Request{Question: "What is RAG?", Verify: true})
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Answer)

	require.NotNil(t, answer.Verification)
	assert.GreaterOrEqual(t, answer.Verification.GroundingScore, 0.7)
	assert.True(t, answer.Verification.IsGrounded)
	assert.InDelta(t, answer.Verification.GroundingScore, answer.Confidence, 1e-9)

	require.NotEmpty(t, answer.Verification.Citations)
	ids := map[string]bool{}
	for _, r := range corpus() {
		ids[r.ChunkID] = true
	}
	assert.True(t, ids[answer.Verification.Citations[0].ChunkID])
}

func TestAskVerifyFalseSkipsVerifier(t *testing.T) {
	client := &scriptLLM{answer: "An answer."}
	svc := newService(t, client, corpus(), true)

	answer, err := svc.Ask(t.Context(), Request{Question: "What is RAG?"})
	require.NoError(t, err)
	assert.Nil(t, answer.Verification)
	assert.Zero(t, answer.Confidence)
	assert.Equal(t, 1, client.callCount())
}

func TestAskPropagatesGatewayError(t *testing.T) {
	client := &scriptLLM{err: errors.Transient("gateway down", nil)}
	svc := newService(t, client, corpus(), false)

	_, err := svc.Ask(t.Context(), Request{Question: "What is RAG?"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindTransient))
}
