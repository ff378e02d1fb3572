package verify

import (
	"context"
	"fmt"
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
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() config.VerificationConfig {
	return config.VerificationConfig{
		Enabled:            true,
		RelevanceThreshold: 0.6,
		GroundingThreshold: 0.7,
		MaxParallelCalls:   3,
		CacheTTL:           time.Minute,
	}
}

// scriptLLM answers each call through fn and counts invocations.
type scriptLLM struct {
	mu    sync.Mutex
	calls int
	fn    func(req llm.CompletionRequest) (string, error)
}

func (s *scriptLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	content, err := s.fn(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResult{Content: content, Model: "test-model"}, nil
}

func (s *scriptLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func result(id, content string, score float64) model.SearchResult {
	return model.SearchResult{
		ChunkID:  id,
		Content:  content,
		Score:    score,
		Filename: id + ".txt",
	}
}

func TestRelevanceFilterScoresSortsAndDropsBelowThreshold(t *testing.T) {
	scores := map[string]float64{"alpha": 0.9, "beta": 0.3, "gamma": 0.7}
	client := &scriptLLM{fn: func(req llm.CompletionRequest) (string, error) {
		for marker, score := range scores {
			if strings.Contains(req.Prompt, marker) {
				return fmt.Sprintf(`{"score": %g, "explanation": "about %s"}`, score, marker), nil
			}
		}
		return "", errors.Internal("unexpected prompt", nil)
	}}

	f := NewRelevanceFilter(client, testConfig(), testLogger())
	kept := f.Filter(t.Context(), "what is alpha", []model.SearchResult{
		result("c1", "alpha text", 0.5),
		result("c2", "beta text", 0.5),
		result("c3", "gamma text", 0.5),
	})

	require.Len(t, kept, 2)
	assert.Equal(t, "c1", kept[0].Result.ChunkID)
	assert.InDelta(t, 0.9, kept[0].Score, 1e-9)
	assert.Equal(t, "about alpha", kept[0].Explanation)
	assert.Equal(t, "c3", kept[1].Result.ChunkID)
	assert.InDelta(t, 0.7, kept[1].Score, 1e-9)
}

func TestRelevanceFilterExtractsNumericScoreFromProse(t *testing.T) {
	client := &scriptLLM{fn: func(llm.CompletionRequest) (string, error) {
		return "I would rate the relevance at 0.8 overall.", nil
	}}

	f := NewRelevanceFilter(client, testConfig(), testLogger())
	kept := f.Filter(t.Context(), "question", []model.SearchResult{result("c1", "text", 0.2)})

	require.Len(t, kept, 1)
	assert.InDelta(t, 0.8, kept[0].Score, 1e-9)
}

func TestRelevanceFilterFallsBackToVectorScore(t *testing.T) {
	client := &scriptLLM{fn: func(llm.CompletionRequest) (string, error) {
		return "", errors.Transient("gateway down", nil)
	}}

	f := NewRelevanceFilter(client, testConfig(), testLogger())
	kept := f.Filter(t.Context(), "question", []model.SearchResult{
		result("c1", "good", 0.65),
		result("c2", "weak", 0.4),
		result("c3", "fallback sentinel", -1),
	})

	require.Len(t, kept, 1)
	assert.Equal(t, "c1", kept[0].Result.ChunkID)
	assert.InDelta(t, 0.65, kept[0].Score, 1e-9)
}

func TestRelevanceFilterCachesScores(t *testing.T) {
	client := &scriptLLM{fn: func(llm.CompletionRequest) (string, error) {
		return `{"score": 0.9, "explanation": "cached"}`, nil
	}}

	f := NewRelevanceFilter(client, testConfig(), testLogger())
	results := []model.SearchResult{result("c1", "text", 0.5)}

	f.Filter(t.Context(), "same question", results)
	f.Filter(t.Context(), "same question", results)
	assert.Equal(t, 1, client.callCount())

	// A different question misses the cache.
	f.Filter(t.Context(), "other question", results)
	assert.Equal(t, 2, client.callCount())
}

func TestParseRelevance(t *testing.T) {
	score, explanation, ok := parseRelevance(`{"score": 0.75, "explanation": "solid match"}`)
	require.True(t, ok)
	assert.InDelta(t, 0.75, score, 1e-9)
	assert.Equal(t, "solid match", explanation)

	// Out-of-range scores clamp.
	score, _, ok = parseRelevance(`{"score": 3.5}`)
	require.True(t, ok)
	assert.InDelta(t, 1.0, score, 1e-9)

	_, _, ok = parseRelevance("no usable signal here")
	assert.False(t, ok)
}

func groundingChunks() []model.ScoredChunk {
	return []model.ScoredChunk{
		{Result: result("c1", "RAG combines retrieval with generation.", 0.9), Score: 0.9},
		{Result: result("c2", "Unrelated trivia.", 0.7), Score: 0.7},
	}
}

func TestGroundingVerifierParsesResponse(t *testing.T) {
	client := &scriptLLM{fn: func(llm.CompletionRequest) (string, error) {
		return `Sure, here is the verdict:
{"groundingScore": 0.9, "isGrounded": true,
 "supportedClaims": ["RAG combines retrieval with generation"],
 "unsupportedClaims": [],
 "citations": [
   {"chunkIndex": 0, "quote": "RAG combines retrieval", "relevanceScore": 0.95},
   {"chunkIndex": 5, "quote": "ghost", "relevanceScore": 0.5}
 ]}`, nil
	}}

	v := NewGroundingVerifier(client, 0.7, time.Minute, testLogger())
	got := v.Verify(t.Context(), "What is RAG?", "RAG combines retrieval with generation.", groundingChunks())

	assert.InDelta(t, 0.9, got.GroundingScore, 1e-9)
	assert.True(t, got.IsGrounded)
	assert.Equal(t, []string{"RAG combines retrieval with generation"}, got.SupportedClaims)

	// The out-of-range citation is gone; the valid one carries chunk identity.
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "c1", got.Citations[0].ChunkID)
	assert.Equal(t, "c1.txt", got.Citations[0].Filename)
	assert.Equal(t, "RAG combines retrieval", got.Citations[0].Quote)
}

func TestGroundingForcedUngroundedBelowThreshold(t *testing.T) {
	client := &scriptLLM{fn: func(llm.CompletionRequest) (string, error) {
		return `{"groundingScore": 0.5, "isGrounded": true, "citations": []}`, nil
	}}

	v := NewGroundingVerifier(client, 0.7, time.Minute, testLogger())
	got := v.Verify(t.Context(), "q", "a", groundingChunks())

	assert.InDelta(t, 0.5, got.GroundingScore, 1e-9)
	assert.False(t, got.IsGrounded)
}

func TestGroundingConservativeDefaultOnFailure(t *testing.T) {
	for name, fn := range map[string]func(llm.CompletionRequest) (string, error){
		"llm error":    func(llm.CompletionRequest) (string, error) { return "", errors.Transient("down", nil) },
		"no json":      func(llm.CompletionRequest) (string, error) { return "I cannot verify this.", nil },
		"invalid json": func(llm.CompletionRequest) (string, error) { return `{"groundingScore": "high"}`, nil },
	} {
		t.Run(name, func(t *testing.T) {
			v := NewGroundingVerifier(&scriptLLM{fn: fn}, 0.7, time.Minute, testLogger())
			got := v.Verify(t.Context(), "q", "a", groundingChunks())

			assert.InDelta(t, 0.5, got.GroundingScore, 1e-9)
			assert.False(t, got.IsGrounded)
			assert.Equal(t, []string{"Verification failed"}, got.UnsupportedClaims)
		})
	}
}

func TestGroundingRequestsDoubledTimeout(t *testing.T) {
	var gotTimeout time.Duration
	client := &scriptLLM{fn: func(req llm.CompletionRequest) (string, error) {
		gotTimeout = req.Timeout
		return `{"groundingScore": 0.8, "isGrounded": true}`, nil
	}}

	p := NewPipeline(client, testConfig(), 30*time.Second, testLogger())
	p.QuickVerify(t.Context(), "q", "a", []model.SearchResult{result("c1", "text", 0.9)})

	assert.Equal(t, time.Minute, gotTimeout)
}

func TestPipelineDisabledReturnsNeutralVerdict(t *testing.T) {
	client := &scriptLLM{fn: func(llm.CompletionRequest) (string, error) {
		return "", errors.Internal("must not be called", nil)
	}}
	cfg := testConfig()
	cfg.Enabled = false

	p := NewPipeline(client, cfg, 30*time.Second, testLogger())
	results := []model.SearchResult{result("c1", "text", 0.9)}

	out := p.RunPipeline(t.Context(), "q", "a", results)
	assert.InDelta(t, 1.0, out.Verification.GroundingScore, 1e-9)
	assert.True(t, out.Verification.IsGrounded)
	assert.Empty(t, out.Verification.Citations)
	assert.Len(t, out.FilteredChunks, 1)

	quick := p.QuickVerify(t.Context(), "q", "a", results)
	assert.True(t, quick.IsGrounded)
	assert.Zero(t, client.callCount())
}

func TestRunPipelineFiltersThenVerifies(t *testing.T) {
	var relevanceCalls, groundingCalls int
	var mu sync.Mutex
	client := &scriptLLM{fn: func(req llm.CompletionRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if strings.Contains(req.SystemPrompt, "relevant to a question") {
			relevanceCalls++
			if strings.Contains(req.Prompt, "noise") {
				return `{"score": 0.1}`, nil
			}
			return `{"score": 0.9}`, nil
		}
		groundingCalls++
		// The low-relevance chunk must not reach the grounding prompt.
		assert.NotContains(t, req.Prompt, "noise")
		return `{"groundingScore": 0.85, "isGrounded": true,
			"citations": [{"chunkIndex": 0, "quote": "signal", "relevanceScore": 0.9}]}`, nil
	}}

	p := NewPipeline(client, testConfig(), 30*time.Second, testLogger())
	out := p.RunPipeline(t.Context(), "question", "answer", []model.SearchResult{
		result("c1", "signal text", 0.8),
		result("c2", "noise text", 0.8),
	})

	assert.Equal(t, 2, relevanceCalls)
	assert.Equal(t, 1, groundingCalls)
	require.Len(t, out.FilteredChunks, 1)
	assert.Equal(t, "c1", out.FilteredChunks[0].Result.ChunkID)
	assert.True(t, out.Verification.IsGrounded)
	require.Len(t, out.Verification.Citations, 1)
	assert.Equal(t, "c1", out.Verification.Citations[0].ChunkID)
}

func TestQuickVerifySkipsRelevanceFiltering(t *testing.T) {
	client := &scriptLLM{fn: func(req llm.CompletionRequest) (string, error) {
		require.Contains(t, req.SystemPrompt, "supported by the provided excerpts")
		return `{"groundingScore": 0.8, "isGrounded": true}`, nil
	}}

	p := NewPipeline(client, testConfig(), 30*time.Second, testLogger())
	got := p.QuickVerify(t.Context(), "q", "a", []model.SearchResult{
		result("c1", "text one", 0.9),
		result("c2", "text two", 0.8),
	})

	assert.True(t, got.IsGrounded)
	assert.Equal(t, 1, client.callCount())
}
