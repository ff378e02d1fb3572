// Package rerank scores (query, document) pairs through an external
// cross-encoder. Reranking is best-effort: on repeated failure the caller
// gets the original candidate order back with sentinel scores.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/errors"
)

// FallbackScore marks results that were not scored by the cross-encoder,
// either because reranking was unnecessary (candidates ≤ topN) or because
// every attempt failed. Real relevance scores are always ≥ 0.
const FallbackScore = -1

// Result is one reranked document reference.
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevanceScore"`
}

// Reranker is the cross-encoder capability.
type Reranker interface {
	// Rerank orders documents by relevance to query and returns the top n.
	// A result score < 0 means the cross-encoder did not score it.
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

// HTTPReranker calls a LiteLLM-compatible /rerank endpoint.
type HTTPReranker struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker builds a reranker from gateway configuration. The rerank
// endpoint lives under the gateway base URL.
func NewHTTPReranker(cfg config.GatewayConfig, logger *slog.Logger) *HTTPReranker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPReranker{
		endpoint: cfg.BaseURL + "/rerank",
		apiKey:   cfg.APIKey,
		model:    cfg.RerankerModel,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "rerank"),
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank orders documents by cross-encoder relevance. When the candidate
// set already fits in topN the call is skipped and the original order comes
// back with FallbackScore. Transient failures are retried twice; after that
// the original order is returned with FallbackScore and no error.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 {
		topN = len(documents)
	}
	if len(documents) <= topN {
		return passthrough(len(documents)), nil
	}

	cfg := errors.RerankRetryConfig()
	cfg.OnRetry = func(attempt int, err error) {
		r.logger.Warn("retrying rerank", "attempt", attempt, "error", err)
	}

	results, err := errors.RetryWithResult(ctx, cfg, func() ([]Result, error) {
		return r.call(ctx, query, documents, topN)
	})
	if err != nil {
		r.logger.Warn("rerank failed, falling back to original order",
			"documents", len(documents), "error", err)
		return passthrough(topN), nil
	}
	return results, nil
}

func (r *HTTPReranker) call(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     r.model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, errors.Internal("marshal rerank request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Internal("build rerank request", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Transient("rerank request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Transient(fmt.Sprintf("rerank returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, errors.Upstream(fmt.Sprintf("rerank rejected with status %d", resp.StatusCode), nil)
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, errors.Transient("decode rerank response", err)
	}
	if len(rr.Results) == 0 {
		return nil, errors.Transient("rerank returned no results", nil)
	}

	results := make([]Result, 0, len(rr.Results))
	for _, item := range rr.Results {
		if item.Index < 0 || item.Index >= len(documents) {
			continue
		}
		results = append(results, Result{Index: item.Index, RelevanceScore: item.RelevanceScore})
		if len(results) == topN {
			break
		}
	}
	if len(results) == 0 {
		return nil, errors.Transient("rerank returned only invalid indices", nil)
	}
	return results, nil
}

// passthrough returns the first n original indices with FallbackScore.
func passthrough(n int) []Result {
	results := make([]Result, n)
	for i := range results {
		results[i] = Result{Index: i, RelevanceScore: FallbackScore}
	}
	return results
}
