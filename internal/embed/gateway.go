package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"

	"github.com/scribe-rag/scribe/internal/config"
	"github.com/scribe-rag/scribe/internal/errors"
)

// BatchSize caps how many texts go into one gateway request. Larger inputs
// are split and the batches run in parallel.
const BatchSize = 32

// DefaultBatchTimeout bounds a single batch request.
const DefaultBatchTimeout = 30 * time.Second

// GatewayEmbedder calls the gateway's OpenAI-compatible embeddings API.
type GatewayEmbedder struct {
	model     string
	dimension int
	timeout   time.Duration
	logger    *slog.Logger

	// embedBatch performs one raw batch request. Split out so the batching,
	// retry, and integrity layers are testable without a gateway.
	embedBatch func(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (*GatewayEmbedder)(nil)

// NewGatewayEmbedder builds an embedder from gateway configuration.
// dimension is the required vector size D.
func NewGatewayEmbedder(cfg config.GatewayConfig, dimension int, logger *slog.Logger) *GatewayEmbedder {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openaisdk.NewClient(opts...)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultBatchTimeout
	}

	e := &GatewayEmbedder{
		model:     cfg.EmbeddingModel,
		dimension: dimension,
		timeout:   timeout,
		logger:    logger.With("component", "embed"),
	}
	e.embedBatch = func(ctx context.Context, texts []string) ([][]float32, error) {
		return requestEmbeddings(ctx, client, e.model, texts)
	}
	return e
}

// Dimension returns the configured vector size.
func (e *GatewayEmbedder) Dimension() int {
	return e.dimension
}

// Embed splits texts into batches of BatchSize, runs them in parallel with
// per-batch retry and timeout, and reassembles vectors in input order.
// The result always has exactly len(texts) vectors of dimension D.
func (e *GatewayEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches := splitBatches(texts, BatchSize)
	results := make([][][]float32, len(batches))

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			vecs, err := errors.RetryWithResult(gctx, e.retryConfig(i), func() ([][]float32, error) {
				bctx, cancel := context.WithTimeout(gctx, e.timeout)
				defer cancel()
				return e.embedBatch(bctx, batch)
			})
			if err != nil {
				return err
			}
			results[i] = vecs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range results {
		vectors = append(vectors, batch...)
	}
	if err := e.checkIntegrity(len(texts), vectors); err != nil {
		return nil, err
	}

	e.logger.Debug("embedded texts",
		"count", len(texts),
		"batches", len(batches),
		"duration_ms", time.Since(start).Milliseconds())
	return vectors, nil
}

// EmbedSingle embeds one text and returns its vector.
func (e *GatewayEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.Integrity("embedding failed: empty result")
	}
	return vectors[0], nil
}

func (e *GatewayEmbedder) retryConfig(batch int) errors.RetryConfig {
	cfg := errors.DefaultRetryConfig()
	cfg.OnRetry = func(attempt int, err error) {
		e.logger.Warn("retrying embedding batch", "batch", batch, "attempt", attempt, "error", err)
	}
	return cfg
}

// checkIntegrity enforces the count and dimension contract.
func (e *GatewayEmbedder) checkIntegrity(want int, vectors [][]float32) error {
	if len(vectors) != want {
		return errors.Integrity(fmt.Sprintf(
			"embedding count mismatch: expected %d, got %d", want, len(vectors)))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return errors.Integrity(fmt.Sprintf(
				"Embedding dimension mismatch: expected %d, got %d at index %d",
				e.dimension, len(v), i))
		}
	}
	return nil
}

// splitBatches slices texts into runs of at most size.
func splitBatches(texts []string, size int) [][]string {
	batches := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batches = append(batches, texts[start:end])
	}
	return batches
}

// requestEmbeddings performs one embeddings call. The server may return
// items out of order, so they are sorted by index before extraction.
func requestEmbeddings(ctx context.Context, client openaisdk.Client, model string, texts []string) ([][]float32, error) {
	resp, err := client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Integrity(fmt.Sprintf(
			"embedding count mismatch: expected %d, got %d", len(texts), len(resp.Data)))
	}

	data := make([]openaisdk.Embedding, len(resp.Data))
	copy(data, resp.Data)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, item := range data {
		vec := make([]float32, len(item.Embedding))
		for j, f := range item.Embedding {
			vec[j] = float32(f)
		}
		vectors[i] = vec
	}
	return vectors, nil
}
