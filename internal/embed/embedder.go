// Package embed turns text into fixed-dimension vectors through the
// LiteLLM gateway, with batching, retry, and an optional LRU cache.
package embed

import (
	"context"
)

// Embedder is the embedding capability used by ingestion and retrieval.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedSingle embeds one text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	// Dimension is the configured vector dimension D.
	Dimension() int
}
