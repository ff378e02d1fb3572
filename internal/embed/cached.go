package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the embedding cache by entry count.
const DefaultCacheSize = 2048

// CachedEmbedder wraps an Embedder with an LRU cache keyed by text hash.
// Repeated ingestion of unchanged chunks and repeated queries skip the
// gateway entirely.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner with a cache of the given capacity.
func NewCachedEmbedder(inner Embedder, capacity int, logger *slog.Logger) (*CachedEmbedder, error) {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		logger: logger.With("component", "embed_cache"),
	}, nil
}

// Dimension returns the wrapped embedder's dimension.
func (c *CachedEmbedder) Dimension() int {
	return c.inner.Dimension()
}

// Embed serves cached vectors and forwards only the misses to the inner
// embedder, preserving input order in the result.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var (
		missTexts   []string
		missIndices []int
	)
	for i, text := range texts {
		if vec, ok := c.cache.Get(cacheKey(text)); ok {
			vectors[i] = vec
			c.hits.Add(1)
			continue
		}
		missTexts = append(missTexts, text)
		missIndices = append(missIndices, i)
		c.misses.Add(1)
	}

	if len(missTexts) > 0 {
		fresh, err := c.inner.Embed(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, vec := range fresh {
			idx := missIndices[j]
			vectors[idx] = vec
			c.cache.Add(cacheKey(texts[idx]), vec)
		}
	}

	c.logger.Debug("embedding cache lookup",
		"total", len(texts), "misses", len(missTexts))
	return vectors, nil
}

// EmbedSingle embeds one text through the cache.
func (c *CachedEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Stats reports cache hit and miss counts since construction.
func (c *CachedEmbedder) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Purge drops every cached vector.
func (c *CachedEmbedder) Purge() {
	c.cache.Purge()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
