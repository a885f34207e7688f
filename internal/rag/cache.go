package rag

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize bounds the number of cached query vectors
const DefaultEmbeddingCacheSize = 1024

// CachedEmbedder memoizes embeddings by exact text in a bounded LRU.
// Safe for concurrent use.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with an LRU of the given size
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if inner == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// GetModel returns the wrapped model identifier
func (c *CachedEmbedder) GetModel() string {
	return c.inner.GetModel()
}

// GetDimension returns the wrapped vector dimension
func (c *CachedEmbedder) GetDimension() int {
	return c.inner.GetDimension()
}

// Len reports how many vectors are cached
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

// Embed serves cached vectors and forwards only the misses, in one call
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	records := make([]EmbeddingRecord, len(texts))
	var (
		missTexts []string
		missPos   []int
	)
	for i, text := range texts {
		if vec, ok := c.cache.Get(text); ok {
			records[i] = EmbeddingRecord{Text: text, Embedding: vec, Index: i, Model: c.inner.GetModel()}
			continue
		}
		missTexts = append(missTexts, text)
		missPos = append(missPos, i)
	}

	if len(missTexts) == 0 {
		return records, nil
	}

	fresh, err := c.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(missTexts), len(fresh))
	}

	for j, rec := range fresh {
		pos := missPos[j]
		c.cache.Add(missTexts[j], rec.Embedding)
		rec.Text = texts[pos]
		rec.Index = pos
		records[pos] = rec
	}

	return records, nil
}
