package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/arturoeanton/codequery/internal/port"
)

// WithCache wraps e with an expiring LRU keyed by model and text hash. It
// returns e unchanged when size or ttl is not positive.
func WithCache(e port.Embedder, size int, ttl time.Duration) port.Embedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &cachedEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type cachedEmbedder struct {
	next  port.Embedder
	cache *expirable.LRU[string, []float32]
}

func (c *cachedEmbedder) ModelName() string { return c.next.ModelName() }
func (c *cachedEmbedder) Dimension() int    { return c.next.Dimension() }

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if cached, ok := c.cache.Get(key); ok {
		slog.Debug("embedding cache hit", "model", c.next.ModelName())
		return cloneVector(cached), nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cloneVector(vec))
	return vec, nil
}

// EmbedBatch serves cached items locally and forwards only the misses, in
// their original order.
func (c *cachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int
	for i, text := range texts {
		if cached, ok := c.cache.Get(c.key(text)); ok {
			out[i] = cloneVector(cached)
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		if j >= len(missIdx) {
			break
		}
		out[missIdx[j]] = vec
		c.cache.Add(c.key(missTexts[j]), cloneVector(vec))
	}
	return out, nil
}

func (c *cachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + c.next.ModelName() + ":" + hex.EncodeToString(sum[:])
}

func cloneVector(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
