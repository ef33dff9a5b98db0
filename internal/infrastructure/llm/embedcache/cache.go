package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

const DefaultSize = 1000

// Embedder memoizes vectors per model and text. Batch calls only send the misses upstream.
// Callers always receive their own copy of a vector.
type Embedder struct {
	inner ports.Embedder
	model string
	cache *lru.Cache[string, []float32]
}

func New(inner ports.Embedder, model string, size int) *Embedder {
	if size <= 0 {
		size = DefaultSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &Embedder{inner: inner, model: model, cache: cache}
}

func (e *Embedder) key(text string) string {
	sum := sha256.Sum256([]byte(e.model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := e.key(text)
	if vec, ok := e.cache.Get(key); ok {
		return slices.Clone(vec), nil
	}
	vec, err := e.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Add(key, slices.Clone(vec))
	return vec, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))
	for i, text := range texts {
		if vec, ok := e.cache.Get(e.key(text)); ok {
			out[i] = slices.Clone(vec)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.inner.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embed returned %d vectors for %d inputs", len(vectors), len(missTexts))
	}
	for j, idx := range missIdx {
		out[idx] = vectors[j]
		e.cache.Add(e.key(texts[idx]), slices.Clone(vectors[j]))
	}
	return out, nil
}

func (e *Embedder) Len() int {
	return e.cache.Len()
}
