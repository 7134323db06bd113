package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors kept by CachedProvider.
// At 384 dimensions that is about 1.5 MB.
const DefaultCacheSize = 1000

// CachedProvider keeps recent vectors in an LRU keyed by model and text.
// Unchanged chunks re-embedded in watch mode and repeated queries skip
// the provider call.
type CachedProvider struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps inner with a cache of size entries.
func NewCachedProvider(inner Provider, size int) *CachedProvider {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedProvider{inner: inner, cache: cache}
}

func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// EmbedBatch serves cached texts and sends only the misses to the inner
// provider, in one call.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missText []string

	for i, text := range texts {
		if v, ok := c.cache.Get(c.key(text)); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missText = append(missText, text)
	}
	if len(missText) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missText)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		if j >= len(vecs) {
			break
		}
		out[i] = vecs[j]
		// Vectors of the wrong length are passed through but never cached.
		if len(vecs[j]) == c.inner.Dimensions() {
			c.cache.Add(c.key(texts[i]), vecs[j])
		}
	}
	return out, nil
}

// Len returns the number of cached vectors.
func (c *CachedProvider) Len() int { return c.cache.Len() }

// Inner returns the wrapped provider.
func (c *CachedProvider) Inner() Provider { return c.inner }

// Dimensions implements Provider.
func (c *CachedProvider) Dimensions() int { return c.inner.Dimensions() }

// ModelName implements Provider.
func (c *CachedProvider) ModelName() string { return c.inner.ModelName() }

// Available implements Provider.
func (c *CachedProvider) Available(ctx context.Context) bool { return c.inner.Available(ctx) }

// Close closes the inner provider.
func (c *CachedProvider) Close() error { return c.inner.Close() }
