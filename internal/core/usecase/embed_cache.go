package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/avbelov/findoc-qa/internal/core/ports"
)

// CachingEmbedder memoizes question embeddings by content hash. Reads are
// concurrent; singleflight guarantees a single writer per key so identical
// questions in flight share one embedder call.
type CachingEmbedder struct {
	inner      ports.Embedder
	maxEntries int

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string][]float32
}

func NewCachingEmbedder(inner ports.Embedder, maxEntries int) *CachingEmbedder {
	if maxEntries <= 0 {
		maxEntries = 512
	}
	return &CachingEmbedder{
		inner:      inner,
		maxEntries: maxEntries,
		cache:      make(map[string][]float32),
	}
}

func (c *CachingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := contentHash(text)

	c.mu.RLock()
	vector, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return vector, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.cache[key]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		computed, err := c.inner.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		// Full reset keeps the bound without an eviction policy; the
		// cache is cheap to refill.
		if len(c.cache) >= c.maxEntries {
			c.cache = make(map[string][]float32)
		}
		c.cache[key] = computed
		c.mu.Unlock()
		return computed, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]float32), nil
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
