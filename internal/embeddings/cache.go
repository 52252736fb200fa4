package embeddings

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// cachedProvider memoizes embeddings per input string. Alignment runs embed
// the same vulnerability type names over and over, so even a small cache
// removes most provider calls in a batch.
type cachedProvider struct {
	base  Provider
	cache *lru.Cache[string, []float32]
}

// NewCached wraps a provider with an LRU cache of the given size.
func NewCached(base Provider, size int) Provider {
	if base == nil {
		return nil
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return base
	}
	return &cachedProvider{base: base, cache: cache}
}

func (p *cachedProvider) Name() string    { return p.base.Name() }
func (p *cachedProvider) Dimensions() int { return p.base.Dimensions() }

func (p *cachedProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	var missing []string
	var missingIdx []int
	for i, in := range inputs {
		if v, ok := p.cache.Get(in); ok {
			out[i] = v
			continue
		}
		missing = append(missing, in)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := p.base.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vecs {
		p.cache.Add(missing[j], v)
		out[missingIdx[j]] = v
	}
	return out, nil
}
