package embeddings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrDimsMismatch reports a provider whose native dimensionality differs from
// the configured EMBEDDING_DIMS. The mismatch is a configuration error: a
// drifted embedding model must be fixed or explicitly coerced, never silently
// reshaped into the store.
var ErrDimsMismatch = errors.New("embedding dimensions mismatch")

// Provider defines a simple embeddings provider interface.
// Implementations should be concurrency-safe.
type Provider interface {
	// Name returns the provider name (e.g., "openai", "ollama").
	Name() string
	// Dimensions returns the embedding dimensionality this provider produces.
	Dimensions() int
	// Embed returns one embedding per input string.
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// NewFromEnv constructs a provider based on environment variables.
// EMBEDDINGS_PROVIDER: "openai", "ollama", "localai", or empty for disabled
// (a nil provider with a nil error). The returned provider is wrapped with a
// circuit breaker, a rate limiter and an LRU result cache.
//
// When EMBEDDING_DIMS is set and the provider's native dimensionality
// differs, NewFromEnv fails with ErrDimsMismatch. Coercion is opt-in:
// EMBEDDINGS_ADAPT_MODE ("pad_or_truncate", "truncate", "pad") enables the
// dims adapter for models that cannot produce the configured size directly.
func NewFromEnv() (Provider, error) {
	name := strings.ToLower(strings.TrimSpace(os.Getenv("EMBEDDINGS_PROVIDER")))
	var base Provider
	switch name {
	case "openai":
		base = newOpenAIFromEnv()
	case "ollama":
		base = newOllamaFromEnv()
	case "localai", "llamacpp", "llama.cpp":
		base = newLocalAIFromEnv()
	default:
		return nil, nil
	}
	if base == nil {
		return nil, nil
	}
	if dims := envInt("EMBEDDING_DIMS", 0); dims > 0 && base.Dimensions() != dims {
		mode := strings.TrimSpace(os.Getenv("EMBEDDINGS_ADAPT_MODE"))
		if mode == "" {
			return nil, fmt.Errorf("%w: provider %s produces %d-dimensional embeddings but EMBEDDING_DIMS=%d (set EMBEDDINGS_ADAPT_MODE to coerce explicitly)",
				ErrDimsMismatch, base.Name(), base.Dimensions(), dims)
		}
		base = WrapToDims(base, dims, mode)
	}
	return NewCached(NewResilient(base), envInt("EMBEDDINGS_CACHE_SIZE", defaultCacheSize)), nil
}
