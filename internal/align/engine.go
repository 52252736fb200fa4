package align

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
	"github.com/auditgraph/vulnalign-go/internal/embeddings"
	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

// DefaultThreshold is the cosine similarity at or above which a raw name is
// considered the same vulnerability class as an existing canonical entity.
const DefaultThreshold = 0.85

// EntityStore is the durable entity state the engine decides against.
// *database.Store satisfies it; tests substitute an in-memory fake.
type EntityStore interface {
	Snapshot(ctx context.Context) ([]apptype.CanonicalEntity, error)
	Insert(ctx context.Context, entity apptype.CanonicalEntity) (apptype.CanonicalEntity, error)
	AppendAlias(ctx context.Context, id int64, alias string) (int64, error)
}

// Engine reconciles free-form vulnerability type names into canonical
// entities. All decide-and-commit work happens under a single mutex, so two
// concurrent calls with near-identical names can never both conclude "no
// match" and create duplicate entities: the second caller re-reads a
// snapshot that already contains the first caller's entity.
type Engine struct {
	store     EntityStore
	provider  embeddings.Provider
	threshold float64

	mu sync.Mutex
}

// NewEngine builds an alignment engine. A non-positive threshold selects
// DefaultThreshold.
func NewEngine(store EntityStore, provider embeddings.Provider, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{store: store, provider: provider, threshold: threshold}
}

// Threshold returns the similarity threshold in effect.
func (e *Engine) Threshold() float64 { return e.threshold }

// Align resolves one raw vulnerability type name to a canonical entity,
// matching an existing entity when the best cosine similarity reaches the
// threshold (inclusive) and creating a new entity otherwise. Either way the
// name is recorded as an alias, so aligning the same name twice is
// idempotent in entity count. On any error the knowledge base is unchanged.
func (e *Engine) Align(ctx context.Context, rawName string) (apptype.AlignmentResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawName))
	if normalized == "" {
		return apptype.AlignmentResult{}, fmt.Errorf("%w: %q", ErrInvalidInput, rawName)
	}
	if e.provider == nil {
		return apptype.AlignmentResult{}, fmt.Errorf("%w: no provider configured", ErrEmbeddingUnavailable)
	}

	// Embedding is the expensive, side-effect-free part; do it before
	// taking the lock so concurrent callers only serialize on the decision.
	vecs, err := e.provider.Embed(ctx, []string{normalized})
	if err != nil {
		return apptype.AlignmentResult{}, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return apptype.AlignmentResult{}, fmt.Errorf("%w: provider returned no vector", ErrEmbeddingUnavailable)
	}
	embedding := vecs[0]

	e.mu.Lock()
	defer e.mu.Unlock()

	entities, err := e.store.Snapshot(ctx)
	if err != nil {
		return apptype.AlignmentResult{}, fmt.Errorf("failed to snapshot entities: %w", err)
	}

	best, bestSim, found := bestMatch(entities, embedding)

	if found && bestSim >= e.threshold {
		// The alias keeps the original spelling; normalization is only for
		// embedding stability.
		if _, err := e.store.AppendAlias(ctx, best.ID, rawName); err != nil {
			return apptype.AlignmentResult{}, fmt.Errorf("failed to record alias for entity %d: %w", best.ID, err)
		}
		metrics.Default().IncAlignTotal(apptype.ActionMatched)
		sim := bestSim
		return apptype.AlignmentResult{
			OriginalName: rawName,
			AlignedName:  best.CanonicalName,
			Action:       apptype.ActionMatched,
			Similarity:   &sim,
			EntityID:     best.ID,
		}, nil
	}

	created, err := e.store.Insert(ctx, apptype.CanonicalEntity{
		CanonicalName: rawName,
		Embedding:     embedding,
		Aliases:       []string{rawName},
	})
	if err != nil {
		return apptype.AlignmentResult{}, fmt.Errorf("failed to create entity %q: %w", rawName, err)
	}
	metrics.Default().IncAlignTotal(apptype.ActionCreated)
	result := apptype.AlignmentResult{
		OriginalName: rawName,
		AlignedName:  created.CanonicalName,
		Action:       apptype.ActionCreated,
		EntityID:     created.ID,
	}
	if found {
		sim := bestSim
		result.BestSubthreshold = &sim
	}
	return result, nil
}

// bestMatch returns the entity with the highest cosine similarity to the
// query. Entities arrive ordered by ascending id and only a strictly greater
// similarity displaces the current best, so ties resolve to the lowest id.
func bestMatch(entities []apptype.CanonicalEntity, query []float32) (apptype.CanonicalEntity, float64, bool) {
	var best apptype.CanonicalEntity
	bestSim := math.Inf(-1)
	found := false
	for _, e := range entities {
		if len(e.Embedding) != len(query) {
			continue
		}
		sim := cosineSimilarity(query, e.Embedding)
		if !found || sim > bestSim {
			best = e
			bestSim = sim
			found = true
		}
	}
	return best, bestSim, found
}

// cosineSimilarity computes cos(a, b) in float64 to keep comparisons against
// the threshold stable. Zero-norm vectors have undefined direction and score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
