package align

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
)

// fakeStore is an in-memory EntityStore with the same atomicity guarantees
// as the libSQL-backed one.
type fakeStore struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*apptype.CanonicalEntity
	inserts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: 1, byID: make(map[int64]*apptype.CanonicalEntity)}
}

func (s *fakeStore) Snapshot(ctx context.Context) ([]apptype.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]apptype.CanonicalEntity, 0, len(s.byID))
	for id := int64(1); id < s.nextID; id++ {
		if e, ok := s.byID[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (s *fakeStore) Insert(ctx context.Context, entity apptype.CanonicalEntity) (apptype.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	entity.ID = s.nextID
	s.nextID++
	if len(entity.Aliases) == 0 {
		entity.Aliases = []string{entity.CanonicalName}
	}
	entity.UsageCount = int64(len(entity.Aliases))
	stored := entity
	s.byID[entity.ID] = &stored
	return entity, nil
}

func (s *fakeStore) AppendAlias(ctx context.Context, id int64, alias string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return 0, fmt.Errorf("entity %d not found", id)
	}
	e.Aliases = append(e.Aliases, alias)
	e.UsageCount++
	return e.UsageCount, nil
}

// vectorProvider returns a fixed vector per normalized input.
type vectorProvider struct {
	vectors map[string][]float32
	err     error
}

func (p *vectorProvider) Name() string    { return "fixed" }
func (p *vectorProvider) Dimensions() int { return 4 }
func (p *vectorProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v, ok := p.vectors[in]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", in)
		}
		out[i] = v
	}
	return out, nil
}

func TestAlignCreatesFirstEntity(t *testing.T) {
	store := newFakeStore()
	provider := &vectorProvider{vectors: map[string][]float32{
		"sql injection": {1, 0, 0, 0},
	}}
	engine := NewEngine(store, provider, 0)

	result, err := engine.Align(context.Background(), "  SQL Injection ")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionCreated, result.Action)
	// The original spelling becomes the canonical name; normalization only
	// feeds the embedding.
	assert.Equal(t, "  SQL Injection ", result.AlignedName)
	assert.Equal(t, "  SQL Injection ", result.OriginalName)
	assert.Nil(t, result.Similarity)
	assert.Nil(t, result.BestSubthreshold)
	assert.Equal(t, 1, store.inserts)
}

func TestAlignIdempotent(t *testing.T) {
	store := newFakeStore()
	provider := &vectorProvider{vectors: map[string][]float32{
		"sql injection": {1, 0, 0, 0},
	}}
	engine := NewEngine(store, provider, 0)
	ctx := context.Background()

	first, err := engine.Align(ctx, "SQL Injection")
	require.NoError(t, err)
	second, err := engine.Align(ctx, "sql injection")
	require.NoError(t, err)

	assert.Equal(t, apptype.ActionCreated, first.Action)
	assert.Equal(t, apptype.ActionMatched, second.Action)
	assert.Equal(t, first.EntityID, second.EntityID)
	require.NotNil(t, second.Similarity)
	assert.InDelta(t, 1.0, *second.Similarity, 1e-9)

	assert.Equal(t, 1, store.inserts)
	e := store.byID[first.EntityID]
	assert.Equal(t, int64(len(e.Aliases)), e.UsageCount)
	assert.Equal(t, int64(2), e.UsageCount)
	assert.Equal(t, []string{"SQL Injection", "sql injection"}, e.Aliases)
}

func TestAlignReentrancyScenario(t *testing.T) {
	store := newFakeStore()
	provider := &vectorProvider{vectors: map[string][]float32{
		"reentrancy":       {1, 0, 0, 0},
		"re-entrancy":      {0.9, 0.43589, 0, 0},
		"integer overflow": {0, 0, 1, 0},
	}}
	engine := NewEngine(store, provider, 0.85)
	ctx := context.Background()

	first, err := engine.Align(ctx, "Reentrancy")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionCreated, first.Action)

	variant, err := engine.Align(ctx, "re-entrancy ")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionMatched, variant.Action)
	assert.Equal(t, first.EntityID, variant.EntityID)

	e := store.byID[first.EntityID]
	assert.Equal(t, []string{"Reentrancy", "re-entrancy "}, e.Aliases)
	assert.Equal(t, int64(2), e.UsageCount)

	other, err := engine.Align(ctx, "Integer Overflow")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionCreated, other.Action)
	assert.NotEqual(t, first.EntityID, other.EntityID)
	assert.Equal(t, 2, store.inserts)
}

func TestAlignThresholdInclusive(t *testing.T) {
	// cos([1,0,0,0], [3,4,0,0]) is exactly 3/5 = 0.6, so a 0.6 threshold
	// must match while anything above it must create.
	vectors := map[string][]float32{
		"existing": {1, 0, 0, 0},
		"probe":    {3, 4, 0, 0},
	}

	store := newFakeStore()
	engine := NewEngine(store, &vectorProvider{vectors: vectors}, 0.6)
	ctx := context.Background()

	_, err := engine.Align(ctx, "existing")
	require.NoError(t, err)

	result, err := engine.Align(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionMatched, result.Action)
	assert.Equal(t, "existing", result.AlignedName)
	require.NotNil(t, result.Similarity)
	assert.Equal(t, 0.6, *result.Similarity)

	strict := newFakeStore()
	engine = NewEngine(strict, &vectorProvider{vectors: vectors}, 0.601)
	_, err = engine.Align(ctx, "existing")
	require.NoError(t, err)
	result, err = engine.Align(ctx, "probe")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionCreated, result.Action)
	require.NotNil(t, result.BestSubthreshold)
	assert.Equal(t, 0.6, *result.BestSubthreshold)
}

func TestAlignTieBreaksToLowestID(t *testing.T) {
	store := newFakeStore()
	provider := &vectorProvider{vectors: map[string][]float32{
		"first":  {1, 0, 0, 0},
		"second": {1, 0, 0, 0},
		"probe":  {1, 0, 0, 0},
	}}
	// Sub-threshold creation is impossible here, every vector is identical;
	// seed two entities directly so both candidates exist.
	a, err := store.Insert(context.Background(), apptype.CanonicalEntity{CanonicalName: "first", Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	b, err := store.Insert(context.Background(), apptype.CanonicalEntity{CanonicalName: "second", Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	require.Less(t, a.ID, b.ID)

	engine := NewEngine(store, provider, 0)
	result, err := engine.Align(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, apptype.ActionMatched, result.Action)
	assert.Equal(t, a.ID, result.EntityID)
	assert.Equal(t, "first", result.AlignedName)
}

func TestAlignConcurrentSameNameCreatesOnce(t *testing.T) {
	store := newFakeStore()
	provider := &vectorProvider{vectors: map[string][]float32{
		"race condition": {0, 1, 0, 0},
	}}
	engine := NewEngine(store, provider, 0)

	const workers = 32
	var wg sync.WaitGroup
	results := make([]apptype.AlignmentResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = engine.Align(context.Background(), "Race Condition")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].Action == apptype.ActionCreated {
			created++
		}
		assert.Equal(t, results[0].EntityID, results[i].EntityID)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, store.inserts)

	e := store.byID[results[0].EntityID]
	assert.Equal(t, int64(workers), e.UsageCount)
	assert.Equal(t, int64(len(e.Aliases)), e.UsageCount)
}

func TestAlignInvalidInput(t *testing.T) {
	engine := NewEngine(newFakeStore(), &vectorProvider{}, 0)
	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := engine.Align(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestAlignEmbeddingFailureLeavesStoreUntouched(t *testing.T) {
	store := newFakeStore()
	provider := &vectorProvider{err: errors.New("backend down")}
	engine := NewEngine(store, provider, 0)

	_, err := engine.Align(context.Background(), "sql injection")
	require.ErrorIs(t, err, ErrEmbeddingUnavailable)
	assert.Equal(t, 0, store.inserts)
	assert.Empty(t, store.byID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}
