package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
)

const testDims = 4

func setupTestStore(t *testing.T) (*Store, func()) {
	config := NewConfig()
	// Use an in-memory database for testing. The `cache=shared` is crucial
	// for sharing the connection across different calls to `sql.Open`
	// within the same process; the per-test name keeps tests isolated.
	config.URL = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	config.EmbeddingDims = testDims
	store, err := NewStore(config)
	require.NoError(t, err)

	cleanup := func() {
		err := store.Close()
		assert.NoError(t, err)
	}

	return store, cleanup
}

func testVector(fill float32) []float32 {
	v := make([]float32, testDims)
	for i := range v {
		v[i] = fill
	}
	return v
}

func TestInsertAndGetEntity(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := store.Insert(ctx, apptype.CanonicalEntity{
		CanonicalName: "sql injection",
		Embedding:     testVector(0.5),
	})
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(0))
	assert.Equal(t, int64(1), created.UsageCount)
	assert.Equal(t, []string{"sql injection"}, created.Aliases)

	retrieved, err := store.GetEntity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "sql injection", retrieved.CanonicalName)
	assert.Equal(t, testVector(0.5), retrieved.Embedding)
	assert.Equal(t, int64(1), retrieved.UsageCount)
	assert.Equal(t, []string{"sql injection"}, retrieved.Aliases)
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	first, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "a", Embedding: testVector(0.1)})
	require.NoError(t, err)
	second, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "b", Embedding: testVector(0.2)})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
}

func TestInsertDuplicateID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "a", Embedding: testVector(0.1)})
	require.NoError(t, err)

	_, err = store.Insert(ctx, apptype.CanonicalEntity{
		ID:            created.ID,
		CanonicalName: "b",
		Embedding:     testVector(0.2),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)

	// The failed insert must leave no partial state behind.
	n, err := store.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertWrongDims(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Insert(context.Background(), apptype.CanonicalEntity{
		CanonicalName: "a",
		Embedding:     []float32{0.1, 0.2},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimsMismatch)
}

func TestAppendAlias(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "xss", Embedding: testVector(0.3)})
	require.NoError(t, err)

	count, err := store.AppendAlias(ctx, created.ID, "cross-site scripting")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = store.AppendAlias(ctx, created.ID, "reflected xss")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	retrieved, err := store.GetEntity(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), retrieved.UsageCount)
	assert.Equal(t, []string{"xss", "cross-site scripting", "reflected xss"}, retrieved.Aliases)
	assert.Equal(t, int64(len(retrieved.Aliases)), retrieved.UsageCount)
}

func TestAppendAliasUnknownEntity(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.AppendAlias(context.Background(), 999, "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEntityByName(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "path traversal", Embedding: testVector(0.4)})
	require.NoError(t, err)
	_, err = store.AppendAlias(ctx, created.ID, "directory traversal")
	require.NoError(t, err)

	byCanonical, err := store.GetEntityByName(ctx, "path traversal")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCanonical.ID)

	byAlias, err := store.GetEntityByName(ctx, "directory traversal")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAlias.ID)

	_, err = store.GetEntityByName(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotOrderedByID(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	for i, name := range []string{"c", "a", "b"} {
		_, err := store.Insert(ctx, apptype.CanonicalEntity{
			CanonicalName: name,
			Embedding:     testVector(float32(i) * 0.1),
		})
		require.NoError(t, err)
	}

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 3)
	for i := 1; i < len(snapshot); i++ {
		assert.Greater(t, snapshot[i].ID, snapshot[i-1].ID)
	}
	assert.Equal(t, "c", snapshot[0].CanonicalName)
	assert.Len(t, snapshot[0].Embedding, testDims)
}

func TestSearchSimilar(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	near, err := store.Insert(ctx, apptype.CanonicalEntity{
		CanonicalName: "near",
		Embedding:     []float32{1, 0, 0, 0},
	})
	require.NoError(t, err)
	_, err = store.Insert(ctx, apptype.CanonicalEntity{
		CanonicalName: "far",
		Embedding:     []float32{0, 1, 0, 0},
	})
	require.NoError(t, err)

	results, err := store.SearchSimilar(ctx, []float32{1, 0, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, near.ID, results[0].Entity.ID)
	assert.InDelta(t, 0.0, results[0].Distance, 1e-6)
}

func TestSearchEntities(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "sql injection", Embedding: testVector(0.5)})
	require.NoError(t, err)
	_, err = store.AppendAlias(ctx, created.ID, "sqli")
	require.NoError(t, err)
	_, err = store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "buffer overflow", Embedding: testVector(0.6)})
	require.NoError(t, err)

	results, err := store.SearchEntities(ctx, "sql", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sql injection", results[0].CanonicalName)
	assert.Contains(t, results[0].Aliases, "sqli")

	byAlias, err := store.SearchEntities(ctx, "sqli", 10, 0)
	require.NoError(t, err)
	require.Len(t, byAlias, 1)
	assert.Equal(t, created.ID, byAlias[0].ID)
}

func TestExportEntities(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	created, err := store.Insert(ctx, apptype.CanonicalEntity{CanonicalName: "csrf", Embedding: testVector(0.7)})
	require.NoError(t, err)
	_, err = store.AppendAlias(ctx, created.ID, "cross-site request forgery")
	require.NoError(t, err)

	withoutVectors, err := store.ExportEntities(ctx, false)
	require.NoError(t, err)
	require.Len(t, withoutVectors, 1)
	assert.Nil(t, withoutVectors[0].Embedding)
	assert.Len(t, withoutVectors[0].Aliases, 2)

	withVectors, err := store.ExportEntities(ctx, true)
	require.NoError(t, err)
	require.Len(t, withVectors, 1)
	assert.Len(t, withVectors[0].Embedding, testDims)
}

func TestNewStoreRejectsInvalidDims(t *testing.T) {
	config := NewConfig()
	config.URL = "file:dims-check?mode=memory&cache=shared"
	config.EmbeddingDims = 0
	_, err := NewStore(config)
	require.Error(t, err)
}
