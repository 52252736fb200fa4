package knowledge

import (
	"context"

	"github.com/auditgraph/vulnalign-go/internal/align"
	"github.com/auditgraph/vulnalign-go/internal/apptype"
	"github.com/auditgraph/vulnalign-go/internal/database"
	"github.com/auditgraph/vulnalign-go/internal/embeddings"
)

// Service provides a library-first API over the vulnerability knowledge base
// without MCP transport.
type Service struct {
	store    *database.Store
	engine   *align.Engine
	provider embeddings.Provider
}

// NewService constructs a Service with the provided config and embeddings
// provider. A nil provider disables alignment but leaves reads working.
func NewService(cfg *Config, provider embeddings.Provider) (*Service, error) {
	store, err := database.NewStore(cfg.toInternal())
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    store,
		engine:   align.NewEngine(store, provider, cfg.Threshold),
		provider: provider,
	}, nil
}

// Close releases resources.
func (s *Service) Close() error { return s.store.Close() }

// Align resolves a raw vulnerability type name to a canonical entity.
func (s *Service) Align(ctx context.Context, rawName string) (apptype.AlignmentResult, error) {
	return s.engine.Align(ctx, rawName)
}

// SearchText performs text search over canonical names and aliases.
func (s *Service) SearchText(ctx context.Context, query string, limit, offset int) ([]apptype.CanonicalEntity, error) {
	return s.store.SearchEntities(ctx, query, limit, offset)
}

// SearchVector performs vector similarity search.
func (s *Service) SearchVector(ctx context.Context, vector []float32, limit, offset int) ([]apptype.SearchResult, error) {
	return s.store.SearchSimilar(ctx, vector, limit, offset)
}

// OpenEntity fetches one entity with its aliases by id.
func (s *Service) OpenEntity(ctx context.Context, id int64) (*apptype.CanonicalEntity, error) {
	return s.store.GetEntity(ctx, id)
}

// OpenEntityByName fetches one entity by canonical name or alias.
func (s *Service) OpenEntityByName(ctx context.Context, name string) (*apptype.CanonicalEntity, error) {
	return s.store.GetEntityByName(ctx, name)
}

// Export returns the full entity table.
func (s *Service) Export(ctx context.Context, includeEmbeddings bool) ([]apptype.CanonicalEntity, error) {
	return s.store.ExportEntities(ctx, includeEmbeddings)
}

// Count returns the number of canonical entities.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountEntities(ctx)
}

// Store exposes the underlying entity store for advanced callers.
func (s *Service) Store() *database.Store { return s.store }

// Engine exposes the alignment engine, e.g. for batch drivers.
func (s *Service) Engine() *align.Engine { return s.engine }
