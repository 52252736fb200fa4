package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/auditgraph/vulnalign-go/internal/align"
	"github.com/auditgraph/vulnalign-go/internal/apptype"
	"github.com/auditgraph/vulnalign-go/internal/buildinfo"
	"github.com/auditgraph/vulnalign-go/internal/database"
	"github.com/auditgraph/vulnalign-go/internal/embeddings"
	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

// MCPServer exposes the vulnerability knowledge base over MCP: alignment of
// raw type names plus read-only inspection of the canonical entity set.
type MCPServer struct {
	server   *mcp.Server
	store    *database.Store
	engine   *align.Engine
	provider embeddings.Provider
}

// NewMCPServer creates a new MCP server over the given store and engine.
func NewMCPServer(store *database.Store, engine *align.Engine, provider embeddings.Provider) *MCPServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "vulnalign-mcp",
		Version: buildinfo.Version,
	}, nil)

	s := &MCPServer{
		server:   server,
		store:    store,
		engine:   engine,
		provider: provider,
	}

	// initialize metrics from env (no-op if disabled)
	metrics.InitFromEnv()
	s.setupToolHandlers()
	return s
}

// setupToolHandlers registers all MCP tools
func (s *MCPServer) setupToolHandlers() {
	alignTypeInputSchema, err := jsonschema.For[apptype.AlignTypeArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for AlignTypeArgs: %v", err))
	}
	alignTypeOutputSchema, err := jsonschema.For[apptype.AlignmentResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for AlignmentResult: %v", err))
	}
	searchInputSchema, err := jsonschema.For[apptype.SearchEntitiesArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SearchEntitiesArgs: %v", err))
	}
	searchOutputSchema, err := jsonschema.For[apptype.SearchEntitiesResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for SearchEntitiesResult: %v", err))
	}
	openEntityInputSchema, err := jsonschema.For[apptype.OpenEntityArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for OpenEntityArgs: %v", err))
	}
	openEntityOutputSchema, err := jsonschema.For[apptype.CanonicalEntity]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for CanonicalEntity: %v", err))
	}
	exportInputSchema, err := jsonschema.For[apptype.ExportEntitiesArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExportEntitiesArgs: %v", err))
	}
	exportOutputSchema, err := jsonschema.For[apptype.ExportEntitiesResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for ExportEntitiesResult: %v", err))
	}
	healthInputSchema, err := jsonschema.For[apptype.HealthArgs]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthArgs: %v", err))
	}
	healthOutputSchema, err := jsonschema.For[apptype.HealthResult]()
	if err != nil {
		panic(fmt.Sprintf("failed to create schema for HealthResult: %v", err))
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "align_type",
		Title:        "Align Vulnerability Type",
		Description:  "Resolve a raw vulnerability type name to a canonical entity, creating one when no entity is similar enough.",
		InputSchema:  alignTypeInputSchema,
		OutputSchema: alignTypeOutputSchema,
	}, s.handleAlignType)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "search_entities",
		Title:        "Search Entities",
		Description:  "Search canonical entities by text over names and aliases, or by vector similarity when an embeddings provider is configured.",
		InputSchema:  searchInputSchema,
		OutputSchema: searchOutputSchema,
	}, s.handleSearchEntities)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "open_entity",
		Title:        "Open Entity",
		Description:  "Retrieve one canonical entity with its aliases, by id or by name/alias.",
		InputSchema:  openEntityInputSchema,
		OutputSchema: openEntityOutputSchema,
	}, s.handleOpenEntity)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "export_entities",
		Title:        "Export Entities",
		Description:  "Export the full canonical entity table, optionally with embeddings.",
		InputSchema:  exportInputSchema,
		OutputSchema: exportOutputSchema,
	}, s.handleExportEntities)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:         "health_check",
		Title:        "Health Check",
		Description:  "Returns server and configuration information.",
		InputSchema:  healthInputSchema,
		OutputSchema: healthOutputSchema,
	}, s.handleHealth)
}

// handleAlignType handles the align_type tool call
func (s *MCPServer) handleAlignType(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.AlignTypeArgs],
) (*mcp.CallToolResultFor[apptype.AlignmentResult], error) {
	done := metrics.TimeTool("align_type")
	var success bool
	defer func() { done(success) }()

	result, err := s.engine.Align(ctx, params.Arguments.Name)
	if err != nil {
		if errors.Is(err, align.ErrInvalidInput) {
			return nil, fmt.Errorf("invalid name: %w", err)
		}
		return nil, fmt.Errorf("alignment failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.AlignmentResult]{
		Content: []mcp.Content{
			&mcp.TextContent{
				Text: fmt.Sprintf("%s %q -> entity %d (%s)", result.Action, result.OriginalName, result.EntityID, result.AlignedName),
			},
		},
		StructuredContent: result,
	}, nil
}

// handleSearchEntities handles the search_entities tool call
func (s *MCPServer) handleSearchEntities(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.SearchEntitiesArgs],
) (*mcp.CallToolResultFor[apptype.SearchEntitiesResult], error) {
	done := metrics.TimeTool("search_entities")
	var success bool
	defer func() { done(success) }()

	query := params.Arguments.Query
	limit := params.Arguments.Limit
	offset := params.Arguments.Offset
	if limit <= 0 {
		limit = 5
	}
	if offset < 0 {
		offset = 0
	}

	entities, err := s.searchEntities(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.SearchEntitiesResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Found %d entities", len(entities))},
		},
		StructuredContent: apptype.SearchEntitiesResult{Entities: entities},
	}, nil
}

// searchEntities prefers vector similarity when a provider is available and
// falls back to text search over names and aliases.
func (s *MCPServer) searchEntities(ctx context.Context, query string, limit, offset int) ([]apptype.CanonicalEntity, error) {
	if s.provider != nil {
		vecs, err := s.provider.Embed(ctx, []string{query})
		if err == nil && len(vecs) == 1 {
			results, sErr := s.store.SearchSimilar(ctx, vecs[0], limit, offset)
			if sErr == nil {
				entities := make([]apptype.CanonicalEntity, len(results))
				for i, r := range results {
					r.Entity.Embedding = nil
					entities[i] = r.Entity
				}
				return entities, nil
			}
			log.Printf("vector search failed, falling back to text: %v", sErr)
		}
	}
	entities, err := s.store.SearchEntities(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		entities[i].Embedding = nil
	}
	return entities, nil
}

// handleOpenEntity handles the open_entity tool call
func (s *MCPServer) handleOpenEntity(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.OpenEntityArgs],
) (*mcp.CallToolResultFor[apptype.CanonicalEntity], error) {
	done := metrics.TimeTool("open_entity")
	var success bool
	defer func() { done(success) }()

	var entity *apptype.CanonicalEntity
	var err error
	switch {
	case params.Arguments.ID != 0:
		entity, err = s.store.GetEntity(ctx, params.Arguments.ID)
	case params.Arguments.Name != "":
		entity, err = s.store.GetEntityByName(ctx, params.Arguments.Name)
	default:
		return nil, fmt.Errorf("either id or name is required")
	}
	if err != nil {
		return nil, fmt.Errorf("open entity failed: %w", err)
	}
	success = true

	entity.Embedding = nil
	return &mcp.CallToolResultFor[apptype.CanonicalEntity]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Entity %d: %s", entity.ID, entity.CanonicalName)},
		},
		StructuredContent: *entity,
	}, nil
}

// handleExportEntities handles the export_entities tool call
func (s *MCPServer) handleExportEntities(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.ExportEntitiesArgs],
) (*mcp.CallToolResultFor[apptype.ExportEntitiesResult], error) {
	done := metrics.TimeTool("export_entities")
	var success bool
	defer func() { done(success) }()

	entities, err := s.store.ExportEntities(ctx, params.Arguments.IncludeEmbeddings)
	if err != nil {
		return nil, fmt.Errorf("export failed: %w", err)
	}
	success = true

	return &mcp.CallToolResultFor[apptype.ExportEntitiesResult]{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Exported %d entities", len(entities))},
		},
		StructuredContent: apptype.ExportEntitiesResult{
			Entities:      entities,
			EmbeddingDims: s.store.Config().EmbeddingDims,
		},
	}, nil
}

// handleHealth returns basic server health information
func (s *MCPServer) handleHealth(
	ctx context.Context,
	session *mcp.ServerSession,
	params *mcp.CallToolParamsFor[apptype.HealthArgs],
) (*mcp.CallToolResultFor[apptype.HealthResult], error) {
	done := metrics.TimeTool("health_check")
	defer func() { done(true) }()

	inUse, idle := s.store.PoolStats()
	metrics.Default().ObservePoolStats(inUse, idle)

	count, err := s.store.CountEntities(ctx)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	res := apptype.HealthResult{
		Name:          "vulnalign-mcp",
		Version:       buildinfo.Version,
		Revision:      buildinfo.Revision,
		BuildDate:     buildinfo.BuildDate,
		EmbeddingDims: s.store.Config().EmbeddingDims,
		Entities:      count,
		Threshold:     s.engine.Threshold(),
	}
	return &mcp.CallToolResultFor[apptype.HealthResult]{
		Content:           []mcp.Content{&mcp.TextContent{Text: "ok"}},
		StructuredContent: res,
	}, nil
}

// Run starts the MCP server with stdio transport
func (s *MCPServer) Run(ctx context.Context) error {
	s.startPoolStatsTicker(ctx)
	transport := mcp.NewStdioTransport()
	return s.server.Run(ctx, transport)
}

// RunSSE starts the MCP server over SSE at the given address and endpoint
func (s *MCPServer) RunSSE(ctx context.Context, addr string, endpoint string) error {
	s.startPoolStatsTicker(ctx)
	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server { return s.server })
	mux := http.NewServeMux()
	mux.Handle(endpoint, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("SSE MCP server listening on %s%s", addr, endpoint)
	return srv.ListenAndServe()
}

// startPoolStatsTicker reports connection pool gauges while the server runs.
func (s *MCPServer) startPoolStatsTicker(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				inUse, idle := s.store.PoolStats()
				metrics.Default().ObservePoolStats(inUse, idle)
			}
		}
	}()
}
