package apptype

// AlignTypeArgs represents the arguments for the align_type tool
type AlignTypeArgs struct {
	Name string `json:"name" jsonschema:"The raw vulnerability type name to align against the canonical entity set."`
}

// SearchEntitiesArgs represents the arguments for the search_entities tool
type SearchEntitiesArgs struct {
	Query  string `json:"query" jsonschema:"Free-text query matched against canonical names and aliases, and embedded for vector similarity when a provider is configured."`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of results to return (default 5)."`
	Offset int    `json:"offset,omitempty" jsonschema:"Number of results to skip (for pagination)."`
}

// SearchEntitiesResult is the structured result for search_entities
type SearchEntitiesResult struct {
	Entities []CanonicalEntity `json:"entities"`
}

// OpenEntityArgs represents the arguments for the open_entity tool
type OpenEntityArgs struct {
	Name string `json:"name,omitempty" jsonschema:"Canonical name or alias of the entity to open."`
	ID   int64  `json:"id,omitempty" jsonschema:"Entity id to open. Takes precedence over name when both are set."`
}

// ExportEntitiesArgs represents the arguments for the export_entities tool
type ExportEntitiesArgs struct {
	IncludeEmbeddings bool `json:"includeEmbeddings,omitempty" jsonschema:"Whether to include raw embedding vectors in the export."`
}

// ExportEntitiesResult is the full entity table for inspection/migration
type ExportEntitiesResult struct {
	Entities      []CanonicalEntity `json:"entities"`
	EmbeddingDims int               `json:"embeddingDims"`
}

// Health
type HealthArgs struct{}

type HealthResult struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Revision      string `json:"revision"`
	BuildDate     string `json:"buildDate"`
	EmbeddingDims int    `json:"embeddingDims"`
	Entities      int64  `json:"entities"`
	Threshold     float64 `json:"threshold"`
}
