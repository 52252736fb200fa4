package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

// SearchSimilar performs vector similarity search over canonical entities,
// using the native vector_top_k index when the libSQL build supports it and
// falling back to a full scan ordered by vector_distance_cos otherwise.
// Results are ordered by ascending cosine distance.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, limit, offset int) ([]apptype.SearchResult, error) {
	done := metrics.TimeOp("store_search_similar")
	success := false
	defer func() { done(success) }()

	if len(embedding) == 0 {
		return nil, fmt.Errorf("search embedding cannot be empty")
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	vectorString, err := s.vectorToString(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to convert search embedding: %w", err)
	}

	useTopK := s.vectorTopKEnabled()
	var rows *sql.Rows
	if useTopK {
		k := limit + offset
		topK := `WITH vt AS (
			SELECT id FROM vector_top_k('idx_entities_embedding', vector32(?), ?)
		)
		SELECT e.id, e.canonical_name, e.embedding, e.usage_count,
		       vector_distance_cos(e.embedding, vector32(?)) as distance
		FROM vt JOIN canonical_entities e ON e.rowid = vt.id
		ORDER BY distance ASC
		LIMIT ? OFFSET ?`
		stmt, perr := s.getPreparedStmt(ctx, topK)
		if perr != nil {
			return nil, perr
		}
		rows, err = stmt.QueryContext(ctx, vectorString, k, vectorString, limit, offset)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "no such function: vector_top_k") {
			s.disableVectorTopK()
			useTopK = false
		} else if err != nil {
			return nil, fmt.Errorf("failed ANN search: %w", err)
		}
	}
	if !useTopK {
		query := `SELECT e.id, e.canonical_name, e.embedding, e.usage_count,
		       vector_distance_cos(e.embedding, vector32(?)) as distance
		FROM canonical_entities e
		ORDER BY distance ASC
		LIMIT ? OFFSET ?`
		stmt, perr := s.getPreparedStmt(ctx, query)
		if perr != nil {
			return nil, perr
		}
		rows, err = stmt.QueryContext(ctx, vectorString, limit, offset)
	}
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "no such function: vector_distance_cos") || strings.Contains(low, "no such function: vector32") {
			return nil, fmt.Errorf("vector search functions are unavailable in this libSQL build")
		}
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []apptype.SearchResult
	for rows.Next() {
		var e apptype.CanonicalEntity
		var embeddingBytes []byte
		var distance float64
		if err := rows.Scan(&e.ID, &e.CanonicalName, &embeddingBytes, &e.UsageCount, &distance); err != nil {
			log.Printf("Warning: Failed to scan search result row: %v", err)
			continue
		}
		vector, vErr := s.extractVector(embeddingBytes)
		if vErr != nil {
			log.Printf("Warning: Failed to extract vector for entity %d: %v", e.ID, vErr)
			continue
		}
		e.Embedding = vector
		results = append(results, apptype.SearchResult{Entity: e, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search results: %w", err)
	}
	success = true
	return results, nil
}

// SearchEntities performs substring search over canonical names and aliases.
func (s *Store) SearchEntities(ctx context.Context, query string, limit, offset int) ([]apptype.CanonicalEntity, error) {
	done := metrics.TimeOp("store_search_entities")
	success := false
	defer func() { done(success) }()

	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	pattern := "%" + query + "%"
	stmt, err := s.getPreparedStmt(ctx, `
		SELECT DISTINCT e.id, e.canonical_name, e.usage_count
		FROM canonical_entities e
		LEFT JOIN aliases a ON a.entity_id = e.id
		WHERE e.canonical_name LIKE ? OR a.name LIKE ?
		ORDER BY e.usage_count DESC, e.id ASC
		LIMIT ? OFFSET ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, pattern, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	defer rows.Close()

	var entities []apptype.CanonicalEntity
	for rows.Next() {
		var e apptype.CanonicalEntity
		if err := rows.Scan(&e.ID, &e.CanonicalName, &e.UsageCount); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity search: %w", err)
	}
	for i := range entities {
		aliases, aErr := s.getAliases(ctx, entities[i].ID)
		if aErr != nil {
			return nil, aErr
		}
		entities[i].Aliases = aliases
	}
	success = true
	return entities, nil
}
