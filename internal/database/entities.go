package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/auditgraph/vulnalign-go/internal/apptype"
	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

// Snapshot returns a consistent point-in-time view of every canonical
// entity, ordered by ascending id (creation order). The view is produced by
// a single statement, so no half-written entity is ever visible. Aliases are
// not loaded; callers that need them use GetEntity or ExportEntities.
func (s *Store) Snapshot(ctx context.Context) ([]apptype.CanonicalEntity, error) {
	done := metrics.TimeOp("store_snapshot")
	success := false
	defer func() { done(success) }()

	stmt, err := s.getPreparedStmt(ctx,
		"SELECT id, canonical_name, embedding, usage_count FROM canonical_entities ORDER BY id")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity snapshot: %w", err)
	}
	defer rows.Close()

	var entities []apptype.CanonicalEntity
	for rows.Next() {
		var e apptype.CanonicalEntity
		var embeddingBytes []byte
		if err := rows.Scan(&e.ID, &e.CanonicalName, &embeddingBytes, &e.UsageCount); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		vector, vErr := s.extractVector(embeddingBytes)
		if vErr != nil {
			return nil, fmt.Errorf("entity %d: %w", e.ID, vErr)
		}
		e.Embedding = vector
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entity snapshot: %w", err)
	}
	success = true
	return entities, nil
}

// Insert creates a new canonical entity together with its initial aliases in
// a single transaction. A zero entity.ID lets the store assign the next
// monotonic id; a non-zero id that already exists fails with ErrDuplicateID.
// When entity.Aliases is empty the canonical name seeds the alias list, so
// the committed entity always satisfies usage_count == len(aliases).
func (s *Store) Insert(ctx context.Context, entity apptype.CanonicalEntity) (apptype.CanonicalEntity, error) {
	done := metrics.TimeOp("store_insert")
	success := false
	defer func() { done(success) }()

	if strings.TrimSpace(entity.CanonicalName) == "" {
		return apptype.CanonicalEntity{}, fmt.Errorf("canonical name must be a non-empty string")
	}
	vectorString, err := s.vectorToString(entity.Embedding)
	if err != nil {
		return apptype.CanonicalEntity{}, fmt.Errorf("failed to convert embedding for entity %q: %w", entity.CanonicalName, err)
	}

	aliases := entity.Aliases
	if len(aliases) == 0 {
		aliases = []string{entity.CanonicalName}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apptype.CanonicalEntity{}, fmt.Errorf("failed to begin transaction for entity %q: %w", entity.CanonicalName, err)
	}
	defer tx.Rollback()

	if entity.ID != 0 {
		var exists int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM canonical_entities WHERE id = ?", entity.ID).Scan(&exists)
		if err == nil {
			return apptype.CanonicalEntity{}, fmt.Errorf("entity id %d: %w", entity.ID, ErrDuplicateID)
		}
		if err != sql.ErrNoRows {
			return apptype.CanonicalEntity{}, fmt.Errorf("failed to check entity id %d: %w", entity.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO canonical_entities (id, canonical_name, embedding, usage_count) VALUES (?, ?, vector32(?), ?)",
			entity.ID, entity.CanonicalName, vectorString, len(aliases)); err != nil {
			return apptype.CanonicalEntity{}, fmt.Errorf("failed to insert entity %q: %w", entity.CanonicalName, err)
		}
	} else {
		result, iErr := tx.ExecContext(ctx,
			"INSERT INTO canonical_entities (canonical_name, embedding, usage_count) VALUES (?, vector32(?), ?)",
			entity.CanonicalName, vectorString, len(aliases))
		if iErr != nil {
			return apptype.CanonicalEntity{}, fmt.Errorf("failed to insert entity %q: %w", entity.CanonicalName, iErr)
		}
		entity.ID, iErr = result.LastInsertId()
		if iErr != nil {
			return apptype.CanonicalEntity{}, fmt.Errorf("failed to read id for entity %q: %w", entity.CanonicalName, iErr)
		}
	}

	for _, alias := range aliases {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO aliases (entity_id, name) VALUES (?, ?)", entity.ID, alias); err != nil {
			return apptype.CanonicalEntity{}, fmt.Errorf("failed to insert alias %q for entity %q: %w", alias, entity.CanonicalName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apptype.CanonicalEntity{}, fmt.Errorf("failed to commit entity %q: %w", entity.CanonicalName, err)
	}

	entity.Aliases = aliases
	entity.UsageCount = int64(len(aliases))
	entity.CreatedAt = time.Now().UTC()
	success = true
	return entity, nil
}

// AppendAlias records one more raw name resolving to the entity and bumps
// its usage count, atomically. Returns the updated usage count.
func (s *Store) AppendAlias(ctx context.Context, id int64, alias string) (int64, error) {
	done := metrics.TimeOp("store_append_alias")
	success := false
	defer func() { done(success) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"UPDATE canonical_entities SET usage_count = usage_count + 1 WHERE id = ?", id)
	if err != nil {
		return 0, fmt.Errorf("failed to update usage count for entity %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO aliases (entity_id, name) VALUES (?, ?)", id, alias); err != nil {
		return 0, fmt.Errorf("failed to insert alias %q for entity %d: %w", alias, id, err)
	}

	var usageCount int64
	if err := tx.QueryRowContext(ctx,
		"SELECT usage_count FROM canonical_entities WHERE id = ?", id).Scan(&usageCount); err != nil {
		return 0, fmt.Errorf("failed to read usage count for entity %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit alias for entity %d: %w", id, err)
	}
	success = true
	return usageCount, nil
}

// getAliases retrieves all aliases for an entity in insertion order
func (s *Store) getAliases(ctx context.Context, id int64) ([]string, error) {
	stmt, err := s.getPreparedStmt(ctx,
		"SELECT name FROM aliases WHERE entity_id = ? ORDER BY id")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, name)
	}
	return aliases, rows.Err()
}

// GetEntity retrieves a single entity with its aliases by id.
func (s *Store) GetEntity(ctx context.Context, id int64) (*apptype.CanonicalEntity, error) {
	done := metrics.TimeOp("store_get_entity")
	success := false
	defer func() { done(success) }()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, canonical_name, embedding, usage_count, created_at FROM canonical_entities WHERE id = ?", id)
	e, err := s.scanEntity(ctx, row)
	if err != nil {
		return nil, err
	}
	success = true
	return e, nil
}

// GetEntityByName retrieves an entity whose canonical name or any alias
// equals the given name.
func (s *Store) GetEntityByName(ctx context.Context, name string) (*apptype.CanonicalEntity, error) {
	done := metrics.TimeOp("store_get_entity_by_name")
	success := false
	defer func() { done(success) }()

	row := s.db.QueryRowContext(ctx, `
		SELECT e.id, e.canonical_name, e.embedding, e.usage_count, e.created_at
		FROM canonical_entities e
		WHERE e.canonical_name = ?
		   OR e.id IN (SELECT entity_id FROM aliases WHERE name = ?)
		ORDER BY e.id
		LIMIT 1`, name, name)
	e, err := s.scanEntity(ctx, row)
	if err != nil {
		return nil, err
	}
	success = true
	return e, nil
}

func (s *Store) scanEntity(ctx context.Context, row *sql.Row) (*apptype.CanonicalEntity, error) {
	var e apptype.CanonicalEntity
	var embeddingBytes []byte
	var createdAt sql.NullTime
	if err := row.Scan(&e.ID, &e.CanonicalName, &embeddingBytes, &e.UsageCount, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	if createdAt.Valid {
		e.CreatedAt = createdAt.Time
	}
	vector, err := s.extractVector(embeddingBytes)
	if err != nil {
		return nil, fmt.Errorf("entity %d: %w", e.ID, err)
	}
	e.Embedding = vector
	aliases, err := s.getAliases(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Aliases = aliases
	return &e, nil
}

// ExportEntities returns the full entity table, including aliases, for
// inspection or migration. Embeddings are omitted unless requested.
func (s *Store) ExportEntities(ctx context.Context, includeEmbeddings bool) ([]apptype.CanonicalEntity, error) {
	done := metrics.TimeOp("store_export")
	success := false
	defer func() { done(success) }()

	entities, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entities {
		aliases, aErr := s.getAliases(ctx, entities[i].ID)
		if aErr != nil {
			return nil, aErr
		}
		entities[i].Aliases = aliases
		if !includeEmbeddings {
			entities[i].Embedding = nil
		}
	}
	success = true
	return entities, nil
}

// CountEntities returns the number of canonical entities in the store.
func (s *Store) CountEntities(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM canonical_entities").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}
