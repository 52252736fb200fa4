package database

import "fmt"

// dynamicSchema returns schema DDL using the configured embedding dimension
func dynamicSchema(embeddingDims int) []string {
	if embeddingDims <= 0 {
		embeddingDims = 4
	}
	return []string{
		// Canonical entity table. Ids are AUTOINCREMENT so they are
		// monotonic and never reused, even across deletes.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS canonical_entities (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        canonical_name TEXT NOT NULL UNIQUE,
        embedding F32_BLOB(%d) NOT NULL,
        usage_count INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    )`, embeddingDims),

		// Alias table: every raw name that resolved to an entity, in
		// chronological insertion order.
		`CREATE TABLE IF NOT EXISTS aliases (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        entity_id INTEGER NOT NULL,
        name TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (entity_id) REFERENCES canonical_entities(id)
    )`,

		`CREATE INDEX IF NOT EXISTS idx_entities_name ON canonical_entities(canonical_name)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_created_at ON canonical_entities(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_entity ON aliases(entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_aliases_name ON aliases(name)`,

		// Vector index for similarity search
		`CREATE INDEX IF NOT EXISTS idx_entities_embedding ON canonical_entities(libsql_vector_idx(embedding))`,
	}
}
