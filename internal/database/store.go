package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/auditgraph/vulnalign-go/internal/metrics"
)

// Store is the durable holder of all canonical entities. It owns every
// mutation of the entity table; callers outside the alignment engine only
// read from it.
type Store struct {
	config *Config
	db     *sql.DB

	stmtMu    sync.RWMutex
	stmtCache map[string]*sql.Stmt

	capMu sync.RWMutex
	caps  capFlags
}

// NewStore opens the entity store, creating the schema when missing.
// A persisted embedding dimension that differs from the configured one is a
// fatal configuration error (ErrDimsMismatch): the store would be mixing
// vectors from different embedding models.
func NewStore(config *Config) (*Store, error) {
	if config.EmbeddingDims <= 0 || config.EmbeddingDims > 65536 {
		return nil, fmt.Errorf("EMBEDDING_DIMS must be between 1 and 65536 inclusive, got %d", config.EmbeddingDims)
	}

	s := &Store{
		config:    config,
		stmtCache: make(map[string]*sql.Stmt),
	}

	dbURL := config.URL
	if !strings.HasPrefix(dbURL, "file:") && config.AuthToken != "" {
		if u, perr := url.Parse(dbURL); perr == nil {
			q := u.Query()
			q.Set("authToken", config.AuthToken)
			u.RawQuery = q.Encode()
			dbURL = u.String()
		} else if strings.Contains(dbURL, "?") {
			dbURL = dbURL + "&authToken=" + url.QueryEscape(config.AuthToken)
		} else {
			dbURL = dbURL + "?authToken=" + url.QueryEscape(config.AuthToken)
		}
	}

	db, err := sql.Open("libsql", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}

	// Reject stores written with a different embedding model before touching
	// the schema, so a mismatched store is never silently extended.
	if dbDims := detectDBEmbeddingDims(db); dbDims > 0 && dbDims != config.EmbeddingDims {
		db.Close()
		return nil, fmt.Errorf("store has %d-dimensional embeddings, config wants %d: %w", dbDims, config.EmbeddingDims, ErrDimsMismatch)
	}

	if err := s.initialize(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize entity store: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxIdleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(config.ConnMaxIdleSec) * time.Second)
	}
	if config.ConnMaxLifeSec > 0 {
		db.SetConnMaxLifetime(time.Duration(config.ConnMaxLifeSec) * time.Second)
	}

	s.db = db
	s.detectCapabilities(context.Background())
	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() *Config { return s.config }

// detectDBEmbeddingDims introspects the schema to infer the F32_BLOB size
// for canonical_entities.embedding. Returns 0 when the table does not exist.
func detectDBEmbeddingDims(db *sql.DB) int {
	var sqlText string
	_ = db.QueryRow("SELECT sql FROM sqlite_master WHERE type='table' AND name='canonical_entities'").Scan(&sqlText)
	if sqlText != "" {
		low := strings.ToLower(sqlText)
		idx := strings.Index(low, "f32_blob(")
		if idx >= 0 {
			rest := low[idx+len("f32_blob("):]
			end := strings.Index(rest, ")")
			if end > 0 {
				if n, err := strconv.Atoi(strings.TrimSpace(rest[:end])); err == nil && n > 0 {
					return n
				}
			}
		}
	}
	var blob []byte
	_ = db.QueryRow("SELECT embedding FROM canonical_entities LIMIT 1").Scan(&blob)
	if len(blob) > 0 && len(blob)%4 == 0 {
		return len(blob) / 4
	}
	return 0
}

// initialize creates tables and indexes if they don't exist
func (s *Store) initialize(db *sql.DB) error {
	done := metrics.TimeOp("store_initialize")
	success := false
	defer func() { done(success) }()
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for initialization: %w", err)
	}
	defer tx.Rollback()

	for _, statement := range dynamicSchema(s.config.EmbeddingDims) {
		if _, err := tx.Exec(statement); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	success = true
	return nil
}

// PoolStats reports current connection pool usage.
func (s *Store) PoolStats() (inUse, idle int) {
	st := s.db.Stats()
	return st.InUse, st.Idle
}

// Close closes the prepared statements and the database connection.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = make(map[string]*sql.Stmt)
	s.stmtMu.Unlock()
	return s.db.Close()
}
