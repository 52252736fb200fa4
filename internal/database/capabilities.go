package database

import (
	"context"
	"strings"
	"time"
)

// capFlags stores capability detection for the underlying libSQL build
type capFlags struct {
	checked    bool
	vectorTopK bool
}

// detectCapabilities probes presence of vector_top_k and records the result.
func (s *Store) detectCapabilities(ctx context.Context) {
	s.capMu.RLock()
	checked := s.caps.checked
	s.capMu.RUnlock()
	if checked {
		return
	}

	// Skip ANN probe for in-memory test URLs to avoid driver quirks
	if strings.Contains(s.config.URL, "mode=memory") {
		s.capMu.Lock()
		s.caps = capFlags{checked: true, vectorTopK: false}
		s.capMu.Unlock()
		return
	}

	zero := s.vectorZeroString()
	ctx2, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	rows, err := s.db.QueryContext(ctx2,
		"SELECT id FROM vector_top_k('idx_entities_embedding', vector32(?), 1) LIMIT 1", zero)
	if rows != nil {
		rows.Close()
	}
	s.capMu.Lock()
	s.caps = capFlags{checked: true, vectorTopK: err == nil}
	s.capMu.Unlock()
}

func (s *Store) vectorTopKEnabled() bool {
	s.capMu.RLock()
	defer s.capMu.RUnlock()
	return s.caps.vectorTopK
}

func (s *Store) disableVectorTopK() {
	s.capMu.Lock()
	s.caps.vectorTopK = false
	s.capMu.Unlock()
}
