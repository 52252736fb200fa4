package database

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"strings"
)

// vectorZeroString builds a zero vector string for current embedding dims
func (s *Store) vectorZeroString() string {
	parts := make([]string, s.config.EmbeddingDims)
	for i := range parts {
		parts[i] = "0.0"
	}
	return fmt.Sprintf("[%s]", strings.Join(parts, ", "))
}

// vectorToString converts a float32 array to libSQL vector string format.
// The vector must match the configured dimension exactly; the store never
// pads or truncates (a wrong-length vector means the wrong embedding model).
func (s *Store) vectorToString(numbers []float32) (string, error) {
	if len(numbers) != s.config.EmbeddingDims {
		return "", fmt.Errorf("vector must have exactly %d dimensions, got %d: %w", s.config.EmbeddingDims, len(numbers), ErrDimsMismatch)
	}

	// Validate all elements are finite numbers
	sanitized := make([]float32, len(numbers))
	for i, n := range numbers {
		if math.IsNaN(float64(n)) || math.IsInf(float64(n), 0) {
			log.Printf("Invalid vector value detected, using 0.0 instead of: %f", n)
			sanitized[i] = 0.0
		} else {
			sanitized[i] = n
		}
	}

	strNumbers := make([]string, len(sanitized))
	for i, n := range sanitized {
		strNumbers[i] = fmt.Sprintf("%f", n)
	}

	return fmt.Sprintf("[%s]", strings.Join(strNumbers, ", ")), nil
}

// extractVector extracts a vector from binary format (F32_BLOB)
func (s *Store) extractVector(embedding []byte) ([]float32, error) {
	if len(embedding) == 0 {
		return nil, nil
	}

	expectedBytes := s.config.EmbeddingDims * 4
	if len(embedding) != expectedBytes {
		return nil, fmt.Errorf("invalid embedding size: expected %d bytes for %d-dimensional vector, got %d: %w",
			expectedBytes, s.config.EmbeddingDims, len(embedding), ErrDimsMismatch)
	}

	vector := make([]float32, s.config.EmbeddingDims)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(embedding[i*4 : (i+1)*4])
		vector[i] = math.Float32frombits(bits)
	}

	return vector, nil
}
