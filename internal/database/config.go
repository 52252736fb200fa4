package database

import (
	"os"
	"strconv"
)

// Config holds the entity store configuration
type Config struct {
	URL           string
	AuthToken     string
	EmbeddingDims int

	// Connection pool tuning
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

// NewConfig creates a new Config from environment variables
func NewConfig() *Config {
	url := os.Getenv("LIBSQL_URL")
	if url == "" {
		url = "file:./vulnalign.db"
	}

	dims := 768
	if v := os.Getenv("EMBEDDING_DIMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dims = n
		}
	}

	return &Config{
		URL:           url,
		AuthToken:     os.Getenv("LIBSQL_AUTH_TOKEN"),
		EmbeddingDims: dims,
	}
}
