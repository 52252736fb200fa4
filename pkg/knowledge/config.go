package knowledge

import (
	"github.com/auditgraph/vulnalign-go/internal/database"
)

// Config exposes a stable wrapper for store configuration in package mode.
// Most fields map directly to internal/database.Config.
type Config struct {
	URL            string
	AuthToken      string
	EmbeddingDims  int
	Threshold      float64
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdleSec int
	ConnMaxLifeSec int
}

func (c *Config) toInternal() *database.Config {
	return &database.Config{
		URL:            c.URL,
		AuthToken:      c.AuthToken,
		EmbeddingDims:  c.EmbeddingDims,
		MaxOpenConns:   c.MaxOpenConns,
		MaxIdleConns:   c.MaxIdleConns,
		ConnMaxIdleSec: c.ConnMaxIdleSec,
		ConnMaxLifeSec: c.ConnMaxLifeSec,
	}
}
