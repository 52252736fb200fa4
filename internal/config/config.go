package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is looked up in the working directory when no config path is given.
const DefaultFile = "vulnalign.yaml"

// Config holds pipeline-wide settings. Values resolve in three layers:
// built-in defaults, then the YAML file, then environment variables.
type Config struct {
	// Threshold is the cosine similarity at or above which a raw
	// vulnerability type matches an existing canonical entity.
	Threshold float64 `yaml:"threshold"`
	// Workers is the batch worker pool size.
	Workers int `yaml:"workers"`
	// Provider selects the embeddings backend ("openai", "ollama", "localai").
	Provider string `yaml:"provider"`
	// EmbeddingDims is the fixed dimensionality of all stored vectors.
	EmbeddingDims int `yaml:"embedding_dims"`

	LibSQLURL string `yaml:"libsql_url"`
	AuthToken string `yaml:"auth_token"`

	InputDir  string `yaml:"input_dir"`
	OutputDir string `yaml:"output_dir"`
}

func defaults() Config {
	return Config{
		Threshold:     0.85,
		Workers:       4,
		Provider:      "openai",
		EmbeddingDims: 768,
		LibSQLURL:     "file:./vulnalign.db",
		InputDir:      "./audit_reports",
		OutputDir:     "./extracted_knowledge",
	}
}

// Load resolves configuration from the given YAML path and the environment.
// An empty path falls back to DefaultFile; a missing file is not an error,
// a malformed one is.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Optional default file.
	default:
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ALIGN_THRESHOLD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Threshold = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALIGN_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDINGS_PROVIDER")); v != "" {
		cfg.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("EMBEDDING_DIMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDims = n
		}
	}
	if v := os.Getenv("LIBSQL_URL"); v != "" {
		cfg.LibSQLURL = v
	}
	if v := os.Getenv("LIBSQL_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
}

func (c Config) validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %g", c.Threshold)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("embedding_dims must be positive, got %d", c.EmbeddingDims)
	}
	return nil
}
