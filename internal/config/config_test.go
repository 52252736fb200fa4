package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.Threshold)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 768, cfg.EmbeddingDims)
	assert.Equal(t, "file:./vulnalign.db", cfg.LibSQLURL)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulnalign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"threshold: 0.9\nworkers: 8\nprovider: ollama\nlibsql_url: file:./custom.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Threshold)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "ollama", cfg.Provider)
	assert.Equal(t, "file:./custom.db", cfg.LibSQLURL)
	// Unset keys keep their defaults.
	assert.Equal(t, 768, cfg.EmbeddingDims)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulnalign.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.9\n"), 0o644))

	t.Setenv("ALIGN_THRESHOLD", "0.7")
	t.Setenv("ALIGN_WORKERS", "2")
	t.Setenv("LIBSQL_URL", "file:./env.db")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, cfg.Threshold)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "file:./env.db", cfg.LibSQLURL)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("ALIGN_THRESHOLD", "1.5")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vulnalign.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: [oops"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}
