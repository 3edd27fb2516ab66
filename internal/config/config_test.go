package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/forge/internal/domain"
	"github.com/anvil-platform/forge/internal/rules"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, BackendNone, cfg.Semantic.Backend)
	assert.Equal(t, 30*time.Second, cfg.Build.Timeout)
	assert.Equal(t, 4096, cfg.Semantic.CacheSize)

	_, err = cfg.SemanticLoader()
	assert.ErrorIs(t, err, ErrNoSemanticBackend)

	assert.Equal(t, domain.Defaults(), cfg.DomainList())
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfig(t, `
domains:
  - name: Cooking
    semantic_threshold: 0.65
    rules_file: /etc/forge/cooking.yaml
  - name: textiles
semantic:
  backend: ollama
  endpoint: http://ollama:11434
  timeout: 2s
build:
  workers: 4
  max_solutions: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Semantic.Timeout)
	assert.Equal(t, 4, cfg.Build.Workers)
	assert.Equal(t, 5, cfg.Build.MaxSolutions)

	assert.Equal(t, []domain.Domain{
		domain.Spec{Key: "manufacturing", Threshold: 0.8},
		domain.Spec{Key: "cooking", Threshold: 0.65},
		domain.Spec{Key: "textiles", Threshold: 0.8},
	}, cfg.DomainList())

	assert.Equal(t, map[string]rules.Source{
		"cooking": rules.FileSource{Path: "/etc/forge/cooking.yaml"},
	}, cfg.RuleSources())

	loader, err := cfg.SemanticLoader()
	require.NoError(t, err)
	assert.NotNil(t, loader)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FORGE_BUILD_MAX_SOLUTIONS", "3")
	t.Setenv("FORGE_SEMANTIC_BACKEND", "wordvectors")
	t.Setenv("FORGE_SEMANTIC_VECTORS_FILE", "/data/vectors.txt")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Build.MaxSolutions)
	assert.Equal(t, BackendWordVectors, cfg.Semantic.Backend)
	assert.Equal(t, "/data/vectors.txt", cfg.Semantic.VectorsFile)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown backend":      "semantic:\n  backend: bert\n",
		"wordvectors no file":  "semantic:\n  backend: wordvectors\n",
		"threshold range":      "domains:\n  - name: cooking\n    semantic_threshold: 1.5\n",
		"nameless domain":      "domains:\n  - semantic_threshold: 0.5\n",
		"duplicate domain":     "domains:\n  - name: cooking\n  - name: COOKING\n",
		"negative max results": "build:\n  max_solutions: -1\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
