package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"port": 8000,
		"embedder": {"provider": "openai", "model": "text-embedding-3-small"},
		"generator": {"providers": [{"provider": "openai", "model": "gpt-4o-mini"}]}
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 1000, cfg.Chunker.ChunkSize)
	require.Equal(t, 200, cfg.Chunker.Overlap())
	require.Equal(t, 4, cfg.Retrieval.TopK)
	require.Equal(t, 32, cfg.Embedder.BatchSize)
	require.Equal(t, 60, cfg.Embedder.Timeout)
	require.Equal(t, 60, cfg.Generator.Timeout)
	require.Equal(t, "bolt", cfg.VectorIndex.Type)
	require.Equal(t, map[string]interface{}{"path": "./data/index.db"}, cfg.VectorIndex.Data)
	require.Equal(t, "local", cfg.FileStore.Type)
	require.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadYAMLWithEnv(t *testing.T) {
	t.Setenv("DOCRAG_TEST_KEY", "sk-test")
	path := writeConfig(t, "config.yaml", `
port: 9000
chunker:
  chunk_size: 500
  chunk_overlap: 0
embedder:
  provider: openai
  data:
    api_key: ${DOCRAG_TEST_KEY}
generator:
  providers:
    - provider: gemini
      model: gemini-2.0-flash
cors_origins:
  - http://localhost:3004
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 500, cfg.Chunker.ChunkSize)
	require.Equal(t, 0, cfg.Chunker.Overlap())
	require.Equal(t, map[string]interface{}{"api_key": "sk-test"}, cfg.Embedder.Data)
	require.Equal(t, []string{"http://localhost:3004"}, cfg.CORSOrigins)
	require.Equal(t, "gemini", cfg.Generator.Providers[0].Provider)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing port", content: `{"embedder":{"provider":"openai"},"generator":{"providers":[{"provider":"openai"}]}}`},
		{name: "overlap too large", content: `{"port":1,"chunker":{"chunk_size":100,"chunk_overlap":100},"embedder":{"provider":"openai"},"generator":{"providers":[{"provider":"openai"}]}}`},
		{name: "missing embedder", content: `{"port":1,"generator":{"providers":[{"provider":"openai"}]}}`},
		{name: "missing generator", content: `{"port":1,"embedder":{"provider":"openai"}}`},
		{name: "bad json", content: `{"port":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.json", tt.content))
			require.Error(t, err)
		})
	}
}
