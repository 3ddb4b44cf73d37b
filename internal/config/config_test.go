package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderLocal, cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 6, cfg.Engine.MaxIterations)
	assert.Equal(t, 120_000, cfg.Engine.SlotTimeoutMS)
	assert.Equal(t, 500, cfg.Engine.ContentTruncation)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: hybrid
  model: llama3
  endpoints:
    local: http://localhost:11434
    vllm: http://localhost:8000
  per_stage:
    research: local
    final_report: vllm
search:
  api_key: tv-123
engine:
  max_iterations: 4
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderHybrid, cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:8000", cfg.LLM.Endpoints["vllm"])
	assert.Equal(t, "vllm", cfg.LLM.PerStage["final_report"])
	assert.Equal(t, 4, cfg.Engine.MaxIterations)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: local
  temprature: 0.5
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config keys")
	assert.Contains(t, err.Error(), "llm.temprature")
}

func TestLoadRejectsBadProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestLoadRejectsUnroutedPerStage(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: hybrid
  per_stage:
    research: missing-endpoint
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unconfigured endpoint")
}

func TestLoadRejectsBadStage(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: hybrid
  per_stage:
    brainstorm: local
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown stage")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
log:
  level: verbose
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
