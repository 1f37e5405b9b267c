package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaults(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Queue.WorkerCount)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.InDelta(t, 90.0, cfg.Memory.SimilarityThreshold, 0.001)
	assert.Equal(t, ParseBaseline, cfg.LLM.ParseStrategy)
	assert.GreaterOrEqual(t, cfg.AgentRegistry.Len(), 8)
}

func TestInitializeFromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `
root: /data/cosa
queue:
  worker_count: 4
  poll_interval: 100ms
  poll_interval_jitter: 50ms
  job_timeout: 5m
  graceful_shutdown_timeout: 5m
memory:
  similarity_threshold: 85.5
embedding:
  model: text-embedding-3-large
  dimensions: 3072
keys:
  "llm spec key for agent router go to math": "openai:gpt-4o"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cosa.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(dir)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, "/data/cosa", cfg.Root)
	assert.InDelta(t, 85.5, cfg.Memory.SimilarityThreshold, 0.001)
	assert.Equal(t, 3072, cfg.Embedding.Dimensions)

	// Explicit key overrides the registry-derived value.
	v, ok := cfg.GetKey("llm spec key for " + CommandMath)
	require.True(t, ok)
	assert.Equal(t, "openai:gpt-4o", v)

	// Derived keys still present for other commands.
	v, ok = cfg.GetKey("prompt template for " + CommandDateTime)
	require.True(t, ok)
	assert.NotEmpty(t, v)
}

func TestInitializeRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	yaml := `
queue:
  worker_count: -1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cosa.yaml"), []byte(yaml), 0o644))

	_, err := Initialize(dir)
	assert.Error(t, err)
}

func TestAgentConfigValidate(t *testing.T) {
	a := &AgentConfig{
		RoutingCommand:     CommandMath,
		LLMSpecKey:         "openai:gpt-4o-mini",
		PromptTemplate:     "prompts/math.txt",
		SerializationTopic: "math",
		FormatterMode:      FormatterConversational,
	}
	assert.NoError(t, a.Validate())

	a.FormatterMode = "loud"
	assert.Error(t, a.Validate())

	a.FormatterMode = FormatterTerse
	a.LLMSpecKey = ""
	assert.Error(t, a.Validate())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	a := &AgentConfig{
		RoutingCommand:     CommandMath,
		LLMSpecKey:         "m",
		PromptTemplate:     "p",
		SerializationTopic: "t",
		FormatterMode:      FormatterTerse,
	}
	_, err := NewAgentRegistry([]*AgentConfig{a, a})
	assert.Error(t, err)
}

func TestMustGetKeyMissing(t *testing.T) {
	cfg, err := Initialize(t.TempDir())
	require.NoError(t, err)

	_, err = cfg.MustGetKey("no such key")
	assert.Error(t, err)
}
