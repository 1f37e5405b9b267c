// Package config loads and validates the control-plane configuration:
// queue tuning, embedding settings, memory paths, and the per-routing-command
// agent capability registry. Configuration is an immutable snapshot built at
// startup; components receive the pieces they need at construction and are
// never reconfigured in place.
package config

import "fmt"

// Config is the umbrella configuration object returned by Initialize().
type Config struct {
	configDir string

	// Root is the data directory under which snapshots, agent logs, and
	// prompt templates live.
	Root string

	Queue     *QueueConfig
	Embedding *EmbeddingConfig
	Memory    *MemoryConfig
	Server    *ServerConfig
	LLM       *LLMConfig

	// AgentRegistry holds the capability record for every routing command.
	AgentRegistry *AgentRegistry

	// keys is the flat key-value provider backing GetKey. Derived keys
	// ("llm spec key for {rc}" etc.) are materialized from the agent
	// registry at load time; explicit entries in the YAML win.
	keys map[string]string
}

// EmbeddingConfig controls the embedding service.
type EmbeddingConfig struct {
	// Model is the embedding model identifier. Changing it logically
	// invalidates the cache (the cache is partitioned by model).
	Model string `yaml:"model"`

	// Dimensions is the fixed embedding dimensionality D.
	Dimensions int `yaml:"dimensions"`

	// NormalizeForCache enables gist normalization and symbol expansion
	// before cache-key derivation for text (not code) embeddings.
	NormalizeForCache bool `yaml:"normalize_for_cache"`

	// AsyncIOLog selects the background-worker write mode for the I/O log.
	AsyncIOLog bool `yaml:"async_io_log"`

	// DictionaryDir holds the punctuation/numbers/domains expansion maps.
	DictionaryDir string `yaml:"dictionary_dir"`
}

// MemoryConfig controls the solution-snapshot store.
type MemoryConfig struct {
	// SolutionsDir is the snapshot directory. Relative paths are resolved
	// against Root at load time.
	SolutionsDir string `yaml:"solutions_dir"`

	// SimilarityThreshold is the 0-100 acceptance score for cache hits.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ServerConfig holds HTTP/WS surface settings.
type ServerConfig struct {
	// WSWriteTimeoutSeconds bounds a single WebSocket send.
	WSWriteTimeoutSeconds int `yaml:"ws_write_timeout_seconds"`

	// WSSendBuffer is the per-session outbound event buffer. Overflow
	// closes the session.
	WSSendBuffer int `yaml:"ws_send_buffer"`

	// AuthSecret signs and verifies API tokens.
	AuthSecret string `yaml:"auth_secret"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetKey resolves a flat configuration key such as
// "llm spec key for agent router go to math". Explicit YAML entries take
// precedence over values derived from the agent registry.
func (c *Config) GetKey(key string) (string, bool) {
	v, ok := c.keys[key]
	return v, ok
}

// MustGetKey is GetKey but returns an error for missing keys, for call
// sites where a miss is a configuration fault.
func (c *Config) MustGetKey(key string) (string, error) {
	if v, ok := c.keys[key]; ok {
		return v, nil
	}
	return "", fmt.Errorf("missing configuration key %q", key)
}

// GetAgent retrieves a capability record by routing command.
func (c *Config) GetAgent(routingCommand string) (*AgentConfig, error) {
	return c.AgentRegistry.Get(routingCommand)
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	Agents int
	Keys   int
}

// Stats returns configuration statistics for startup logging.
func (c *Config) Stats() Stats {
	s := Stats{Keys: len(c.keys)}
	if c.AgentRegistry != nil {
		s.Agents = c.AgentRegistry.Len()
	}
	return s
}
