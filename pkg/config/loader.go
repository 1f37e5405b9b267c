package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// cosaYAML represents the complete cosa.yaml file structure.
type cosaYAML struct {
	Root      string                  `yaml:"root"`
	Queue     *QueueConfig            `yaml:"queue"`
	Embedding *EmbeddingConfig        `yaml:"embedding"`
	Memory    *MemoryConfig           `yaml:"memory"`
	Server    *ServerConfig           `yaml:"server"`
	LLM       *LLMConfig              `yaml:"llm"`
	Agents    map[string]*AgentConfig `yaml:"agents"`
	Keys      map[string]string       `yaml:"keys"`
}

// Initialize loads, validates, and returns a ready-to-use configuration
// snapshot. configDir must contain cosa.yaml; missing sections fall back to
// built-in defaults.
func Initialize(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "cosa.yaml")

	var fileCfg cosaYAML
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		slog.Warn("No cosa.yaml found, using built-in defaults", "path", path)
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{
		configDir: configDir,
		Root:      fileCfg.Root,
		Queue:     fileCfg.Queue,
		Embedding: fileCfg.Embedding,
		Memory:    fileCfg.Memory,
		Server:    fileCfg.Server,
		LLM:       fileCfg.LLM,
	}
	applyDefaults(cfg)

	// Built-in agent table first; YAML entries override wholesale.
	agents := builtinAgents()
	byCommand := make(map[string]*AgentConfig, len(agents))
	for _, a := range agents {
		byCommand[a.RoutingCommand] = a
	}
	for name, a := range fileCfg.Agents {
		if a.RoutingCommand == "" {
			a.RoutingCommand = name
		}
		byCommand[a.RoutingCommand] = a
	}
	merged := make([]*AgentConfig, 0, len(byCommand))
	for _, a := range byCommand {
		merged = append(merged, a)
	}
	registry, err := NewAgentRegistry(merged)
	if err != nil {
		return nil, fmt.Errorf("building agent registry: %w", err)
	}
	cfg.AgentRegistry = registry

	cfg.keys = buildKeys(registry, fileCfg.Keys)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills nil sections and zero values with built-in defaults.
func applyDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Queue == nil {
		cfg.Queue = DefaultQueueConfig()
	}
	if cfg.LLM == nil {
		cfg.LLM = DefaultLLMConfig()
	}
	if cfg.Embedding == nil {
		cfg.Embedding = &EmbeddingConfig{}
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1536
	}
	if cfg.Embedding.DictionaryDir == "" {
		cfg.Embedding.DictionaryDir = filepath.Join(cfg.Root, "src/conf/dictionaries")
	}
	if cfg.Memory == nil {
		cfg.Memory = &MemoryConfig{}
	}
	if cfg.Memory.SolutionsDir == "" {
		cfg.Memory.SolutionsDir = "src/conf/long-term-memory/solutions"
	}
	if !filepath.IsAbs(cfg.Memory.SolutionsDir) {
		cfg.Memory.SolutionsDir = filepath.Join(cfg.Root, cfg.Memory.SolutionsDir)
	}
	if cfg.Memory.SimilarityThreshold == 0 {
		cfg.Memory.SimilarityThreshold = 90.0
	}
	if cfg.Server == nil {
		cfg.Server = &ServerConfig{}
	}
	if cfg.Server.WSWriteTimeoutSeconds == 0 {
		cfg.Server.WSWriteTimeoutSeconds = 10
	}
	if cfg.Server.WSSendBuffer == 0 {
		cfg.Server.WSSendBuffer = 64
	}
	if cfg.Server.AuthSecret == "" {
		cfg.Server.AuthSecret = os.Getenv("COSA_AUTH_SECRET")
	}
}

// buildKeys materializes the flat key-value provider from the agent registry
// plus global keys, with explicit YAML entries taking precedence.
func buildKeys(registry *AgentRegistry, explicit map[string]string) map[string]string {
	keys := make(map[string]string)
	for _, cmd := range registry.Commands() {
		a, _ := registry.Get(cmd)
		keys["llm spec key for "+cmd] = a.LLMSpecKey
		keys["prompt template for "+cmd] = a.PromptTemplate
		keys["serialization topic for "+cmd] = a.SerializationTopic
	}
	for k, v := range explicit {
		keys[k] = v
	}
	return keys
}

// validate performs cross-section sanity checks.
func validate(cfg *Config) error {
	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be >= 1, got %d", cfg.Queue.WorkerCount)
	}
	if cfg.Embedding.Dimensions < 1 {
		return fmt.Errorf("embedding.dimensions must be >= 1, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Memory.SimilarityThreshold < 0 || cfg.Memory.SimilarityThreshold > 100 {
		return fmt.Errorf("memory.similarity_threshold must be in [0,100], got %v", cfg.Memory.SimilarityThreshold)
	}
	switch cfg.LLM.ParseStrategy {
	case ParseBaseline, ParseStructured, ParseHybrid:
	default:
		return fmt.Errorf("llm.parse_strategy must be baseline, structured, or hybrid; got %q", cfg.LLM.ParseStrategy)
	}
	return nil
}
