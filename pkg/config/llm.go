package config

// ParseStrategy selects how XML-like LLM responses are parsed.
type ParseStrategy string

const (
	// ParseBaseline tag-scans the raw text.
	ParseBaseline ParseStrategy = "baseline"

	// ParseStructured validates against the family's declared field set,
	// falling back to baseline on failure.
	ParseStructured ParseStrategy = "structured"

	// ParseHybrid runs both, logs differences, and returns the structured
	// result.
	ParseHybrid ParseStrategy = "hybrid"
)

// LLMConfig holds model selection that is not per-routing-command.
type LLMConfig struct {
	// FormatterModel is the secondary model used to rephrase raw answers.
	FormatterModel string `yaml:"formatter_model"`

	// DebugModelsMinimalist is the model list for the cheap first debug
	// pass (smallest prompt, cheapest models first).
	DebugModelsMinimalist []string `yaml:"debug_models_minimalist"`

	// DebugModelsFull is the model list for the second debug pass, which
	// carries the error trace and prior attempts.
	DebugModelsFull []string `yaml:"debug_models_full"`

	// ParseStrategy is the global response-parsing strategy.
	ParseStrategy ParseStrategy `yaml:"parse_strategy"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		FormatterModel:        "openai:gpt-4o-mini",
		DebugModelsMinimalist: []string{"openai:gpt-4o-mini"},
		DebugModelsFull:       []string{"openai:gpt-4o-mini", "openai:gpt-4o"},
		ParseStrategy:         ParseBaseline,
	}
}
