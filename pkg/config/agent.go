package config

import (
	"fmt"
	"sort"
)

// Routing command constants for the built-in agent families.
const (
	CommandMath         = "agent router go to math"
	CommandDateTime     = "agent router go to date and time"
	CommandWeather      = "agent router go to weather"
	CommandCalendar     = "agent router go to calendar"
	CommandTodoList     = "agent router go to todo list"
	CommandReceptionist = "agent router go to receptionist"
	CommandResearch     = "agent router go to deep research"
	CommandPodcast      = "agent router go to podcast"
)

// FormatterMode selects how a raw answer becomes user-facing text.
type FormatterMode string

const (
	// FormatterConversational rephrases the raw answer via a secondary
	// LLM call.
	FormatterConversational FormatterMode = "conversational"

	// FormatterTerse returns the raw answer verbatim.
	FormatterTerse FormatterMode = "terse"
)

// AgentConfig is the capability record for one routing command. The agent
// execution core is a single engine parameterized by this record; there is
// no per-family subclassing.
type AgentConfig struct {
	RoutingCommand string `yaml:"routing_command"`

	// LLMSpecKey is the model identifier used for the main prompt.
	LLMSpecKey string `yaml:"llm_spec_key"`

	// PromptTemplate is the template file path, relative to Root.
	PromptTemplate string `yaml:"prompt_template"`

	// SerializationTopic names the agent-log file prefix.
	SerializationTopic string `yaml:"serialization_topic"`

	// ExpectedFields are the XML response field names this family produces.
	ExpectedFields []string `yaml:"expected_fields"`

	FormatterMode FormatterMode `yaml:"formatter_mode"`

	// ProducesCode marks families whose response includes runnable code.
	ProducesCode bool `yaml:"produces_code"`

	// Cacheable marks families whose answers may be stored as solution
	// snapshots. Ephemeral families (weather) are excluded.
	Cacheable bool `yaml:"cacheable"`

	// Restorable marks families that opt into deserialization from a
	// prior agent log.
	Restorable bool `yaml:"restorable"`

	// TabularContext marks families whose generated code receives a
	// DataFrame path argument.
	TabularContext bool `yaml:"tabular_context"`
}

// Validate checks a capability record for required fields.
func (a *AgentConfig) Validate() error {
	if a.RoutingCommand == "" {
		return fmt.Errorf("agent config missing routing_command")
	}
	if a.LLMSpecKey == "" {
		return fmt.Errorf("agent %q missing llm_spec_key", a.RoutingCommand)
	}
	if a.PromptTemplate == "" {
		return fmt.Errorf("agent %q missing prompt_template", a.RoutingCommand)
	}
	if a.SerializationTopic == "" {
		return fmt.Errorf("agent %q missing serialization_topic", a.RoutingCommand)
	}
	switch a.FormatterMode {
	case FormatterConversational, FormatterTerse:
	default:
		return fmt.Errorf("agent %q has unknown formatter_mode %q", a.RoutingCommand, a.FormatterMode)
	}
	return nil
}

// AgentRegistry maps routing commands to capability records.
type AgentRegistry struct {
	agents map[string]*AgentConfig
}

// NewAgentRegistry builds a registry from the given records, validating each.
func NewAgentRegistry(agents []*AgentConfig) (*AgentRegistry, error) {
	r := &AgentRegistry{agents: make(map[string]*AgentConfig, len(agents))}
	for _, a := range agents {
		if err := a.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.agents[a.RoutingCommand]; dup {
			return nil, fmt.Errorf("duplicate agent config for %q", a.RoutingCommand)
		}
		r.agents[a.RoutingCommand] = a
	}
	return r, nil
}

// Get retrieves a capability record by routing command.
func (r *AgentRegistry) Get(routingCommand string) (*AgentConfig, error) {
	a, ok := r.agents[routingCommand]
	if !ok {
		return nil, fmt.Errorf("unknown routing command %q", routingCommand)
	}
	return a, nil
}

// Has reports whether a routing command is registered.
func (r *AgentRegistry) Has(routingCommand string) bool {
	_, ok := r.agents[routingCommand]
	return ok
}

// Len returns the number of registered agent families.
func (r *AgentRegistry) Len() int {
	return len(r.agents)
}

// Commands returns all registered routing commands, sorted.
func (r *AgentRegistry) Commands() []string {
	cmds := make([]string, 0, len(r.agents))
	for c := range r.agents {
		cmds = append(cmds, c)
	}
	sort.Strings(cmds)
	return cmds
}

// builtinAgents returns the default capability table. YAML entries with the
// same routing command override these wholesale.
func builtinAgents() []*AgentConfig {
	codeFields := []string{"thoughts", "brainstorm", "evaluation", "code", "example", "returns", "explanation"}
	return []*AgentConfig{
		{
			RoutingCommand:     CommandMath,
			LLMSpecKey:         "openai:gpt-4o-mini",
			PromptTemplate:     "src/conf/prompts/agents/math.txt",
			SerializationTopic: "math",
			ExpectedFields:     codeFields,
			FormatterMode:      FormatterConversational,
			ProducesCode:       true,
			Cacheable:          true,
			Restorable:         true,
		},
		{
			RoutingCommand:     CommandDateTime,
			LLMSpecKey:         "openai:gpt-4o-mini",
			PromptTemplate:     "src/conf/prompts/agents/date-and-time.txt",
			SerializationTopic: "date-and-time",
			ExpectedFields:     codeFields,
			FormatterMode:      FormatterConversational,
			ProducesCode:       true,
			Cacheable:          true,
			Restorable:         true,
		},
		{
			RoutingCommand:     CommandWeather,
			LLMSpecKey:         "openai:gpt-4o-mini",
			PromptTemplate:     "src/conf/prompts/agents/weather.txt",
			SerializationTopic: "weather",
			ExpectedFields:     []string{"thoughts", "answer"},
			FormatterMode:      FormatterConversational,
			// Weather answers go stale immediately; never snapshot them.
			Cacheable: false,
		},
		{
			RoutingCommand:     CommandCalendar,
			LLMSpecKey:         "openai:gpt-4o",
			PromptTemplate:     "src/conf/prompts/agents/calendaring.txt",
			SerializationTopic: "calendar",
			ExpectedFields:     codeFields,
			FormatterMode:      FormatterConversational,
			ProducesCode:       true,
			Cacheable:          true,
			TabularContext:     true,
		},
		{
			RoutingCommand:     CommandTodoList,
			LLMSpecKey:         "openai:gpt-4o",
			PromptTemplate:     "src/conf/prompts/agents/todo-lists.txt",
			SerializationTopic: "todo-list",
			ExpectedFields:     codeFields,
			FormatterMode:      FormatterConversational,
			ProducesCode:       true,
			Cacheable:          true,
			TabularContext:     true,
		},
		{
			RoutingCommand:     CommandReceptionist,
			LLMSpecKey:         "openai:gpt-4o-mini",
			PromptTemplate:     "src/conf/prompts/agents/receptionist.txt",
			SerializationTopic: "receptionist",
			ExpectedFields:     []string{"category", "answer"},
			FormatterMode:      FormatterTerse,
			Cacheable:          false,
		},
		{
			RoutingCommand:     CommandResearch,
			LLMSpecKey:         "openai:gpt-4o",
			PromptTemplate:     "src/conf/prompts/agents/deep-research.txt",
			SerializationTopic: "deep-research",
			ExpectedFields:     []string{"thoughts", "answer"},
			FormatterMode:      FormatterTerse,
			Cacheable:          false,
		},
		{
			RoutingCommand:     CommandPodcast,
			LLMSpecKey:         "openai:gpt-4o",
			PromptTemplate:     "src/conf/prompts/agents/podcast.txt",
			SerializationTopic: "podcast",
			ExpectedFields:     []string{"thoughts", "answer"},
			FormatterMode:      FormatterTerse,
			Cacheable:          false,
		},
	}
}
