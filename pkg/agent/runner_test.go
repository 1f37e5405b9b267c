package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/llm"
	"github.com/deepily/cosa/pkg/services"
)

const testTemplate = `Today is {date}.
Answer the following question by writing python code.

Question: {question}

Respond using this schema:
{response_schema}
`

func mathAgentConfig() *config.AgentConfig {
	return &config.AgentConfig{
		RoutingCommand:     config.CommandMath,
		LLMSpecKey:         "openai:gpt-4o-mini",
		PromptTemplate:     "math.txt",
		SerializationTopic: "math",
		ExpectedFields:     []string{"thoughts", "code", "example", "returns"},
		FormatterMode:      config.FormatterConversational,
		ProducesCode:       true,
		Cacheable:          true,
	}
}

func testLLMConfig() *config.LLMConfig {
	return &config.LLMConfig{
		FormatterModel:        "openai:gpt-4o-mini",
		DebugModelsMinimalist: []string{"openai:cheap"},
		DebugModelsFull:       []string{"openai:big"},
		ParseStrategy:         config.ParseBaseline,
	}
}

func writePromptDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math.txt"),
		[]byte(testTemplate), 0o644))
	return dir
}

func TestDoAllHappyPath(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)
	client.EnqueueForModel("openai:gpt-4o-mini",
		"<rephrased-answer>Two plus two is four.</rephrased-answer>")

	coder := &MockCodeRunner{Results: []*RunResult{{ReturnCode: 0, Output: "4"}}}
	r := NewRunner(mathAgentConfig(), testLLMConfig(), client, coder,
		writePromptDir(t), "what is two plus two", nil)

	answer, err := r.DoAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Two plus two is four.", answer)
	assert.Equal(t, "4", r.Answer)
	assert.Contains(t, r.Prompt, "what is two plus two")
	assert.Contains(t, r.Prompt, "<response>", "schema placeholder is expanded")
	assert.NotContains(t, r.Prompt, "{response_schema}")
	assert.Equal(t, 2, client.CallCount)
	assert.Positive(t, r.Usage.TotalTokens)
}

func TestTerseFormatterShortCircuits(t *testing.T) {
	cfg := mathAgentConfig()
	cfg.FormatterMode = config.FormatterTerse

	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)

	coder := &MockCodeRunner{Results: []*RunResult{{ReturnCode: 0, Output: "4"}}}
	r := NewRunner(cfg, testLLMConfig(), client, coder,
		writePromptDir(t), "what is two plus two", nil)

	answer, err := r.DoAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "4", answer)
	assert.Equal(t, 1, client.CallCount, "no formatter call in terse mode")
}

func TestNonCodeFamilySkipsExecution(t *testing.T) {
	cfg := &config.AgentConfig{
		RoutingCommand:     config.CommandWeather,
		LLMSpecKey:         "openai:gpt-4o-mini",
		PromptTemplate:     "math.txt",
		SerializationTopic: "weather",
		ExpectedFields:     []string{"thoughts", "answer"},
		FormatterMode:      config.FormatterTerse,
	}
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini",
		"<response><thoughts>t</thoughts><answer>It is sunny.</answer></response>")

	coder := &MockCodeRunner{}
	r := NewRunner(cfg, testLLMConfig(), client, coder,
		writePromptDir(t), "what is the weather", nil)

	answer, err := r.DoAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", answer)
	assert.Empty(t, coder.Calls, "non-code families never hit the sandbox")
}

func TestAutoDebugRepairsOnSecondPass(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)
	// Minimalist pass produces code that still fails.
	client.EnqueueForModel("openai:cheap",
		"<code><line>print(ad(2, 2))</line></code>")
	// Full pass repairs it.
	client.EnqueueForModel("openai:big",
		"<code><line>def add(a, b):</line><line>    return a + b</line><line>print(add(2, 2))</line></code>")

	coder := &MockCodeRunner{Results: []*RunResult{
		{ReturnCode: 1, Stderr: "NameError: name 'ad' is not defined"},
		{ReturnCode: 1, Stderr: "NameError: name 'ad' is not defined"},
		{ReturnCode: 0, Output: "4"},
	}}
	r := NewRunner(mathAgentConfig(), testLLMConfig(), client, coder,
		writePromptDir(t), "what is two plus two", nil)

	require.NoError(t, r.RunPrompt(context.Background()))
	require.NoError(t, r.RunCode(context.Background(), true))

	assert.Equal(t, "4", r.Answer)
	assert.Len(t, coder.Calls, 3)
	assert.Contains(t, r.Parsed.Code[len(r.Parsed.Code)-1], "print(add(2, 2))",
		"repaired code replaces the original")
}

func TestAutoDebugExhaustion(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)
	client.EnqueueForModel("openai:cheap", "<code><line>still broken</line></code>")
	client.EnqueueForModel("openai:big", "<code><line>still broken</line></code>")

	coder := &MockCodeRunner{Results: []*RunResult{
		{ReturnCode: 1, Stderr: "SyntaxError: invalid syntax"},
	}}
	r := NewRunner(mathAgentConfig(), testLLMConfig(), client, coder,
		writePromptDir(t), "what is two plus two", nil)

	require.NoError(t, r.RunPrompt(context.Background()))
	err := r.RunCode(context.Background(), true)

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCodeGenerationFailed)
	assert.Contains(t, err.Error(), "Code generation failed:")
}

func TestRunCodeWithoutAutoDebug(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)

	coder := &MockCodeRunner{Results: []*RunResult{
		{ReturnCode: 1, Stderr: "boom"},
	}}
	r := NewRunner(mathAgentConfig(), testLLMConfig(), client, coder,
		writePromptDir(t), "what is two plus two", nil)

	require.NoError(t, r.RunPrompt(context.Background()))
	err := r.RunCode(context.Background(), false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, services.ErrCodeGenerationFailed)
	assert.Equal(t, 1, client.CallCount, "no debug calls without auto-debug")
}

func TestSerializerSave(t *testing.T) {
	root := t.TempDir()
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)
	client.EnqueueForModel("openai:gpt-4o-mini",
		"<rephrased-answer>Two plus two is four.</rephrased-answer>")

	coder := &MockCodeRunner{Results: []*RunResult{{ReturnCode: 0, Output: "4"}}}
	r := NewRunner(mathAgentConfig(), testLLMConfig(), client, coder,
		writePromptDir(t), "what is two plus two", nil)
	_, err := r.DoAll(context.Background())
	require.NoError(t, err)

	s := &Serializer{Root: root}
	path, err := s.Save(r)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "math-what-is-two-plus-two-")

	data, err := os.ReadFile(filepath.Join(root, "io", "last_response.json"))
	require.NoError(t, err)
	var record map[string]any
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, "Two plus two is four.", record["answer_conversational"])
	assert.NotContains(t, record, "session_id")
}
