package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/llm"
	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

func testService(t *testing.T, llmCfg *config.LLMConfig, client llm.Client, coder CodeRunner) *Service {
	t.Helper()
	registry, err := config.NewAgentRegistry([]*config.AgentConfig{mathAgentConfig()})
	require.NoError(t, err)
	return NewService(registry, llmCfg, client, coder, writePromptDir(t), nil, nil)
}

func TestRunJobWritesOutcome(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)
	client.EnqueueForModel("openai:gpt-4o-mini",
		"<rephrased-answer>Two plus two is four.</rephrased-answer>")
	coder := &MockCodeRunner{Results: []*RunResult{{ReturnCode: 0, Output: "4"}}}

	svc := testService(t, testLLMConfig(), client, coder)
	job := &models.Job{IDHash: "job1", RoutingCommand: config.CommandMath,
		Question: "what is two plus two"}
	require.NoError(t, svc.RunJob(context.Background(), job))

	assert.Equal(t, "4", job.Answer)
	assert.Equal(t, "Two plus two is four.", job.AnswerConversational)
	assert.Equal(t, "math", job.JobType)
	assert.Equal(t, int64(60), job.CostTokens, "two calls at thirty tokens each")
	assert.Contains(t, job.CostSummary, "60 tokens")
}

func TestRunJobReportsCostOnFailure(t *testing.T) {
	client := llm.NewMockClient()
	client.EnqueueForModel("openai:gpt-4o-mini", mathResponse)
	coder := &MockCodeRunner{Results: []*RunResult{
		{ReturnCode: 1, Stderr: "SyntaxError: invalid syntax"},
	}}

	// Empty debug model lists make the first sandbox failure terminal.
	llmCfg := &config.LLMConfig{
		FormatterModel: "openai:gpt-4o-mini",
		ParseStrategy:  config.ParseBaseline,
	}
	svc := testService(t, llmCfg, client, coder)
	job := &models.Job{IDHash: "job1", RoutingCommand: config.CommandMath,
		Question: "what is two plus two"}

	err := svc.RunJob(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCodeGenerationFailed)

	// The prompt call's tokens were spent before the failure; cost
	// aggregation must still see them.
	assert.Equal(t, int64(30), job.CostTokens)
	assert.Contains(t, job.CostSummary, "30 tokens")
	assert.Empty(t, job.Answer)
}
