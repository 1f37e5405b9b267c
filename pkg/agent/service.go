package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/llm"
	"github.com/deepily/cosa/pkg/models"
)

// Service is the job-level entry point into the agent core. It owns the
// shared collaborators (model client, code runner, capability registry) and
// builds one Runner per job. Safe for concurrent use; each RunJob call gets
// its own Runner.
type Service struct {
	registry   *config.AgentRegistry
	llmCfg     *config.LLMConfig
	client     llm.Client
	coder      CodeRunner
	promptDir  string
	serializer *Serializer
	logger     *slog.Logger

	// DataFramePath is handed to tabular-context agents.
	DataFramePath string
}

// NewService wires the agent core. serializer may be nil to disable run
// records.
func NewService(registry *config.AgentRegistry, llmCfg *config.LLMConfig, client llm.Client,
	coder CodeRunner, promptDir string, serializer *Serializer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry:   registry,
		llmCfg:     llmCfg,
		client:     client,
		coder:      coder,
		promptDir:  promptDir,
		serializer: serializer,
		logger:     logger,
	}
}

// RunJob executes the full agent contract for a fresh job and writes the
// outcome back onto it. The job's normalized question drives the prompt.
func (s *Service) RunJob(ctx context.Context, job *models.Job) error {
	agentCfg, err := s.registry.Get(job.RoutingCommand)
	if err != nil {
		return err
	}

	question := job.LastQuestionAsked
	if question == "" {
		question = job.Question
	}

	r := NewRunner(agentCfg, s.llmCfg, s.client, s.coder, s.promptDir, question, s.logger)
	r.DataFramePath = s.DataFramePath

	answerConversational, err := r.DoAll(ctx)

	// Token accounting is written back even when the run fails, so callers
	// aggregating cost see the tokens spent before the failure.
	job.CostSummary = fmt.Sprintf("%d tokens (%d prompt, %d completion)",
		r.Usage.TotalTokens, r.Usage.PromptTokens, r.Usage.CompletionTokens)
	job.CostTokens = int64(r.Usage.TotalTokens)
	if err != nil {
		return err
	}

	job.Answer = r.Answer
	job.AnswerConversational = answerConversational
	job.JobType = agentCfg.SerializationTopic
	if r.Parsed != nil {
		job.Code = r.Parsed.Code
		job.CodeExample = r.Parsed.Get("example")
		job.CodeReturns = r.Parsed.Get("returns")
	}

	if s.serializer != nil {
		path, err := s.serializer.Save(r)
		if err != nil {
			s.logger.Warn("run record save failed", "job_id", job.IDHash, "error", err)
		} else {
			if job.Artifacts == nil {
				job.Artifacts = make(map[string]string)
			}
			job.Artifacts["run_record_path"] = path
		}
	}
	return nil
}

// FormatCachedAnswer runs only the formatter path, used when a job is
// served from a solution snapshot and no code executes.
func (s *Service) FormatCachedAnswer(ctx context.Context, question, answer, routingCommand string) (string, error) {
	agentCfg, err := s.registry.Get(routingCommand)
	if err != nil {
		return "", err
	}
	r := NewRunner(agentCfg, s.llmCfg, s.client, s.coder, s.promptDir, question, s.logger)
	r.Answer = answer
	if err := r.RunFormatter(ctx); err != nil {
		return "", err
	}
	return r.AnswerConversational, nil
}

// Route classifies a question into a routing command. The model is asked to
// pick from the registered commands; anything unverifiable falls back to the
// receptionist family.
func (s *Service) Route(ctx context.Context, question string) (string, error) {
	commands := s.registry.Commands()
	prompt := fmt.Sprintf(
		"Classify the user request into exactly one of these routing commands:\n%s\n\n"+
			"Request: %q\n\nReply with <category>the routing command</category>.",
		strings.Join(commands, "\n"), question)

	resp, err := s.client.Complete(ctx, llm.CompletionRequest{
		Model:    s.llmCfg.FormatterModel,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		s.logger.Warn("router call failed, defaulting to receptionist", "error", err)
		return config.CommandReceptionist, nil
	}

	if category, ok := extractTag(resp.Content, "category"); ok {
		command := strings.TrimSpace(category)
		if s.registry.Has(command) {
			return command, nil
		}
		s.logger.Warn("router produced unknown command", "command", command)
	}
	return config.CommandReceptionist, nil
}
