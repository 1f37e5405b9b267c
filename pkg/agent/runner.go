package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/llm"
)

// Runner drives one job through the agent contract: render prompt, call the
// model, parse the reply, optionally execute generated code with
// auto-debugging, and format the final answer.
//
// A Runner is not shared across goroutines; it owns its prompt, response
// and code state for the lifetime of one job.
type Runner struct {
	agentCfg *config.AgentConfig
	llmCfg   *config.LLMConfig
	client   llm.Client
	coder    CodeRunner
	logger   *slog.Logger

	promptDir string

	// DataFramePath is handed to the sandbox for tabular-context agents.
	DataFramePath string

	Question             string
	Prompt               string
	RawResponse          string
	Parsed               *ParsedResponse
	LastRun              *RunResult
	Answer               string
	AnswerConversational string
	Usage                llm.Usage
}

// NewRunner builds a runner for one question. promptDir is the directory
// containing the prompt template files named by the agent configuration.
func NewRunner(agentCfg *config.AgentConfig, llmCfg *config.LLMConfig, client llm.Client,
	coder CodeRunner, promptDir, question string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		agentCfg:  agentCfg,
		llmCfg:    llmCfg,
		client:    client,
		coder:     coder,
		promptDir: promptDir,
		Question:  question,
		logger:    logger.With("routing_command", agentCfg.RoutingCommand),
	}
}

// RunPrompt renders the agent's prompt template, sends it to the configured
// model and parses the structured reply. The rendered prompt is retained on
// the runner for auditability.
func (r *Runner) RunPrompt(ctx context.Context) error {
	prompt, err := r.renderPrompt()
	if err != nil {
		return err
	}
	r.Prompt = prompt

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Model:    r.agentCfg.LLMSpecKey,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return fmt.Errorf("llm call for %s: %w", r.agentCfg.RoutingCommand, err)
	}
	r.RawResponse = resp.Content
	r.addUsage(resp.Usage)

	parsed, err := ParseResponse(r.llmCfg.ParseStrategy, resp.Content, r.agentCfg.ExpectedFields, r.logger)
	if err != nil {
		return err
	}
	r.Parsed = parsed
	if answer := parsed.Get("answer"); answer != "" {
		r.Answer = answer
	}
	return nil
}

// RunCode executes the generated code when the agent family produces any.
// On failure with autoDebug enabled the iterative debugger attempts
// repairs; total exhaustion surfaces as a code-generation error.
func (r *Runner) RunCode(ctx context.Context, autoDebug bool) error {
	if !r.agentCfg.ProducesCode {
		return nil
	}
	if r.Parsed == nil || len(r.Parsed.Code) == 0 {
		return fmt.Errorf("no code produced for %s", r.agentCfg.RoutingCommand)
	}

	dfPath := ""
	if r.agentCfg.TabularContext {
		dfPath = r.DataFramePath
	}
	example := r.Parsed.Get("example")

	result, err := r.coder.Run(ctx, r.Parsed.Code, example, dfPath)
	if err != nil {
		return fmt.Errorf("code execution: %w", err)
	}
	r.LastRun = result
	if result.Ok() {
		r.Answer = result.Output
		return nil
	}
	if !autoDebug {
		return fmt.Errorf("code exited with %d: %s", result.ReturnCode, result.Stderr)
	}

	fixed, fixedResult, err := r.debug(ctx, r.Parsed.Code, example, dfPath, result)
	if err != nil {
		return err
	}
	r.Parsed.Code = fixed
	r.LastRun = fixedResult
	r.Answer = fixedResult.Output
	return nil
}

// RunFormatter produces the conversational answer. Terse-mode agents return
// the raw answer verbatim.
func (r *Runner) RunFormatter(ctx context.Context) error {
	if r.agentCfg.FormatterMode == config.FormatterTerse {
		r.AnswerConversational = r.Answer
		return nil
	}

	prompt := fmt.Sprintf(
		"A user asked: %q\nThe computed answer is: %q\nThe request was handled by: %s\n\n"+
			"Rephrase the answer as one natural spoken sentence.\n"+
			"Reply with <rephrased-answer>your sentence</rephrased-answer>.",
		r.Question, r.Answer, r.agentCfg.RoutingCommand)

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Model:    r.llmCfg.FormatterModel,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		return fmt.Errorf("formatter call: %w", err)
	}
	r.addUsage(resp.Usage)

	if rephrased, ok := extractTag(resp.Content, "rephrased-answer"); ok {
		r.AnswerConversational = strings.TrimSpace(rephrased)
	} else {
		r.AnswerConversational = strings.TrimSpace(resp.Content)
	}
	return nil
}

// DoAll runs prompt, code and formatter in order and returns the
// conversational answer.
func (r *Runner) DoAll(ctx context.Context) (string, error) {
	if err := r.RunPrompt(ctx); err != nil {
		return "", err
	}
	if err := r.RunCode(ctx, true); err != nil {
		return "", err
	}
	if err := r.RunFormatter(ctx); err != nil {
		return "", err
	}
	return r.AnswerConversational, nil
}

func (r *Runner) renderPrompt() (string, error) {
	data, err := os.ReadFile(filepath.Join(r.promptDir, r.agentCfg.PromptTemplate))
	if err != nil {
		return "", fmt.Errorf("read prompt template for %s: %w", r.agentCfg.RoutingCommand, err)
	}

	now := time.Now()
	prompt := strings.ReplaceAll(string(data), "{question}", r.Question)
	prompt = strings.ReplaceAll(prompt, "{date}",
		now.Format("Monday, January 2, 2006 at 15:04"))
	if strings.Contains(prompt, "{response_schema}") {
		prompt = strings.ReplaceAll(prompt, "{response_schema}",
			responseSchema(r.agentCfg.ExpectedFields))
	}
	return prompt, nil
}

// responseSchema renders the dynamic XML schema block injected into
// templates that declare a {response_schema} placeholder.
func responseSchema(fields []string) string {
	var b strings.Builder
	b.WriteString("<response>\n")
	for _, f := range fields {
		if f == "code" {
			b.WriteString("  <code>\n    <line>...</line>\n  </code>\n")
			continue
		}
		b.WriteString(fmt.Sprintf("  <%s>...</%s>\n", f, f))
	}
	b.WriteString("</response>")
	return b.String()
}

func (r *Runner) addUsage(u llm.Usage) {
	r.Usage.PromptTokens += u.PromptTokens
	r.Usage.CompletionTokens += u.CompletionTokens
	r.Usage.TotalTokens += u.TotalTokens
}
