package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepily/cosa/pkg/llm"
	"github.com/deepily/cosa/pkg/services"
)

// debugAttempt records one failed repair for the full-mode prompt.
type debugAttempt struct {
	model  string
	code   []string
	stderr string
}

// debug runs the two-pass iterative debugger: a minimalist pass over cheap
// models, then a full pass that includes the error trace and every prior
// attempt. The first repaired program that runs to completion wins; total
// exhaustion returns a code-generation error.
func (r *Runner) debug(ctx context.Context, code []string, example, dfPath string, firstFailure *RunResult) ([]string, *RunResult, error) {
	attempts := []debugAttempt{{code: code, stderr: firstFailure.Stderr}}

	for _, model := range r.llmCfg.DebugModelsMinimalist {
		fixed, result, ok := r.debugOnce(ctx, model, minimalistPrompt(code, firstFailure.Stderr), example, dfPath)
		if ok {
			return fixed, result, nil
		}
		if fixed != nil {
			attempts = append(attempts, debugAttempt{model: model, code: fixed, stderr: result.Stderr})
		}
	}

	for _, model := range r.llmCfg.DebugModelsFull {
		fixed, result, ok := r.debugOnce(ctx, model, fullPrompt(attempts), example, dfPath)
		if ok {
			return fixed, result, nil
		}
		if fixed != nil {
			attempts = append(attempts, debugAttempt{model: model, code: fixed, stderr: result.Stderr})
		}
	}

	last := attempts[len(attempts)-1]
	return nil, nil, services.NewCodeGenerationError(
		fmt.Sprintf("all debug attempts exhausted for %s: %s", r.agentCfg.RoutingCommand, last.stderr))
}

// debugOnce asks one model for a repair and executes it. Returns the
// repaired code and its run result; ok is true only when execution
// completed successfully. A nil code slice means the model produced nothing
// usable.
func (r *Runner) debugOnce(ctx context.Context, model, prompt, example, dfPath string) ([]string, *RunResult, bool) {
	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Model:    model,
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		r.logger.Warn("debug model call failed", "model", model, "error", err)
		return nil, nil, false
	}
	r.addUsage(resp.Usage)

	parsed, err := parseBaseline(resp.Content, []string{"code"})
	if err != nil || len(parsed.Code) == 0 {
		r.logger.Warn("debug model produced no code", "model", model)
		return nil, nil, false
	}

	result, err := r.coder.Run(ctx, parsed.Code, example, dfPath)
	if err != nil {
		r.logger.Warn("debug execution errored", "model", model, "error", err)
		return nil, nil, false
	}
	if result.Ok() {
		r.logger.Info("auto-debug repaired code", "model", model)
		return parsed.Code, result, true
	}
	return parsed.Code, result, false
}

// minimalistPrompt is the smallest repair prompt: the failing code and its
// stderr, nothing else.
func minimalistPrompt(code []string, stderr string) string {
	var b strings.Builder
	b.WriteString("This code fails. Fix it.\n\n")
	writeCodeBlock(&b, code)
	b.WriteString("\nError:\n")
	b.WriteString(stderr)
	b.WriteString("\n\nReply with the complete corrected program as:\n")
	b.WriteString("<code>\n  <line>...</line>\n</code>\n")
	return b.String()
}

// fullPrompt includes the error trace and every prior attempt so the model
// can avoid repeating failed repairs.
func fullPrompt(attempts []debugAttempt) string {
	var b strings.Builder
	b.WriteString("The following program fails. Previous repair attempts are listed with their errors; produce a correct version that avoids them.\n")
	for i, a := range attempts {
		if i == 0 {
			b.WriteString("\nOriginal code:\n")
		} else {
			fmt.Fprintf(&b, "\nAttempt %d (model %s):\n", i, a.model)
		}
		writeCodeBlock(&b, a.code)
		b.WriteString("Error:\n")
		b.WriteString(a.stderr)
		b.WriteByte('\n')
	}
	b.WriteString("\nReply with the complete corrected program as:\n")
	b.WriteString("<code>\n  <line>...</line>\n</code>\n")
	return b.String()
}

func writeCodeBlock(b *strings.Builder, code []string) {
	for _, line := range code {
		b.WriteString(line)
		b.WriteByte('\n')
	}
}
