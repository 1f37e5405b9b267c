// Package llm abstracts the chat-completion backend used by the agent
// execution core. The control plane consumes models through Client; the
// OpenAI implementation and the test mock both satisfy it.
package llm

import (
	"context"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single message in a completion conversation.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries everything needed for one completion call.
// Model is a spec key such as "openai:gpt-4o-mini"; the provider prefix is
// stripped by the implementation that owns it.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the result of one completion call.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Client is the abstraction over any chat-completion backend.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ModelName strips the provider prefix from a model spec key:
// "openai:gpt-4o-mini" → "gpt-4o-mini". Keys without a prefix pass through.
func ModelName(specKey string) string {
	if _, name, ok := strings.Cut(specKey, ":"); ok {
		return name
	}
	return specKey
}
