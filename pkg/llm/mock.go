package llm

import (
	"context"
	"fmt"
	"sync"
)

// Ensure MockClient implements the Client interface.
var _ Client = (*MockClient)(nil)

// MockClient is a scripted Client for tests. Responses are consumed in
// FIFO order; per-model scripts (when present) take precedence over the
// shared queue. Safe for concurrent use.
type MockClient struct {
	mu        sync.Mutex
	queue     []mockReply
	perModel  map[string][]mockReply
	Requests  []CompletionRequest
	CallCount int
}

type mockReply struct {
	content string
	err     error
}

// NewMockClient creates an empty mock; enqueue replies before use.
func NewMockClient() *MockClient {
	return &MockClient{perModel: make(map[string][]mockReply)}
}

// EnqueueResponse appends a successful reply to the shared queue.
func (m *MockClient) EnqueueResponse(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{content: content})
}

// EnqueueError appends a failing reply to the shared queue.
func (m *MockClient) EnqueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, mockReply{err: err})
}

// EnqueueForModel appends a reply consumed only by requests for the given
// model spec key.
func (m *MockClient) EnqueueForModel(model, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perModel[model] = append(m.perModel[model], mockReply{content: content})
}

// EnqueueErrorForModel appends a failing reply for the given model.
func (m *MockClient) EnqueueErrorForModel(model string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perModel[model] = append(m.perModel[model], mockReply{err: err})
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	m.CallCount++

	var reply mockReply
	switch {
	case len(m.perModel[req.Model]) > 0:
		reply = m.perModel[req.Model][0]
		m.perModel[req.Model] = m.perModel[req.Model][1:]
	case len(m.queue) > 0:
		reply = m.queue[0]
		m.queue = m.queue[1:]
	default:
		return nil, fmt.Errorf("mock llm: no scripted reply for model %q", req.Model)
	}

	if reply.err != nil {
		return nil, reply.err
	}
	return &CompletionResponse{
		Content: reply.content,
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}
