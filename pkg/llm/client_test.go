package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelName(t *testing.T) {
	assert.Equal(t, "gpt-4o-mini", ModelName("openai:gpt-4o-mini"))
	assert.Equal(t, "gpt-4o", ModelName("gpt-4o"))
	assert.Equal(t, "", ModelName("openai:"))
}

func TestMockClientQueues(t *testing.T) {
	m := NewMockClient()
	m.EnqueueResponse("shared")
	m.EnqueueForModel("openai:gpt-4o", "scoped")

	ctx := context.Background()

	// Per-model script wins over the shared queue.
	resp, err := m.Complete(ctx, CompletionRequest{Model: "openai:gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "scoped", resp.Content)

	resp, err = m.Complete(ctx, CompletionRequest{Model: "openai:gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "shared", resp.Content)

	// Queue exhausted.
	_, err = m.Complete(ctx, CompletionRequest{Model: "openai:gpt-4o"})
	assert.Error(t, err)
	assert.Equal(t, 3, m.CallCount)
}

func TestMockClientError(t *testing.T) {
	m := NewMockClient()
	scripted := errors.New("backend down")
	m.EnqueueError(scripted)

	_, err := m.Complete(context.Background(), CompletionRequest{Model: "x"})
	assert.ErrorIs(t, err, scripted)
}

func TestMockClientHonorsContext(t *testing.T) {
	m := NewMockClient()
	m.EnqueueResponse("never")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Complete(ctx, CompletionRequest{Model: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}
