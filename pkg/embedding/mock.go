package embedding

import (
	"context"
	"sync"
)

// Ensure MockProvider implements the Provider interface.
var _ Provider = (*MockProvider)(nil)

// MockProvider is a test double for Provider. It returns pre-canned vectors
// and records every text submitted for embedding. When VectorFor is set it
// takes precedence over EmbedResult, letting tests map specific texts to
// specific vectors. Safe for concurrent use.
type MockProvider struct {
	mu sync.Mutex

	// EmbedResult is returned by Embed when VectorFor has no entry for the
	// text. If nil, a zero vector of DimensionsValue length is returned.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed and
	// EmbedBatch.
	EmbedErr error

	// VectorFor maps exact input texts to vectors.
	VectorFor map[string][]float32

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every text passed to Embed or EmbedBatch, in order.
	EmbedCalls []string
}

// Embed records the call and returns the scripted vector.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	return p.vectorLocked(text), nil
}

// EmbedBatch records the calls and returns scripted vectors, one per text.
func (p *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		p.EmbedCalls = append(p.EmbedCalls, t)
		result[i] = p.vectorLocked(t)
	}
	return result, nil
}

func (p *MockProvider) vectorLocked(text string) []float32 {
	if v, ok := p.VectorFor[text]; ok {
		return v
	}
	if p.EmbedResult != nil {
		return p.EmbedResult
	}
	return make([]float32, p.DimensionsValue)
}

// Dimensions returns DimensionsValue.
func (p *MockProvider) Dimensions() int { return p.DimensionsValue }

// ModelID returns ModelIDValue.
func (p *MockProvider) ModelID() string { return p.ModelIDValue }

// CallCount returns the number of texts embedded so far.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EmbedCalls)
}
