// Package embedding provides text normalization and a normalize-then-cache
// embedding service. Questions are reduced to a canonical "gist" before
// embedding so that trivially different phrasings share a cache key; source
// code is embedded verbatim.
package embedding

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns
	// a float32 slice of length Dimensions() or an error if the request
	// fails or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts and the
	// i-th element corresponds to texts[i]. Partial results are not
	// returned; on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider.
	Dimensions() int

	// ModelID returns the provider-specific model identifier, used to
	// partition the cache.
	ModelID() string
}
