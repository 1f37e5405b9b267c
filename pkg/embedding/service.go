package embedding

import (
	"context"
	"log/slog"
	"sync"
)

// CacheStore is a durable second-level cache for embedding vectors,
// partitioned by model identifier. The postgres implementation lives in the
// database package.
type CacheStore interface {
	// Get returns the cached vector for (model, key), reporting whether an
	// entry exists.
	Get(ctx context.Context, model, key string) ([]float32, bool, error)

	// Put stores the vector under (model, key). Overwrites are allowed and
	// must be idempotent.
	Put(ctx context.Context, model, key string, vec []float32) error
}

// Service is the process-wide embedding manager. It normalizes text to a
// cache key, consults the in-process cache and the durable store, and calls
// the provider only on a miss. Provider failures degrade to an empty vector
// so callers' similarity checks treat the text as "no match" instead of
// failing the job. Safe for concurrent use; the composition root holds a
// single instance.
type Service struct {
	provider Provider
	norm     *Normalizer
	store    CacheStore // optional
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewService constructs the embedding service. store may be nil, in which
// case only the in-process cache is used.
func NewService(provider Provider, norm *Normalizer, store CacheStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		norm:     norm,
		store:    store,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

// Gist returns the canonical form of text used as a cache key.
func (s *Service) Gist(text string) string {
	return s.norm.Gist(text)
}

// Dimensions returns the provider's vector dimensionality.
func (s *Service) Dimensions() int {
	return s.provider.Dimensions()
}

// Embed returns the embedding vector for text. With normalizeForCache the
// canonical gist is both the cache key and the embedded input; without it
// the exact text is used for both, which is how source code is embedded.
// Never returns an error: on provider failure the vector is empty.
func (s *Service) Embed(ctx context.Context, text string, normalizeForCache bool) []float32 {
	key := text
	if normalizeForCache {
		key = s.norm.Gist(text)
	}
	if key == "" {
		return []float32{}
	}

	s.mu.RLock()
	vec, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return vec
	}

	if s.store != nil {
		stored, found, err := s.store.Get(ctx, s.provider.ModelID(), key)
		if err != nil {
			s.logger.Warn("embedding cache lookup failed", "error", err)
		} else if found {
			s.remember(key, stored)
			return stored
		}
	}

	vec, err := s.provider.Embed(ctx, key)
	if err != nil {
		s.logger.Warn("embedding provider call failed, returning empty vector",
			"model", s.provider.ModelID(), "error", err)
		return []float32{}
	}

	s.remember(key, vec)
	if s.store != nil {
		if err := s.store.Put(ctx, s.provider.ModelID(), key, vec); err != nil {
			s.logger.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec
}

func (s *Service) remember(key string, vec []float32) {
	s.mu.Lock()
	s.cache[key] = vec
	s.mu.Unlock()
}

// CacheSize returns the number of in-process cache entries.
func (s *Service) CacheSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
