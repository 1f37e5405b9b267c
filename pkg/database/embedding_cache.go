package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/deepily/cosa/pkg/embedding"
)

// Ensure EmbeddingCache satisfies the embedding service's store contract.
var _ embedding.CacheStore = (*EmbeddingCache)(nil)

// EmbeddingCache is the durable embedding cache backed by the
// embedding_cache table, partitioned by model identifier.
type EmbeddingCache struct {
	pool *pgxpool.Pool
}

// NewEmbeddingCache constructs the cache over an existing pool.
func NewEmbeddingCache(pool *pgxpool.Pool) *EmbeddingCache {
	return &EmbeddingCache{pool: pool}
}

// Get implements embedding.CacheStore.
func (c *EmbeddingCache) Get(ctx context.Context, model, key string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := c.pool.QueryRow(ctx,
		`SELECT embedding FROM embedding_cache WHERE model = $1 AND cache_key = $2`,
		model, key,
	).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding cache get: %w", err)
	}
	return vec.Slice(), true, nil
}

// Put implements embedding.CacheStore.
func (c *EmbeddingCache) Put(ctx context.Context, model, key string, vec []float32) error {
	_, err := c.pool.Exec(ctx,
		`INSERT INTO embedding_cache (model, cache_key, embedding)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (model, cache_key) DO UPDATE SET embedding = EXCLUDED.embedding`,
		model, key, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("embedding cache put: %w", err)
	}
	return nil
}
