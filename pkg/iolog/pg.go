package iolog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/deepily/cosa/pkg/models"
)

// Ensure PGStore implements Store.
var _ Store = (*PGStore)(nil)

// PGStore persists log rows in the io_log table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore constructs a store over an existing pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const ioLogColumns = `log_date::text, log_time::text, input_type, input,
	input_embedding, output_raw, output_final, output_final_embedding,
	COALESCE(solution_path, '')`

// Insert implements Store. Empty embeddings are stored as NULL.
func (s *PGStore) Insert(ctx context.Context, row models.IOLogRow) error {
	var solutionPath any
	if row.SolutionPath != "" {
		solutionPath = row.SolutionPath
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO io_log (log_date, log_time, input_type, input,
			input_embedding, output_raw, output_final,
			output_final_embedding, solution_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.Date, row.Time, row.InputType, row.Input,
		nullableVector(row.InputEmbedding), row.OutputRaw, row.OutputFinal,
		nullableVector(row.OutputFinalEmbedding), solutionPath,
	)
	if err != nil {
		return fmt.Errorf("io log insert: %w", err)
	}
	return nil
}

// KNN implements Store. Rows are ranked by inner product against the query
// embedding; <#> is pgvector's negative inner product, so ascending order
// puts the best matches first.
func (s *PGStore) KNN(ctx context.Context, queryEmbedding []float32, k int) ([]models.IOLogRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ioLogColumns+`
		 FROM io_log
		 WHERE input_embedding IS NOT NULL
		 ORDER BY input_embedding <#> $1
		 LIMIT $2`,
		pgvector.NewVector(queryEmbedding), k,
	)
	if err != nil {
		return nil, fmt.Errorf("io log knn: %w", err)
	}
	return scanIOLogRows(rows)
}

// Recent implements Store.
func (s *PGStore) Recent(ctx context.Context, maxRows int) ([]models.IOLogRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ioLogColumns+` FROM io_log ORDER BY id DESC LIMIT $1`,
		maxRows,
	)
	if err != nil {
		return nil, fmt.Errorf("io log recent: %w", err)
	}
	return scanIOLogRows(rows)
}

// StatsByInputType implements Store.
func (s *PGStore) StatsByInputType(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT input_type, COUNT(*) FROM io_log GROUP BY input_type`)
	if err != nil {
		return nil, fmt.Errorf("io log stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var inputType string
		var count int
		if err := rows.Scan(&inputType, &count); err != nil {
			return nil, fmt.Errorf("io log stats scan: %w", err)
		}
		stats[inputType] = count
	}
	return stats, rows.Err()
}

// ByInputTypePrefix implements Store.
func (s *PGStore) ByInputTypePrefix(ctx context.Context, prefix string, maxRows int) ([]models.IOLogRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ioLogColumns+`
		 FROM io_log
		 WHERE input_type LIKE $1 || '%'
		 ORDER BY id DESC
		 LIMIT $2`,
		prefix, maxRows,
	)
	if err != nil {
		return nil, fmt.Errorf("io log prefix query: %w", err)
	}
	return scanIOLogRows(rows)
}

func nullableVector(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

func scanIOLogRows(rows pgx.Rows) ([]models.IOLogRow, error) {
	defer rows.Close()

	var out []models.IOLogRow
	for rows.Next() {
		var row models.IOLogRow
		var inputVec, outputVec *pgvector.Vector
		if err := rows.Scan(
			&row.Date, &row.Time, &row.InputType, &row.Input,
			&inputVec, &row.OutputRaw, &row.OutputFinal, &outputVec,
			&row.SolutionPath,
		); err != nil {
			return nil, fmt.Errorf("io log scan: %w", err)
		}
		if inputVec != nil {
			row.InputEmbedding = inputVec.Slice()
		}
		if outputVec != nil {
			row.OutputFinalEmbedding = outputVec.Slice()
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
