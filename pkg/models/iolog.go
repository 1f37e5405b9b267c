package models

// IOLogRow is one append-only interaction record. Rows are never mutated
// after insert.
type IOLogRow struct {
	ID                   int64     `json:"id"`
	Date                 string    `json:"date"` // YYYY-MM-DD
	Time                 string    `json:"time"` // HH:MM:SS
	InputType            string    `json:"input_type"`
	Input                string    `json:"input"`
	InputEmbedding       []float32 `json:"-"`
	OutputRaw            string    `json:"output_raw"`
	OutputFinal          string    `json:"output_final"`
	OutputFinalEmbedding []float32 `json:"-"`
	SolutionPath         string    `json:"solution_path,omitempty"`
}
