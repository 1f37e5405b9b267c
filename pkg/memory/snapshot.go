// Package memory is the long-term solution store: every successfully
// answered question is persisted as a JSON snapshot carrying five semantic
// embeddings, so future phrasings of the same question can be served without
// regenerating code.
package memory

import (
	"encoding/json"
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// RuntimeStats tracks how often a snapshot was served and how much work it
// avoided. The first measured run is the baseline; TimeSavedMS compares
// every subsequent serve against it.
type RuntimeStats struct {
	FirstRunMS  int64   `json:"first_run_ms"`
	RunCount    int     `json:"run_count"`
	TotalMS     int64   `json:"total_ms"`
	MeanRunMS   float64 `json:"mean_run_ms"`
	LastRunMS   int64   `json:"last_run_ms"`
	TimeSavedMS int64   `json:"time_saved_ms"`
}

// SolutionSnapshot is one persisted solution. Synonym maps are ordered by
// insertion so the serialized form is stable across save/load cycles.
//
// A snapshot is created at the end of a successful agentic run and mutated
// only through AddSynonymousQuestion, AddSynonymousGist,
// AddNonSynonymousQuestion and UpdateRuntimeStats.
type SolutionSnapshot struct {
	IDHash         string `json:"id_hash"`
	RoutingCommand string `json:"routing_command"`

	Question             string `json:"question"`
	QuestionGist         string `json:"question_gist"`
	SolutionSummary      string `json:"solution_summary"`
	Thoughts             string `json:"thoughts"`
	CodeExample          string `json:"code_example"`
	CodeReturns          string `json:"code_returns"`
	Answer               string `json:"answer"`
	AnswerConversational string `json:"answer_conversational"`

	Code            []string `json:"code"`
	Language        string   `json:"language"`
	LanguageVersion string   `json:"language_version"`

	QuestionEmbedding        []float32 `json:"question_embedding"`
	QuestionGistEmbedding    []float32 `json:"question_gist_embedding"`
	SolutionSummaryEmbedding []float32 `json:"solution_summary_embedding"`
	CodeEmbedding            []float32 `json:"code_embedding"`
	ThoughtsEmbedding        []float32 `json:"thoughts_embedding"`

	SynonymousQuestions    *orderedmap.OrderedMap[string, float64] `json:"synonymous_questions"`
	SynonymousGists        *orderedmap.OrderedMap[string, float64] `json:"synonymous_gists"`
	NonSynonymousQuestions []string                                `json:"non_synonymous_questions"`

	Stats RuntimeStats `json:"runtime_stats"`

	CreatedDate time.Time `json:"created_date"`
	UpdatedDate time.Time `json:"updated_date"`
}

// NewSnapshot constructs a snapshot with initialized synonym maps.
func NewSnapshot(idHash, routingCommand, question string) *SolutionSnapshot {
	now := time.Now()
	return &SolutionSnapshot{
		IDHash:              idHash,
		RoutingCommand:      routingCommand,
		Question:            question,
		SynonymousQuestions: orderedmap.New[string, float64](),
		SynonymousGists:     orderedmap.New[string, float64](),
		CreatedDate:         now,
		UpdatedDate:         now,
	}
}

// AddSynonymousQuestion records that text matched this snapshot with the
// given score. The canonical question and already-known phrasings are
// no-ops. Returns true when the map changed.
func (s *SolutionSnapshot) AddSynonymousQuestion(text string, score float64) bool {
	if text == s.Question {
		return false
	}
	if _, exists := s.SynonymousQuestions.Get(text); exists {
		return false
	}
	s.SynonymousQuestions.Set(text, score)
	s.UpdatedDate = time.Now()
	return true
}

// AddSynonymousGist is the gist-level parallel of AddSynonymousQuestion.
func (s *SolutionSnapshot) AddSynonymousGist(gist string, score float64) bool {
	if gist == s.QuestionGist {
		return false
	}
	if _, exists := s.SynonymousGists.Get(gist); exists {
		return false
	}
	s.SynonymousGists.Set(gist, score)
	s.UpdatedDate = time.Now()
	return true
}

// AddNonSynonymousQuestion records a known negative so the same phrasing is
// never re-matched. Duplicates are no-ops.
func (s *SolutionSnapshot) AddNonSynonymousQuestion(text string) bool {
	for _, q := range s.NonSynonymousQuestions {
		if q == text {
			return false
		}
	}
	s.NonSynonymousQuestions = append(s.NonSynonymousQuestions, text)
	s.UpdatedDate = time.Now()
	return true
}

// UpdateRuntimeStats records one serve of this snapshot. The first measured
// run establishes the baseline and leaves RunCount at zero; subsequent runs
// update count, total, mean, last and the cumulative time saved.
func (s *SolutionSnapshot) UpdateRuntimeStats(elapsedMS int64) {
	st := &s.Stats
	if st.FirstRunMS == 0 && st.RunCount == 0 {
		st.FirstRunMS = elapsedMS
		st.LastRunMS = elapsedMS
		s.UpdatedDate = time.Now()
		return
	}
	st.RunCount++
	st.TotalMS += elapsedMS
	st.MeanRunMS = float64(st.TotalMS) / float64(st.RunCount)
	st.LastRunMS = elapsedMS
	st.TimeSavedMS = st.FirstRunMS*int64(st.RunCount) - st.TotalMS
	s.UpdatedDate = time.Now()
}

// UnmarshalJSON decodes a snapshot, degrading corrupted synonym maps to
// empty maps instead of failing the load.
func (s *SolutionSnapshot) UnmarshalJSON(data []byte) error {
	type alias SolutionSnapshot
	aux := struct {
		SynonymousQuestions json.RawMessage `json:"synonymous_questions"`
		SynonymousGists     json.RawMessage `json:"synonymous_gists"`
		*alias
	}{alias: (*alias)(s)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	s.SynonymousQuestions = decodeSynonymMap(aux.SynonymousQuestions)
	s.SynonymousGists = decodeSynonymMap(aux.SynonymousGists)
	return nil
}

func decodeSynonymMap(raw json.RawMessage) *orderedmap.OrderedMap[string, float64] {
	m := orderedmap.New[string, float64]()
	if len(raw) == 0 || string(raw) == "null" {
		return m
	}
	if err := json.Unmarshal(raw, m); err != nil {
		return orderedmap.New[string, float64]()
	}
	return m
}
