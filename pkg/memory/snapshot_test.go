package memory

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRuntimeStats(t *testing.T) {
	snap := NewSnapshot("abc", "agent router go to math", "what is two plus two")

	// First measured run is the baseline; run count stays at zero.
	snap.UpdateRuntimeStats(1000)
	assert.Equal(t, int64(1000), snap.Stats.FirstRunMS)
	assert.Equal(t, 0, snap.Stats.RunCount)
	assert.Equal(t, int64(0), snap.Stats.TimeSavedMS)

	// Two cached serves at 10ms each.
	snap.UpdateRuntimeStats(10)
	snap.UpdateRuntimeStats(10)
	assert.Equal(t, 2, snap.Stats.RunCount)
	assert.Equal(t, int64(20), snap.Stats.TotalMS)
	assert.InDelta(t, 10.0, snap.Stats.MeanRunMS, 0.001)
	assert.Equal(t, int64(10), snap.Stats.LastRunMS)
	assert.Equal(t, int64(1000*2-20), snap.Stats.TimeSavedMS)
}

func TestAddSynonymousQuestion(t *testing.T) {
	snap := NewSnapshot("abc", "agent router go to math", "what is two plus two")

	assert.True(t, snap.AddSynonymousQuestion("whats two plus two", 95.2))
	assert.False(t, snap.AddSynonymousQuestion("whats two plus two", 95.2),
		"duplicate insertion is a no-op")
	assert.False(t, snap.AddSynonymousQuestion("what is two plus two", 100),
		"canonical question is never added")
	assert.Equal(t, 1, snap.SynonymousQuestions.Len())
}

func TestAddNonSynonymousQuestion(t *testing.T) {
	snap := NewSnapshot("abc", "agent router go to math", "what is two plus two")

	assert.True(t, snap.AddNonSynonymousQuestion("what is three plus three"))
	assert.False(t, snap.AddNonSynonymousQuestion("what is three plus three"))
	assert.Len(t, snap.NonSynonymousQuestions, 1)
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := NewSnapshot("abc", "agent router go to math", "what is two plus two")
	snap.Code = []string{"def add(a, b):", "    return a + b"}
	snap.QuestionEmbedding = []float32{1, 0, 0}
	snap.AddSynonymousQuestion("first phrasing", 92)
	snap.AddSynonymousQuestion("second phrasing", 91)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var loaded SolutionSnapshot
	require.NoError(t, json.Unmarshal(data, &loaded))

	assert.Equal(t, snap.Code, loaded.Code)
	assert.Equal(t, snap.QuestionEmbedding, loaded.QuestionEmbedding)

	// Insertion order survives the round trip.
	require.Equal(t, 2, loaded.SynonymousQuestions.Len())
	first := loaded.SynonymousQuestions.Oldest()
	assert.Equal(t, "first phrasing", first.Key)
	assert.Equal(t, "second phrasing", first.Next().Key)
}

func TestCorruptedSynonymMapDegradesToEmpty(t *testing.T) {
	raw := `{
		"id_hash": "abc",
		"question": "what is two plus two",
		"synonymous_questions": ["this", "is", "not", "a", "map"],
		"synonymous_gists": 42
	}`

	var snap SolutionSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &snap))

	assert.Equal(t, "abc", snap.IDHash)
	assert.Equal(t, 0, snap.SynonymousQuestions.Len())
	assert.Equal(t, 0, snap.SynonymousGists.Len())
}
