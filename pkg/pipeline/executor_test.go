package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/models"
)

type stubCore struct {
	ran []string
}

func (c *stubCore) RunJob(_ context.Context, job *models.Job) error {
	c.ran = append(c.ran, job.RoutingCommand)
	job.Answer = "42"
	return nil
}

func (c *stubCore) FormatCachedAnswer(_ context.Context, _, answer, _ string) (string, error) {
	return answer, nil
}

func TestExecutorPassesThroughNonPodcastJobs(t *testing.T) {
	core := &stubCore{}
	e := NewExecutor(core, &scriptedStage{}, &scriptedStage{}, nil, nil, nil)

	job := &models.Job{IDHash: "j1", RoutingCommand: config.CommandMath, Question: "what is six times seven"}
	require.NoError(t, e.RunJob(context.Background(), job))
	assert.Equal(t, []string{config.CommandMath}, core.ran)
	assert.Equal(t, "42", job.Answer)
}

func TestExecutorChainsPodcastJobs(t *testing.T) {
	core := &stubCore{}
	research := &scriptedStage{result: StageResult{
		ArtifactPath: "/data/research/report.md",
		Artifacts:    map[string]string{"abstract": "a short abstract"},
		CostTokens:   1000,
	}}
	podcast := &scriptedStage{result: StageResult{
		ArtifactPath: "/data/podcasts/episode.mp3",
		CostTokens:   500,
	}}
	e := NewExecutor(core, research, podcast, nil, nil, nil)

	job := &models.Job{IDHash: "j1", UserID: "alice",
		RoutingCommand: config.CommandPodcast, Question: "history of jazz"}
	require.NoError(t, e.RunJob(context.Background(), job))

	assert.Empty(t, core.ran, "podcast jobs bypass the single-agent path")
	assert.Equal(t, "/data/research/report.md", job.Artifacts["report_path"])
	assert.Equal(t, "/data/podcasts/episode.mp3", job.Artifacts["audio_path"])
	assert.Equal(t, "a short abstract", job.Artifacts["abstract"])
	assert.Equal(t, int64(1500), job.CostTokens)
	assert.Equal(t, "/data/podcasts/episode.mp3", job.Answer)
}

func TestExecutorSurfacesPipelineFailure(t *testing.T) {
	research := &scriptedStage{result: StageResult{ArtifactPath: "/data/research/report.md", CostTokens: 300}}
	podcast := &scriptedStage{err: assertErr("tts provider unavailable")}
	e := NewExecutor(&stubCore{}, research, podcast, nil, nil, nil)

	job := &models.Job{IDHash: "j1", UserID: "alice", RoutingCommand: config.CommandPodcast, Question: "q"}
	err := e.RunJob(context.Background(), job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tts provider unavailable")
	// Partial artifacts and cost survive the failure.
	assert.Equal(t, "/data/research/report.md", job.Artifacts["report_path"])
	assert.Equal(t, int64(300), job.CostTokens)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
