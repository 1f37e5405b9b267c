package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/deepily/cosa/pkg/agent"
	"github.com/deepily/cosa/pkg/idgen"
	"github.com/deepily/cosa/pkg/models"
)

// Ensure AgentStage implements StageAgent.
var _ StageAgent = (*AgentStage)(nil)

// AgentStage adapts one agent family to the pipeline's stage contract. The
// stage builds a throwaway job per run; the job never enters the queues. On
// success the stage's answer is persisted under outputDir and exposed as the
// stage's primary artifact.
type AgentStage struct {
	svc     *agent.Service
	command string
	// artifactKey names the job artifact exposed as the stage's primary
	// artifact, e.g. report_path for research, audio_path for podcast.
	artifactKey string
	outputDir   string
}

// NewAgentStage wires a stage over the agent core.
func NewAgentStage(svc *agent.Service, routingCommand, artifactKey, outputDir string) *AgentStage {
	return &AgentStage{svc: svc, command: routingCommand, artifactKey: artifactKey, outputDir: outputDir}
}

// Run implements StageAgent. Cost is reported even on failure; failed stages
// produce no artifact.
func (s *AgentStage) Run(ctx context.Context, question string) (StageResult, error) {
	job := &models.Job{
		IDHash:         idgen.JobHash(),
		Tag:            idgen.TwoWordTag(),
		Question:       question,
		RoutingCommand: s.command,
		Status:         models.JobStatusRunning,
	}

	err := s.svc.RunJob(ctx, job)
	result := StageResult{
		Artifacts:  job.Artifacts,
		CostTokens: job.CostTokens,
	}
	if err != nil {
		return result, err
	}

	path, err := s.persist(job)
	if err != nil {
		return result, err
	}
	if job.Artifacts == nil {
		job.Artifacts = make(map[string]string)
	}
	job.Artifacts[s.artifactKey] = path
	result.Artifacts = job.Artifacts
	result.ArtifactPath = path
	return result, nil
}

// persist writes the stage's answer under outputDir and returns the path.
func (s *AgentStage) persist(job *models.Job) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create stage output dir: %w", err)
	}
	path := filepath.Join(s.outputDir, fmt.Sprintf("%s-%s.md", job.JobType, job.IDHash[:12]))
	if err := os.WriteFile(path, []byte(job.Answer), 0o644); err != nil {
		return "", fmt.Errorf("write stage artifact: %w", err)
	}
	return path, nil
}
