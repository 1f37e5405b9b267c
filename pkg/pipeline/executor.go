package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/models"
)

// Core is the single-agent execution contract the executor decorates.
// Implemented by the agent service.
type Core interface {
	RunJob(ctx context.Context, job *models.Job) error
	FormatCachedAnswer(ctx context.Context, question, answer, routingCommand string) (string, error)
}

// Executor routes podcast jobs through the research→podcast pipeline and
// passes everything else straight to the agent core. It satisfies the
// scheduler's executor contract, so pipelines ride the normal queue flow.
type Executor struct {
	core     Core
	research StageAgent
	podcast  StageAgent
	notifier Notifier
	poller   InteractionPoller
	logger   *slog.Logger
}

// NewExecutor wires the decorator.
func NewExecutor(core Core, research, podcast StageAgent, notifier Notifier, poller InteractionPoller, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		core:     core,
		research: research,
		podcast:  podcast,
		notifier: notifier,
		poller:   poller,
		logger:   logger,
	}
}

// RunJob executes the job, chaining research and podcast stages for podcast
// requests. Pipeline cost and artifacts are folded back onto the job.
func (e *Executor) RunJob(ctx context.Context, job *models.Job) error {
	if job.RoutingCommand != config.CommandPodcast {
		return e.core.RunJob(ctx, job)
	}

	o := NewOrchestrator(e.research, e.podcast, e.notifier, e.poller, e.logger)
	result := o.Run(ctx, Request{
		Question: job.Question,
		UserID:   job.UserID,
		JobID:    job.IDHash,
	})

	if job.Artifacts == nil {
		job.Artifacts = make(map[string]string)
	}
	if result.ResearchPath != "" {
		job.Artifacts["report_path"] = result.ResearchPath
	}
	if result.PodcastPath != "" {
		job.Artifacts["audio_path"] = result.PodcastPath
	}
	for k, v := range result.ResearchArtifacts {
		job.Artifacts[k] = v
	}
	for k, v := range result.PodcastArtifacts {
		job.Artifacts[k] = v
	}
	job.CostTokens = result.TotalCostTokens
	job.CostSummary = fmt.Sprintf("%d tokens across research and podcast stages",
		result.TotalCostTokens)

	if result.State != StateCompleted {
		return fmt.Errorf("pipeline %s: %s", result.State, result.Error)
	}
	job.Answer = result.PodcastPath
	job.AnswerConversational = "Your podcast is ready."
	job.JobType = "podcast"
	return nil
}

// FormatCachedAnswer delegates to the agent core.
func (e *Executor) FormatCachedAnswer(ctx context.Context, question, answer, routingCommand string) (string, error) {
	return e.core.FormatCachedAnswer(ctx, question, answer, routingCommand)
}
