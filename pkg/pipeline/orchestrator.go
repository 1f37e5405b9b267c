// Package pipeline chains two agent runs into a single workflow: a deep
// research stage produces a report, a podcast stage turns the report into
// audio. The orchestrator owns the combined result, aggregates cost across
// stages and honors cancellation between sub-steps.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

// State is the orchestrator's position in its lifecycle.
type State string

const (
	StateInitialized     State = "initialized"
	StateRunningResearch State = "running_research"
	StateResearchDone    State = "research_done"
	StateRunningPodcast  State = "running_podcast"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
	StateFailed          State = "failed"
)

// StageResult is what one stage hands back. Cost is reported even when the
// stage fails; aggregate cost sums sub-costs regardless of outcome.
type StageResult struct {
	ArtifactPath string
	Artifacts    map[string]string
	CostTokens   int64
}

// StageAgent runs one stage of the pipeline.
type StageAgent interface {
	Run(ctx context.Context, question string) (StageResult, error)
}

// Notifier ships progress and failure notifications to the user.
// Implemented by events.NotificationService.
type Notifier interface {
	Notify(ctx context.Context, req events.NotifyRequest) (string, error)
}

// InteractionPoller reads the user-initiated messages attached to a job, so
// the orchestrator can honor a cancel sent mid-run. Implemented by
// events.NotificationService.
type InteractionPoller interface {
	PendingForJob(ctx context.Context, jobID string) ([]models.Notification, error)
}

// Request starts one pipeline run.
type Request struct {
	Question string
	UserID   string
	JobID    string // correlates notifications with the submitting job
}

// Result is the combined outcome of a pipeline run. Partial completion
// (research succeeded, podcast failed) carries both the research path and
// the podcast error.
type Result struct {
	State    State         `json:"state"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	ResearchPath      string            `json:"research_path,omitempty"`
	PodcastPath       string            `json:"podcast_path,omitempty"`
	ResearchArtifacts map[string]string `json:"research_artifacts,omitempty"`
	PodcastArtifacts  map[string]string `json:"podcast_artifacts,omitempty"`

	ResearchCostTokens int64 `json:"research_cost_tokens"`
	PodcastCostTokens  int64 `json:"podcast_cost_tokens"`
	TotalCostTokens    int64 `json:"total_cost_tokens"`
}

// Orchestrator sequences the research and podcast stages. One orchestrator
// per pipeline run; Cancel may be called from any goroutine.
type Orchestrator struct {
	research StageAgent
	podcast  StageAgent
	notifier Notifier
	poller   InteractionPoller
	logger   *slog.Logger

	cancelCh   chan struct{}
	cancelOnce sync.Once

	mu    sync.RWMutex
	state State
}

// NewOrchestrator wires one pipeline run. notifier and poller may be nil.
func NewOrchestrator(research, podcast StageAgent, notifier Notifier, poller InteractionPoller, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		research: research,
		podcast:  podcast,
		notifier: notifier,
		poller:   poller,
		logger:   logger,
		cancelCh: make(chan struct{}),
		state:    StateInitialized,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Cancel requests cancellation. The in-flight stage's context is cancelled
// and no further stage starts. Idempotent.
func (o *Orchestrator) Cancel() {
	o.cancelOnce.Do(func() { close(o.cancelCh) })
}

// Run executes research then podcast and returns the combined result. Run
// never returns an error; failures are terminal states on the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result Result) {
	started := time.Now()
	defer func() { result.Duration = time.Since(started) }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.cancelCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	// Stage A: deep research.
	o.setState(StateRunningResearch)
	o.progress(ctx, req, models.NotificationPriorityLow, "research started")

	researchResult, err := o.research.Run(runCtx, req.Question)
	result.ResearchCostTokens = researchResult.CostTokens
	result.TotalCostTokens = researchResult.CostTokens
	if err != nil {
		return o.finishWithError(ctx, req, &result, "research", err)
	}
	result.ResearchPath = researchResult.ArtifactPath
	result.ResearchArtifacts = researchResult.Artifacts
	o.setState(StateResearchDone)
	o.progress(ctx, req, models.NotificationPriorityMedium, "research finished, generating podcast")

	// Cancellation is re-checked between stages so a cancel that landed
	// after research returned still stops the podcast from starting. Both
	// the cancel channel and the job's message stream count.
	if o.userCancelled(ctx, req) {
		o.Cancel()
	}
	if cancelled(runCtx, o.cancelCh) {
		return o.finishWithError(ctx, req, &result, "podcast", context.Canceled)
	}

	// Stage B: podcast generation.
	o.setState(StateRunningPodcast)
	podcastResult, err := o.podcast.Run(runCtx, req.Question)
	result.PodcastCostTokens = podcastResult.CostTokens
	result.TotalCostTokens += podcastResult.CostTokens
	if err != nil {
		return o.finishWithError(ctx, req, &result, "podcast", err)
	}
	result.PodcastPath = podcastResult.ArtifactPath
	result.PodcastArtifacts = podcastResult.Artifacts

	o.setState(StateCompleted)
	result.State = StateCompleted
	o.progress(ctx, req, models.NotificationPriorityHigh, "podcast ready")
	return result
}

// finishWithError classifies a stage failure into a terminal state, emits
// the urgent failure notification and returns the partial result.
func (o *Orchestrator) finishWithError(ctx context.Context, req Request, result *Result, stage string, err error) Result {
	switch {
	case errors.Is(err, context.Canceled) || cancelled(nil, o.cancelCh):
		o.setState(StateCancelled)
		result.State = StateCancelled
		result.Error = fmt.Sprintf("%s stage cancelled", stage)
		// A cancelled stage yields no artifact even if it got partway.
		if stage == "research" {
			result.ResearchPath = ""
			result.ResearchArtifacts = nil
		}
	case errors.Is(err, services.ErrBudgetExceeded):
		o.setState(StateFailed)
		result.State = StateFailed
		result.Error = fmt.Sprintf("%s stage: %s", stage, err.Error())
	default:
		o.setState(StateFailed)
		result.State = StateFailed
		result.Error = fmt.Sprintf("%s stage: %s", stage, err.Error())
	}

	o.logger.Warn("pipeline terminated early", "stage", stage,
		"state", string(result.State), "error", err)
	o.notify(ctx, req, models.NotificationTypeAlert, models.NotificationPriorityUrgent,
		fmt.Sprintf("pipeline %s: %s", result.State, result.Error))
	return *result
}

// userCancelled scans the job's pending user messages for a cancel request.
// Poller failures are non-fatal; the run continues.
func (o *Orchestrator) userCancelled(ctx context.Context, req Request) bool {
	if o.poller == nil || req.JobID == "" {
		return false
	}
	rows, err := o.poller.PendingForJob(ctx, req.JobID)
	if err != nil {
		o.logger.Warn("pipeline message poll failed", "job_id", req.JobID, "error", err)
		return false
	}
	for _, n := range rows {
		if n.Type == models.NotificationTypeUserInitiatedMessage && models.IsCancelMessage(n.Message) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) progress(ctx context.Context, req Request, priority models.NotificationPriority, message string) {
	o.notify(ctx, req, models.NotificationTypeProgress, priority, message)
}

// notify is best-effort: pipeline outcomes never depend on delivery.
func (o *Orchestrator) notify(ctx context.Context, req Request, kind models.NotificationType, priority models.NotificationPriority, message string) {
	if o.notifier == nil {
		return
	}
	_, err := o.notifier.Notify(ctx, events.NotifyRequest{
		SenderID:   "pipeline",
		TargetUser: req.UserID,
		Message:    message,
		Type:       kind,
		Priority:   priority,
		JobID:      req.JobID,
	})
	if err != nil {
		o.logger.Warn("pipeline notification failed", "error", err)
	}
}

func cancelled(ctx context.Context, cancelCh <-chan struct{}) bool {
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	select {
	case <-cancelCh:
		return true
	default:
		return false
	}
}
