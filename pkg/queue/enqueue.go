package queue

import (
	"context"
	"strings"
	"time"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/idgen"
	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

// EnqueueRequest is the input of one push.
type EnqueueRequest struct {
	Question    string
	WebsocketID string
	UserID      string
	UserEmail   string
}

// Enqueue validates the request, decides between a snapshot cache hit and a
// fresh agentic run, appends the job to todo and announces it. Downstream
// embedding or snapshot failures degrade to a fresh job; only validation
// rejects an enqueue.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Job, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, services.NewValidationError("question", "must not be empty")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, services.NewValidationError("user_id", "must not be empty")
	}

	normalized := question
	if s.normalizer != nil {
		normalized = s.normalizer.Gist(question)
	}

	job := &models.Job{
		IDHash:            idgen.JobHash(),
		Tag:               idgen.TwoWordTag(),
		UserID:            req.UserID,
		UserEmail:         req.UserEmail,
		SessionID:         req.WebsocketID,
		Question:          question,
		LastQuestionAsked: normalized,
		QuestionGist:      normalized,
		Status:            models.JobStatusPending,
		CreatedAt:         time.Now(),
	}

	if hit, ok := s.lookupSnapshot(ctx, question); ok {
		job.IsCacheHit = true
		job.RoutingCommand = hit.snapshot.RoutingCommand
		job.Answer = hit.snapshot.Answer
		if agentCfg, err := s.registry.Get(job.RoutingCommand); err == nil {
			job.JobType = agentCfg.SerializationTopic
		}
		s.mu.Lock()
		s.hits[job.IDHash] = hit
		s.mu.Unlock()
		s.logger.Info("cache hit on enqueue", "job_id", job.IDHash,
			"snapshot_id", hit.snapshot.IDHash, "score", hit.score)
	} else {
		command, err := s.router.Route(ctx, question)
		if err != nil || !s.registry.Has(command) {
			if err != nil {
				s.logger.Warn("routing failed, using receptionist", "error", err)
			}
			command = config.CommandReceptionist
		}
		job.RoutingCommand = command
		if agentCfg, err := s.registry.Get(command); err == nil {
			job.JobType = agentCfg.SerializationTopic
		}
	}

	s.queues.AddToTodo(job)
	s.emit(job.UserID, events.EventTodoUpdate, job)
	return job, nil
}

// lookupSnapshot asks the solution store for the best match and accepts it
// only when the snapshot's family is cacheable.
func (s *Scheduler) lookupSnapshot(ctx context.Context, question string) (cacheHit, bool) {
	if s.snapshots == nil {
		return cacheHit{}, false
	}
	snap, score, ok := s.snapshots.BestMatch(ctx, question)
	if !ok {
		return cacheHit{}, false
	}
	agentCfg, err := s.registry.Get(snap.RoutingCommand)
	if err != nil || !agentCfg.Cacheable {
		return cacheHit{}, false
	}
	return cacheHit{snapshot: snap, score: score}, true
}
