package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

// NotificationStore persists notifications.
type NotificationStore interface {
	Insert(ctx context.Context, n models.Notification) error
	ByJobID(ctx context.Context, jobID string) ([]models.Notification, error)
	ByRecipient(ctx context.Context, recipientID string, maxRows int) ([]models.Notification, error)
}

// JobDirectory locates a job across the queue set. Implemented by the queue
// layer; the second return is the holding queue's name.
type JobDirectory interface {
	FindJob(idHash string) (*models.Job, string, bool)
}

// NotifyRequest is the input of one Notify call.
type NotifyRequest struct {
	SenderID          string
	TargetUser        string
	Message           string
	Abstract          string
	Type              models.NotificationType
	Priority          models.NotificationPriority
	ResponseRequested bool
	JobID             string
}

// JobCanceller aborts a running job. Implemented by the queue scheduler.
type JobCanceller interface {
	CancelJob(idHash string) bool
}

// NotificationService persists user-visible notifications and pushes a
// notification_queue_update to the recipient on every insert.
type NotificationService struct {
	store     NotificationStore
	jobs      JobDirectory
	emitter   *ConnectionManager
	canceller JobCanceller
	logger    *slog.Logger
}

// NewNotificationService wires the service. emitter may be nil (persistence
// without live push).
func NewNotificationService(store NotificationStore, jobs JobDirectory, emitter *ConnectionManager, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{store: store, jobs: jobs, emitter: emitter, logger: logger}
}

// SetCanceller wires the scheduler after construction; the scheduler and the
// notification service reference each other, so one side binds late.
func (s *NotificationService) SetCanceller(c JobCanceller) {
	s.canceller = c
}

// Notify persists one notification and emits it to the recipient. When the
// request names a job, the recipient must be that job's owner. Returns the
// new notification id.
func (s *NotificationService) Notify(ctx context.Context, req NotifyRequest) (string, error) {
	if strings.TrimSpace(req.TargetUser) == "" {
		return "", services.NewValidationError("target_user", "must not be empty")
	}
	if strings.TrimSpace(req.Message) == "" {
		return "", services.NewValidationError("message", "must not be empty")
	}
	if req.Type == "" {
		req.Type = models.NotificationTypeCustom
	}
	if req.Priority == "" {
		req.Priority = models.NotificationPriorityMedium
	}
	if req.JobID != "" {
		job, _, ok := s.jobLookup(req.JobID)
		if !ok {
			return "", services.ErrNotFound
		}
		if job.UserID != req.TargetUser {
			return "", services.ErrForbidden
		}
	}

	n := models.Notification{
		ID:                uuid.New().String(),
		SenderID:          req.SenderID,
		RecipientID:       req.TargetUser,
		JobID:             req.JobID,
		Type:              req.Type,
		Priority:          req.Priority,
		Message:           req.Message,
		Abstract:          req.Abstract,
		ResponseRequested: req.ResponseRequested,
		CreatedAt:         time.Now(),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return "", err
	}

	if s.emitter != nil {
		s.emitter.EmitToUser(n.RecipientID, EventNotificationQueueUpdate, n)
	}
	return n.ID, nil
}

// Interactions returns a finished job's metadata together with its
// notification history, newest-first. Regular users may only query their own
// jobs. A dead job surfaces its stored failure as a code-generation error.
func (s *NotificationService) Interactions(ctx context.Context, jobID, requesterID string, isAdmin bool) (models.JobMetadata, []models.Notification, error) {
	job, queueName, ok := s.jobLookup(jobID)
	if !ok || (queueName != "done" && queueName != "dead") {
		return models.JobMetadata{}, nil, services.ErrNotFound
	}
	if !isAdmin && job.UserID != requesterID {
		return models.JobMetadata{}, nil, services.ErrForbidden
	}
	if queueName == "dead" {
		detail := strings.TrimPrefix(job.Error, "Code generation failed: ")
		return models.JobMetadata{}, nil, services.NewCodeGenerationError(detail)
	}

	notifications, err := s.store.ByJobID(ctx, jobID)
	if err != nil {
		return models.JobMetadata{}, nil, err
	}
	return job.Metadata(), notifications, nil
}

// MessageRunningJob delivers a user-initiated message to a running job. The
// message is persisted against the job for its agent to pick up at the next
// checkpoint, and a queued echo goes back to the sender.
func (s *NotificationService) MessageRunningJob(ctx context.Context, jobID, message string, priority models.NotificationPriority, requesterID string, isAdmin bool) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", services.NewValidationError("message", "must not be empty")
	}
	job, queueName, ok := s.jobLookup(jobID)
	if !ok || queueName != "run" {
		return "", services.ErrNotFound
	}
	if !isAdmin && job.UserID != requesterID {
		return "", services.ErrForbidden
	}

	id, err := s.Notify(ctx, NotifyRequest{
		SenderID:   requesterID,
		TargetUser: job.UserID,
		Message:    message,
		Type:       models.NotificationTypeUserInitiatedMessage,
		Priority:   priority,
		JobID:      jobID,
	})
	if err != nil {
		return "", err
	}

	// A cancel message aborts the job immediately rather than waiting for
	// the agent's next checkpoint.
	if models.IsCancelMessage(message) && s.canceller != nil {
		if s.canceller.CancelJob(jobID) {
			s.logger.Info("running job cancelled by user message", "job_id", jobID, "user_id", requesterID)
		}
	}

	// Echo back to the sender so their UI reflects the queued delivery.
	// Best-effort: the primary notification is already persisted.
	if _, echoErr := s.Notify(ctx, NotifyRequest{
		SenderID:   requesterID,
		TargetUser: requesterID,
		Message:    "queued",
		Type:       models.NotificationTypeProgress,
		Priority:   models.NotificationPriorityLow,
	}); echoErr != nil {
		s.logger.Warn("queued echo notification failed", "job_id", jobID, "error", echoErr)
	}
	return id, nil
}

// PendingForJob returns the job-scoped notifications an agent polls at its
// checkpoints, newest-first.
func (s *NotificationService) PendingForJob(ctx context.Context, jobID string) ([]models.Notification, error) {
	return s.store.ByJobID(ctx, jobID)
}

// RecentForUser returns the recipient's latest notifications.
func (s *NotificationService) RecentForUser(ctx context.Context, userID string, maxRows int) ([]models.Notification, error) {
	return s.store.ByRecipient(ctx, userID, maxRows)
}

func (s *NotificationService) jobLookup(jobID string) (*models.Job, string, bool) {
	if s.jobs == nil {
		return nil, "", false
	}
	return s.jobs.FindJob(jobID)
}
