package events

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

type fakeNotificationStore struct {
	rows []models.Notification
	err  error
}

func (f *fakeNotificationStore) Insert(_ context.Context, n models.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakeNotificationStore) ByJobID(_ context.Context, jobID string) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range f.rows {
		if n.JobID == jobID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeNotificationStore) ByRecipient(_ context.Context, recipientID string, maxRows int) ([]models.Notification, error) {
	var out []models.Notification
	for _, n := range f.rows {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	if len(out) > maxRows {
		out = out[:maxRows]
	}
	return out, nil
}

type fakeJobDirectory struct {
	jobs map[string]struct {
		job   *models.Job
		queue string
	}
}

func (f *fakeJobDirectory) add(job *models.Job, queue string) {
	if f.jobs == nil {
		f.jobs = make(map[string]struct {
			job   *models.Job
			queue string
		})
	}
	f.jobs[job.IDHash] = struct {
		job   *models.Job
		queue string
	}{job, queue}
}

func (f *fakeJobDirectory) FindJob(idHash string) (*models.Job, string, bool) {
	entry, ok := f.jobs[idHash]
	if !ok {
		return nil, "", false
	}
	return entry.job, entry.queue, true
}

func TestNotifyPersistsAndValidates(t *testing.T) {
	store := &fakeNotificationStore{}
	svc := NewNotificationService(store, &fakeJobDirectory{}, nil, nil)

	id, err := svc.Notify(context.Background(), NotifyRequest{
		SenderID:   "system",
		TargetUser: "alice",
		Message:    "research stage finished",
		Type:       models.NotificationTypeProgress,
		Priority:   models.NotificationPriorityLow,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.rows, 1)
	assert.Equal(t, "alice", store.rows[0].RecipientID)

	_, err = svc.Notify(context.Background(), NotifyRequest{TargetUser: "alice"})
	assert.True(t, services.IsValidationError(err))

	_, err = svc.Notify(context.Background(), NotifyRequest{Message: "hi"})
	assert.True(t, services.IsValidationError(err))
}

func TestNotifyJobOwnershipInvariant(t *testing.T) {
	jobs := &fakeJobDirectory{}
	jobs.add(&models.Job{IDHash: "job1", UserID: "alice"}, "run")
	svc := NewNotificationService(&fakeNotificationStore{}, jobs, nil, nil)

	// Recipient must own the referenced job.
	_, err := svc.Notify(context.Background(), NotifyRequest{
		SenderID: "system", TargetUser: "mallory", Message: "hi", JobID: "job1",
	})
	assert.ErrorIs(t, err, services.ErrForbidden)

	_, err = svc.Notify(context.Background(), NotifyRequest{
		SenderID: "system", TargetUser: "alice", Message: "hi", JobID: "ghost",
	})
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = svc.Notify(context.Background(), NotifyRequest{
		SenderID: "system", TargetUser: "alice", Message: "hi", JobID: "job1",
	})
	assert.NoError(t, err)
}

func TestInteractions(t *testing.T) {
	jobs := &fakeJobDirectory{}
	done := &models.Job{IDHash: "job1", UserID: "alice", Question: "what is two plus two"}
	jobs.add(done, "done")
	jobs.add(&models.Job{IDHash: "job2", UserID: "alice"}, "run")

	store := &fakeNotificationStore{}
	svc := NewNotificationService(store, jobs, nil, nil)
	_, err := svc.Notify(context.Background(), NotifyRequest{
		SenderID: "system", TargetUser: "alice", Message: "done", JobID: "job1",
	})
	require.NoError(t, err)

	metadata, notifications, err := svc.Interactions(context.Background(), "job1", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, "job1", metadata.IDHash)
	require.Len(t, notifications, 1)

	// Jobs still in flight have no interaction history yet.
	_, _, err = svc.Interactions(context.Background(), "job2", "alice", false)
	assert.ErrorIs(t, err, services.ErrNotFound)

	// Other users are rejected without leaking existence details.
	_, _, err = svc.Interactions(context.Background(), "job1", "mallory", false)
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Admins see everything.
	_, _, err = svc.Interactions(context.Background(), "job1", "root", true)
	assert.NoError(t, err)
}

func TestInteractionsDeadJobSurfacesFailure(t *testing.T) {
	jobs := &fakeJobDirectory{}
	jobs.add(&models.Job{IDHash: "job1", UserID: "alice",
		Error: "Code generation failed: all debug attempts exhausted"}, "dead")
	svc := NewNotificationService(&fakeNotificationStore{}, jobs, nil, nil)

	_, _, err := svc.Interactions(context.Background(), "job1", "alice", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCodeGenerationFailed)
	assert.Equal(t, "Code generation failed: all debug attempts exhausted", err.Error())

	// Ownership is checked before the failure is disclosed.
	_, _, err = svc.Interactions(context.Background(), "job1", "mallory", false)
	assert.ErrorIs(t, err, services.ErrForbidden)
}

type fakeCanceller struct {
	cancelled []string
}

func (f *fakeCanceller) CancelJob(idHash string) bool {
	f.cancelled = append(f.cancelled, idHash)
	return true
}

func TestMessageRunningJobCancelAbortsJob(t *testing.T) {
	jobs := &fakeJobDirectory{}
	jobs.add(&models.Job{IDHash: "job1", UserID: "alice"}, "run")

	canceller := &fakeCanceller{}
	svc := NewNotificationService(&fakeNotificationStore{}, jobs, nil, nil)
	svc.SetCanceller(canceller)

	_, err := svc.MessageRunningJob(context.Background(), "job1", "  CANCEL  ",
		models.NotificationPriorityUrgent, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"job1"}, canceller.cancelled)

	// Ordinary messages are delivered without aborting the job.
	_, err = svc.MessageRunningJob(context.Background(), "job1", "please hurry",
		models.NotificationPriorityLow, "alice", false)
	require.NoError(t, err)
	assert.Len(t, canceller.cancelled, 1)
}

func TestMessageRunningJob(t *testing.T) {
	jobs := &fakeJobDirectory{}
	jobs.add(&models.Job{IDHash: "job1", UserID: "alice"}, "run")
	jobs.add(&models.Job{IDHash: "job2", UserID: "alice"}, "done")

	store := &fakeNotificationStore{}
	svc := NewNotificationService(store, jobs, nil, nil)

	id, err := svc.MessageRunningJob(context.Background(), "job1", "please stop after this step",
		models.NotificationPriorityUrgent, "alice", false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Primary notification plus the queued echo back to the sender.
	require.Len(t, store.rows, 2)
	assert.Equal(t, models.NotificationTypeUserInitiatedMessage, store.rows[0].Type)
	assert.Equal(t, "job1", store.rows[0].JobID)
	assert.Equal(t, "queued", store.rows[1].Message)

	// Finished jobs no longer accept messages.
	_, err = svc.MessageRunningJob(context.Background(), "job2", "hi",
		models.NotificationPriorityLow, "alice", false)
	assert.ErrorIs(t, err, services.ErrNotFound)

	// Non-owners are rejected.
	_, err = svc.MessageRunningJob(context.Background(), "job1", "hi",
		models.NotificationPriorityLow, "mallory", false)
	assert.ErrorIs(t, err, services.ErrForbidden)
}
