package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

func newJob(id, userID string, createdAt time.Time) *models.Job {
	return &models.Job{
		IDHash:    id,
		UserID:    userID,
		Question:  "q-" + id,
		Status:    models.JobStatusPending,
		CreatedAt: createdAt,
	}
}

func TestJobQueueFIFO(t *testing.T) {
	q := NewJobQueue(QueueTodo)
	now := time.Now()
	q.Push(newJob("a", "u1", now))
	q.Push(newJob("b", "u1", now))
	q.Push(newJob("c", "u1", now))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, "a", q.PopHead().IDHash)
	assert.Equal(t, "b", q.PopHead().IDHash)
	assert.Equal(t, 1, q.Len())
}

func TestJobQueueIndexMatchesList(t *testing.T) {
	q := NewJobQueue(QueueTodo)
	now := time.Now()
	for i := 0; i < 10; i++ {
		q.Push(newJob(fmt.Sprintf("job-%d", i), "u1", now))
	}
	require.True(t, q.Remove("job-3"))
	require.False(t, q.Remove("job-3"), "second remove is a no-op")
	q.PopHead()

	snapshots := q.Snapshots()
	assert.Equal(t, q.Len(), len(snapshots))
	for _, meta := range snapshots {
		assert.NotNil(t, q.Get(meta.IDHash), "every listed job is indexed")
	}
	assert.Nil(t, q.Get("job-3"))
}

func TestSnapshotsAreImmuneToLaterJobMutation(t *testing.T) {
	q := NewJobQueue(QueueRunning)
	job := newJob("a", "alice", time.Now())
	job.Status = models.JobStatusRunning
	q.Push(job)

	// A worker keeps mutating the job while it sits in the queue; the
	// projection captured at push time must not change under readers.
	job.Answer = "partial"
	job.AnswerConversational = "partial"
	job.Error = "transient"
	job.Status = models.JobStatusDoneOK

	snapshots := q.Snapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, models.JobStatusRunning, snapshots[0].Status)
	assert.Empty(t, snapshots[0].Error)

	// Re-entering a queue after a transition captures the new state.
	q.Remove("a")
	done := NewJobQueue(QueueDone)
	done.Push(job)
	snapshots = done.Snapshots()
	require.Len(t, snapshots, 1)
	assert.Equal(t, models.JobStatusDoneOK, snapshots[0].Status)
}

func TestJobQueueDuplicatePush(t *testing.T) {
	q := NewJobQueue(QueueTodo)
	job := newJob("a", "u1", time.Now())
	q.Push(job)
	q.Push(job)
	assert.Equal(t, 1, q.Len())
}

func TestFocusMode(t *testing.T) {
	q := NewJobQueue(QueueTodo)
	assert.True(t, q.AcceptingJobs())

	q.PushBlockingObject("await confirmation")
	q.PushBlockingObject("await payment")
	assert.False(t, q.AcceptingJobs())

	tag, ok := q.PopBlockingObject()
	require.True(t, ok)
	assert.Equal(t, "await payment", tag)
	assert.False(t, q.AcceptingJobs())

	_, ok = q.PopBlockingObject()
	require.True(t, ok)
	assert.True(t, q.AcceptingJobs())

	_, ok = q.PopBlockingObject()
	assert.False(t, ok)
}

func TestQueueSetByName(t *testing.T) {
	s := NewQueueSet()
	q, err := s.ByName("todo")
	require.NoError(t, err)
	assert.Equal(t, QueueTodo, q.Name())

	_, err = s.ByName("bogus")
	assert.True(t, services.IsValidationError(err))
}

func TestGetQueueFiltering(t *testing.T) {
	s := NewQueueSet()
	base := time.Now()
	s.AddToTodo(newJob("a1", "alice", base))
	s.AddToTodo(newJob("a2", "alice", base.Add(time.Second)))
	s.AddToTodo(newJob("a3", "alice", base.Add(2*time.Second)))
	s.AddToTodo(newJob("u1", "umberto", base.Add(3*time.Second)))

	// Regular user sees only their own jobs, regardless of requested filter.
	jobs, err := s.GetQueue("todo", Requester{UserID: "umberto"}, FilterSelf, "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "u1", jobs[0].IDHash)

	// Regular user asking for everything is forbidden.
	_, err = s.GetQueue("todo", Requester{UserID: "umberto"}, FilterAll, "")
	assert.ErrorIs(t, err, services.ErrForbidden)

	// Admin wildcard sees all four, newest first.
	jobs, err = s.GetQueue("todo", Requester{UserID: "root", IsAdmin: true}, FilterAll, "")
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	assert.Equal(t, "u1", jobs[0].IDHash)
	assert.Equal(t, "a3", jobs[1].IDHash)

	// Admin can target a specific user.
	jobs, err = s.GetQueue("todo", Requester{UserID: "root", IsAdmin: true}, FilterSpecificUser, "alice")
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestRunningQueueOldestFirst(t *testing.T) {
	s := NewQueueSet()
	base := time.Now()
	old := newJob("old", "alice", base)
	recent := newJob("new", "alice", base.Add(time.Minute))
	s.Running.Push(old)
	s.Running.Push(recent)

	jobs, err := s.GetQueue("run", Requester{UserID: "alice"}, FilterSelf, "")
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "old", jobs[0].IDHash)
}

func TestResetCounts(t *testing.T) {
	s := NewQueueSet()
	now := time.Now()
	s.AddToTodo(newJob("a", "alice", now))
	s.AddToTodo(newJob("b", "alice", now))
	s.Done.Push(newJob("c", "alice", now))

	counts := s.Reset()
	assert.Equal(t, 2, counts[QueueTodo])
	assert.Equal(t, 0, counts[QueueRunning])
	assert.Equal(t, 1, counts[QueueDone])
	assert.Equal(t, 0, counts[QueueDead])
	assert.Equal(t, 0, s.Todo.Len())
	assert.Equal(t, 0, s.UserJobCount("alice"))

	// Reset on empty queues returns zero counts.
	counts = s.Reset()
	for name, n := range counts {
		assert.Zero(t, n, name)
	}
}

func TestDeleteUnknownJob(t *testing.T) {
	s := NewQueueSet()
	err := s.Delete("ghost")
	assert.ErrorIs(t, err, services.ErrNotFound)
}
