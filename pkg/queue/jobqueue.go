// Package queue owns the full life of every job: four FIFO queues with
// O(1) id lookup, a per-user index, the scheduler worker loop, and the
// enqueue path with snapshot cache-hit detection.
package queue

import (
	"sync"

	"github.com/deepily/cosa/pkg/models"
)

// Queue names.
const (
	QueueTodo    = "todo"
	QueueRunning = "run"
	QueueDone    = "done"
	QueueDead    = "dead"
)

// JobQueue is one FIFO queue: ordered list plus id_hash index. The list
// length always equals the index size. Safe for concurrent use.
//
// Queue views never touch the live job: a metadata projection is captured
// when the job enters the queue, while the pushing goroutine still owns it.
// Workers may keep mutating the job afterwards without racing readers.
type JobQueue struct {
	name string

	mu    sync.RWMutex
	order []*models.Job
	byID  map[string]*models.Job
	meta  map[string]models.JobMetadata

	// blocking holds focus-mode objects; while non-empty the scheduler
	// stops draining this queue.
	blocking []string
}

// NewJobQueue creates an empty queue.
func NewJobQueue(name string) *JobQueue {
	return &JobQueue{
		name: name,
		byID: make(map[string]*models.Job),
		meta: make(map[string]models.JobMetadata),
	}
}

// Name returns the queue name.
func (q *JobQueue) Name() string { return q.name }

// Push appends a job to the tail.
func (q *JobQueue) Push(job *models.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byID[job.IDHash]; exists {
		return
	}
	q.order = append(q.order, job)
	q.byID[job.IDHash] = job
	q.meta[job.IDHash] = job.Metadata()
}

// PopHead removes and returns the oldest job, or nil when empty.
func (q *JobQueue) PopHead() *models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return nil
	}
	job := q.order[0]
	q.order = q.order[1:]
	delete(q.byID, job.IDHash)
	delete(q.meta, job.IDHash)
	return job
}

// Get returns the job with the given id, or nil.
func (q *JobQueue) Get(idHash string) *models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.byID[idHash]
}

// Remove deletes the job with the given id, reporting whether it was
// present.
func (q *JobQueue) Remove(idHash string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[idHash]; !ok {
		return false
	}
	delete(q.byID, idHash)
	delete(q.meta, idHash)
	for i, job := range q.order {
		if job.IDHash == idHash {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.order)
}

// Snapshots returns the metadata projections of the queue in FIFO order
// (oldest first), as captured when each job entered the queue.
func (q *JobQueue) Snapshots() []models.JobMetadata {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]models.JobMetadata, 0, len(q.order))
	for _, job := range q.order {
		out = append(out, q.meta[job.IDHash])
	}
	return out
}

// Clear empties the queue and returns the number of jobs removed.
func (q *JobQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.order)
	q.order = nil
	q.byID = make(map[string]*models.Job)
	q.meta = make(map[string]models.JobMetadata)
	return n
}

// PushBlockingObject enters focus mode: the scheduler stops draining until
// every pushed object has been popped.
func (q *JobQueue) PushBlockingObject(tag string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.blocking = append(q.blocking, tag)
}

// PopBlockingObject removes the most recent blocking object, returning its
// tag and whether one was present.
func (q *JobQueue) PopBlockingObject() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.blocking) == 0 {
		return "", false
	}
	tag := q.blocking[len(q.blocking)-1]
	q.blocking = q.blocking[:len(q.blocking)-1]
	return tag, true
}

// AcceptingJobs reports whether the queue may be drained.
func (q *JobQueue) AcceptingJobs() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.blocking) == 0
}
