package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

// Filter selects whose jobs a retrieval sees.
type Filter string

const (
	FilterSelf         Filter = "self"
	FilterSpecificUser Filter = "specific_user"
	FilterAll          Filter = "all"
)

// Requester identifies the caller of a retrieval operation.
type Requester struct {
	UserID  string
	IsAdmin bool
}

// QueueSet holds the four job queues and the per-user index.
type QueueSet struct {
	Todo    *JobQueue
	Running *JobQueue
	Done    *JobQueue
	Dead    *JobQueue

	mu        sync.RWMutex
	userIndex map[string]map[string]bool // user_id -> set(id_hash)
}

// NewQueueSet creates the four empty queues.
func NewQueueSet() *QueueSet {
	return &QueueSet{
		Todo:      NewJobQueue(QueueTodo),
		Running:   NewJobQueue(QueueRunning),
		Done:      NewJobQueue(QueueDone),
		Dead:      NewJobQueue(QueueDead),
		userIndex: make(map[string]map[string]bool),
	}
}

// ByName resolves a queue name from the HTTP surface.
func (s *QueueSet) ByName(name string) (*JobQueue, error) {
	switch name {
	case QueueTodo:
		return s.Todo, nil
	case QueueRunning:
		return s.Running, nil
	case QueueDone:
		return s.Done, nil
	case QueueDead:
		return s.Dead, nil
	default:
		return nil, services.NewValidationError("name", fmt.Sprintf("unknown queue %q", name))
	}
}

// AddToTodo appends a new job and registers it in the user index.
func (s *QueueSet) AddToTodo(job *models.Job) {
	s.Todo.Push(job)
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.userIndex[job.UserID]
	if !ok {
		set = make(map[string]bool)
		s.userIndex[job.UserID] = set
	}
	set[job.IDHash] = true
}

// FindJob locates a job across all queues, returning it with its queue.
func (s *QueueSet) FindJob(idHash string) (*models.Job, *JobQueue, bool) {
	for _, q := range []*JobQueue{s.Todo, s.Running, s.Done, s.Dead} {
		if job := q.Get(idHash); job != nil {
			return job, q, true
		}
	}
	return nil, nil, false
}

// Directory exposes the queue set as a job lookup keyed by id with the
// holding queue's name, for collaborators that must not depend on queue
// internals.
type Directory struct {
	Queues *QueueSet
}

// FindJob returns the job and the name of the queue holding it.
func (d Directory) FindJob(idHash string) (*models.Job, string, bool) {
	job, q, ok := d.Queues.FindJob(idHash)
	if !ok {
		return nil, "", false
	}
	return job, q.Name(), true
}

// Delete removes a job from whichever queue holds it and from the user
// index. Unknown ids return ErrNotFound without mutation.
func (s *QueueSet) Delete(idHash string) error {
	job, q, ok := s.FindJob(idHash)
	if !ok {
		return services.ErrNotFound
	}
	q.Remove(idHash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.userIndex[job.UserID]; ok {
		delete(set, idHash)
		if len(set) == 0 {
			delete(s.userIndex, job.UserID)
		}
	}
	return nil
}

// Reset clears every queue and the user index, returning per-queue cleared
// counts keyed by queue name.
func (s *QueueSet) Reset() map[string]int {
	counts := map[string]int{
		QueueTodo:    s.Todo.Clear(),
		QueueRunning: s.Running.Clear(),
		QueueDone:    s.Done.Clear(),
		QueueDead:    s.Dead.Clear(),
	}
	s.mu.Lock()
	s.userIndex = make(map[string]map[string]bool)
	s.mu.Unlock()
	return counts
}

// UserJobCount returns how many live jobs the user owns.
func (s *QueueSet) UserJobCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.userIndex[userID])
}

// GetQueue returns metadata projections from the named queue, filtered by
// the requester's scope. Regular users are always forced to their own jobs;
// admins may ask for a specific user or everything. todo/done/dead are
// sorted newest-first, running oldest-first.
func (s *QueueSet) GetQueue(name string, requester Requester, filter Filter, targetUser string) ([]models.JobMetadata, error) {
	q, err := s.ByName(name)
	if err != nil {
		return nil, err
	}

	effectiveUser := requester.UserID
	switch {
	case !requester.IsAdmin:
		if filter == FilterAll || (filter == FilterSpecificUser && targetUser != requester.UserID) {
			return nil, services.ErrForbidden
		}
	case filter == FilterSpecificUser:
		effectiveUser = targetUser
	case filter == FilterAll:
		effectiveUser = ""
	}

	// Projections were captured when each job entered the queue, so this
	// read never touches a job a worker may be mutating.
	snapshots := q.Snapshots()
	metadata := make([]models.JobMetadata, 0, len(snapshots))
	for _, meta := range snapshots {
		if effectiveUser != "" && meta.UserID != effectiveUser {
			continue
		}
		metadata = append(metadata, meta)
	}

	if name == QueueRunning {
		// FIFO order is already oldest-first.
		return metadata, nil
	}
	sort.SliceStable(metadata, func(i, j int) bool {
		return metadata[i].CreatedAt.After(metadata[j].CreatedAt)
	})
	return metadata, nil
}
