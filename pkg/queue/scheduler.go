package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/deepily/cosa/pkg/config"
	"github.com/deepily/cosa/pkg/events"
	"github.com/deepily/cosa/pkg/memory"
	"github.com/deepily/cosa/pkg/models"
	"github.com/deepily/cosa/pkg/services"
)

// errNoJobsAvailable signals an idle poll tick.
var errNoJobsAvailable = errors.New("no jobs available")

// Executor runs the agentic work for one job.
type Executor interface {
	RunJob(ctx context.Context, job *models.Job) error
	FormatCachedAnswer(ctx context.Context, question, answer, routingCommand string) (string, error)
}

// Router resolves a question to a routing command.
type Router interface {
	Route(ctx context.Context, question string) (string, error)
}

// Emitter fans an event out to every session owned by a user.
type Emitter interface {
	EmitToUser(userID, event string, payload any)
}

// SnapshotStore is the slice of the solution store the scheduler needs.
type SnapshotStore interface {
	BestMatch(ctx context.Context, questionText string) (*memory.SolutionSnapshot, float64, bool)
	Insert(ctx context.Context, snap *memory.SolutionSnapshot) error
	Save(snap *memory.SolutionSnapshot) error
}

// InteractionLog records completed exchanges.
type InteractionLog interface {
	Append(ctx context.Context, inputType, input, outputRaw, outputFinal, solutionPath string) error
}

// Normalizer produces the canonical form of a question.
type Normalizer interface {
	Gist(text string) string
}

// cacheHit remembers the snapshot that pre-answered a queued job.
type cacheHit struct {
	snapshot *memory.SolutionSnapshot
	score    float64
}

// Scheduler owns the queue set and drains todo with a pool of workers.
// Stop is safe to call multiple times.
type Scheduler struct {
	cfg      *config.QueueConfig
	registry *config.AgentRegistry
	queues   *QueueSet

	executor   Executor
	router     Router
	emitter    Emitter
	snapshots  SnapshotStore
	log        InteractionLog
	normalizer Normalizer
	logger     *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	hits    map[string]cacheHit
	cancels map[string]context.CancelFunc
}

// NewScheduler wires the scheduler. emitter, snapshots and log may be nil
// (events, caching and logging disabled respectively).
func NewScheduler(cfg *config.QueueConfig, registry *config.AgentRegistry, queues *QueueSet,
	executor Executor, router Router, emitter Emitter, snapshots SnapshotStore,
	log InteractionLog, normalizer Normalizer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:        cfg,
		registry:   registry,
		queues:     queues,
		executor:   executor,
		router:     router,
		emitter:    emitter,
		snapshots:  snapshots,
		log:        log,
		normalizer: normalizer,
		logger:     logger,
		stopCh:     make(chan struct{}),
		hits:       make(map[string]cacheHit),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Queues exposes the queue set to the HTTP surface.
func (s *Scheduler) Queues() *QueueSet { return s.queues }

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.run(ctx, i)
	}
}

// Stop signals the workers to stop and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// CancelJob aborts a running job's context. Returns false for unknown ids.
func (s *Scheduler) CancelJob(idHash string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[idHash]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (s *Scheduler) run(ctx context.Context, workerID int) {
	defer s.wg.Done()

	log := s.logger.With("worker_id", workerID)
	log.Info("queue worker started")

	for {
		select {
		case <-s.stopCh:
			log.Info("queue worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, queue worker shutting down")
			return
		default:
			if err := s.pollAndProcess(ctx); err != nil {
				if errors.Is(err, errNoJobsAvailable) {
					s.sleep(s.pollInterval())
					continue
				}
				log.Error("job processing error", "error", err)
				s.sleep(time.Second)
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (s *Scheduler) sleep(d time.Duration) {
	select {
	case <-s.stopCh:
	case <-time.After(d):
	}
}

// pollInterval returns the poll duration with jitter in
// [base-jitter, base+jitter].
func (s *Scheduler) pollInterval() time.Duration {
	base := s.cfg.PollInterval
	jitter := s.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int63n(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess claims the head of todo and runs it to a terminal state.
func (s *Scheduler) pollAndProcess(ctx context.Context) error {
	if !s.queues.Todo.AcceptingJobs() {
		return errNoJobsAvailable
	}
	job := s.queues.Todo.PopHead()
	if job == nil {
		return errNoJobsAvailable
	}

	now := time.Now()
	job.StartedAt = &now
	job.Status = models.JobStatusRunning
	s.queues.Running.Push(job)
	s.emit(job.UserID, events.EventRunUpdate, job)

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()
	s.mu.Lock()
	s.cancels[job.IDHash] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.IDHash)
		s.mu.Unlock()
	}()

	started := time.Now()
	var err error
	if job.IsCacheHit {
		err = s.serveCacheHit(jobCtx, job)
	} else {
		err = s.executor.RunJob(jobCtx, job)
	}
	elapsed := time.Since(started)

	s.queues.Running.Remove(job.IDHash)
	completed := time.Now()
	job.CompletedAt = &completed

	switch {
	case err == nil:
		job.Status = models.JobStatusDoneOK
		s.queues.Done.Push(job)
		s.afterSuccess(job, elapsed)
		s.emit(job.UserID, events.EventDoneUpdate, job)
		s.logger.Info("job completed", "job_id", job.IDHash, "cache_hit", job.IsCacheHit,
			"elapsed_ms", elapsed.Milliseconds())

	case errors.Is(err, services.ErrCodeGenerationFailed):
		job.Status = models.JobStatusDead
		job.Error = err.Error()
		s.queues.Dead.Push(job)
		s.emit(job.UserID, events.EventDeadUpdate, job)
		s.logger.Warn("job dead after debug exhaustion", "job_id", job.IDHash, "error", err)

	default:
		job.Status = models.JobStatusDoneError
		job.Error = err.Error()
		s.queues.Done.Push(job)
		s.emit(job.UserID, events.EventDoneUpdate, job)
		s.logger.Warn("job failed", "job_id", job.IDHash, "error", err)
	}
	return nil
}

// serveCacheHit synthesizes the conversational answer for a snapshot-served
// job and updates the snapshot's synonym map and runtime stats. The recorded
// runtime covers the formatter call, so it is measured here rather than
// passed in.
func (s *Scheduler) serveCacheHit(ctx context.Context, job *models.Job) error {
	started := time.Now()
	answer, err := s.executor.FormatCachedAnswer(ctx, job.Question, job.Answer, job.RoutingCommand)
	if err != nil {
		return err
	}
	job.AnswerConversational = answer
	elapsed := time.Since(started)

	s.mu.Lock()
	hit, ok := s.hits[job.IDHash]
	delete(s.hits, job.IDHash)
	s.mu.Unlock()
	if !ok || s.snapshots == nil {
		return nil
	}

	hit.snapshot.UpdateRuntimeStats(elapsed.Milliseconds())
	hit.snapshot.AddSynonymousQuestion(job.LastQuestionAsked, hit.score)
	if gist := job.QuestionGist; gist != "" {
		hit.snapshot.AddSynonymousGist(gist, hit.score)
	}
	if err := s.snapshots.Save(hit.snapshot); err != nil {
		s.logger.Warn("snapshot save after cache hit failed",
			"snapshot_id", hit.snapshot.IDHash, "error", err)
	}
	return nil
}

// afterSuccess persists a new snapshot and an interaction-log row for
// cacheable fresh runs. Both are best-effort.
func (s *Scheduler) afterSuccess(job *models.Job, elapsed time.Duration) {
	if job.IsCacheHit {
		return
	}
	agentCfg, err := s.registry.Get(job.RoutingCommand)
	if err != nil || !agentCfg.Cacheable {
		return
	}

	solutionPath := ""
	if s.snapshots != nil {
		snap := memory.NewSnapshot(job.IDHash, job.RoutingCommand, job.LastQuestionAsked)
		snap.QuestionGist = job.QuestionGist
		snap.Answer = job.Answer
		snap.AnswerConversational = job.AnswerConversational
		snap.Code = job.Code
		snap.CodeExample = job.CodeExample
		snap.CodeReturns = job.CodeReturns
		snap.Language = "python"
		snap.UpdateRuntimeStats(elapsed.Milliseconds())

		if err := s.snapshots.Insert(context.Background(), snap); err != nil {
			s.logger.Warn("snapshot insert failed", "job_id", job.IDHash, "error", err)
		} else {
			solutionPath = snap.IDHash
		}
	}

	if s.log != nil {
		if err := s.log.Append(context.Background(), job.RoutingCommand, job.Question,
			job.Answer, job.AnswerConversational, solutionPath); err != nil {
			s.logger.Warn("interaction log append failed", "job_id", job.IDHash, "error", err)
		}
	}
}

func (s *Scheduler) emit(userID, event string, job *models.Job) {
	if s.emitter == nil {
		return
	}
	s.emitter.EmitToUser(userID, event, map[string]any{
		"queue": queueForEvent(event),
		"job":   job.Metadata(),
	})
}

func queueForEvent(event string) string {
	switch event {
	case events.EventTodoUpdate:
		return QueueTodo
	case events.EventRunUpdate:
		return QueueRunning
	case events.EventDeadUpdate:
		return QueueDead
	default:
		return QueueDone
	}
}
