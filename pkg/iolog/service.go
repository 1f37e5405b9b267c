// Package iolog maintains the append-only interaction log: every user
// exchange is recorded with embeddings of its input and final output so past
// interactions can be searched semantically.
package iolog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/deepily/cosa/pkg/embedding"
	"github.com/deepily/cosa/pkg/models"
)

// InputTypeRouterPrefix marks rows produced by agent routing; the
// interactions query filters on it.
const InputTypeRouterPrefix = "agent router go to "

// Store is the persistence backend for log rows. The postgres
// implementation lives in pg.go.
type Store interface {
	Insert(ctx context.Context, row models.IOLogRow) error
	KNN(ctx context.Context, queryEmbedding []float32, k int) ([]models.IOLogRow, error)
	Recent(ctx context.Context, maxRows int) ([]models.IOLogRow, error)
	StatsByInputType(ctx context.Context) (map[string]int, error)
	ByInputTypePrefix(ctx context.Context, prefix string, maxRows int) ([]models.IOLogRow, error)
}

// Service appends interaction rows, computing embeddings inline
// (synchronous mode) or on a background worker (asynchronous mode).
// Background failures are logged, never raised.
type Service struct {
	store    Store
	embedder *embedding.Service
	logger   *slog.Logger

	async     bool
	ch        chan appendRequest
	wg        sync.WaitGroup
	closeOnce sync.Once
}

type appendRequest struct {
	inputType    string
	input        string
	outputRaw    string
	outputFinal  string
	solutionPath string
	at           time.Time
}

// asyncBuffer bounds the pending append queue; overflow drops the row with
// a warning rather than blocking the caller.
const asyncBuffer = 256

// NewService constructs the log service. With async=true a single worker
// goroutine drains appends until Close is called.
func NewService(store Store, embedder *embedding.Service, async bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		embedder: embedder,
		logger:   logger,
		async:    async,
	}
	if async {
		s.ch = make(chan appendRequest, asyncBuffer)
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Append records one interaction. In synchronous mode embeddings are
// computed inline and the row is inserted before returning. In asynchronous
// mode Append returns immediately; the background worker does the rest.
func (s *Service) Append(ctx context.Context, inputType, input, outputRaw, outputFinal, solutionPath string) error {
	req := appendRequest{
		inputType:    inputType,
		input:        input,
		outputRaw:    outputRaw,
		outputFinal:  outputFinal,
		solutionPath: solutionPath,
		at:           time.Now(),
	}
	if !s.async {
		return s.append(ctx, req)
	}
	select {
	case s.ch <- req:
	default:
		s.logger.Warn("io log buffer full, dropping row", "input_type", inputType)
	}
	return nil
}

func (s *Service) worker() {
	defer s.wg.Done()
	for req := range s.ch {
		if err := s.append(context.Background(), req); err != nil {
			s.logger.Error("io log append failed", "input_type", req.inputType, "error", err)
		}
	}
}

func (s *Service) append(ctx context.Context, req appendRequest) error {
	row := models.IOLogRow{
		Date:                 req.at.Format("2006-01-02"),
		Time:                 req.at.Format("15:04:05"),
		InputType:            req.inputType,
		Input:                req.input,
		InputEmbedding:       s.embedder.Embed(ctx, req.input, true),
		OutputRaw:            req.outputRaw,
		OutputFinal:          req.outputFinal,
		OutputFinalEmbedding: s.embedder.Embed(ctx, req.outputFinal, true),
		SolutionPath:         req.solutionPath,
	}
	return s.store.Insert(ctx, row)
}

// KNN returns the k rows whose input embeddings are closest to queryText by
// inner product.
func (s *Service) KNN(ctx context.Context, queryText string, k int) ([]models.IOLogRow, error) {
	vec := s.embedder.Embed(ctx, queryText, true)
	if len(vec) == 0 {
		return nil, nil
	}
	return s.store.KNN(ctx, vec, k)
}

// Recent returns the newest rows, most recent first.
func (s *Service) Recent(ctx context.Context, maxRows int) ([]models.IOLogRow, error) {
	return s.store.Recent(ctx, maxRows)
}

// StatsByInputType returns row counts grouped by input type.
func (s *Service) StatsByInputType(ctx context.Context) (map[string]int, error) {
	return s.store.StatsByInputType(ctx)
}

// AgentRouterInteractions returns the newest rows produced by agent
// routing.
func (s *Service) AgentRouterInteractions(ctx context.Context, maxRows int) ([]models.IOLogRow, error) {
	return s.store.ByInputTypePrefix(ctx, InputTypeRouterPrefix, maxRows)
}

// Close stops the background worker, draining any pending appends first.
// Safe to call in synchronous mode and safe to call twice.
func (s *Service) Close() {
	if !s.async {
		return
	}
	s.closeOnce.Do(func() {
		close(s.ch)
		s.wg.Wait()
	})
}
