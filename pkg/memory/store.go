package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/deepily/cosa/pkg/embedding"
)

// ErrSnapshotNotFound is returned when no snapshot matches the given id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// snapshotPerms keeps snapshot files owner-writable only. The directory is
// private to the service; world-writable solution files are a hazard.
const snapshotPerms = 0o644

// Match pairs a snapshot with its similarity score on the 0-100 scale.
type Match struct {
	Snapshot *SolutionSnapshot
	Score    float64
}

// Store persists snapshots as JSON files in a single directory and answers
// similarity queries against their question embeddings. All snapshots are
// held in memory after load; queries never touch disk. Safe for concurrent
// use.
type Store struct {
	dir       string
	embedder  *embedding.Service
	threshold float64
	logger    *slog.Logger

	mu       sync.RWMutex
	byID     map[string]*SolutionSnapshot
	pathByID map[string]string
}

// NewStore opens (creating if needed) the snapshot directory and loads every
// parseable snapshot. Files that fail to parse are skipped with a warning.
func NewStore(dir string, embedder *embedding.Service, threshold float64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	s := &Store{
		dir:       dir,
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
		byID:      make(map[string]*SolutionSnapshot),
		pathByID:  make(map[string]string),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read snapshot dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot", "path", path, "error", err)
			continue
		}
		var snap SolutionSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			s.logger.Warn("skipping corrupted snapshot", "path", path, "error", err)
			continue
		}
		if snap.IDHash == "" {
			s.logger.Warn("skipping snapshot without id", "path", path)
			continue
		}
		s.byID[snap.IDHash] = &snap
		s.pathByID[snap.IDHash] = path
	}
	s.logger.Info("solution snapshots loaded", "count", len(s.byID), "dir", s.dir)
	return nil
}

// Insert computes any missing embeddings, persists the snapshot to a new
// file and registers it for similarity queries. The five embeddings are
// computed concurrently; question, gist, summary and thoughts are
// normalized, code is embedded verbatim.
func (s *Store) Insert(ctx context.Context, snap *SolutionSnapshot) error {
	if snap.IDHash == "" {
		return fmt.Errorf("snapshot id_hash must not be empty")
	}
	if snap.QuestionGist == "" {
		snap.QuestionGist = s.embedder.Gist(snap.Question)
	}

	g, gctx := errgroup.WithContext(ctx)
	embedInto := func(dst *[]float32, text string, normalize bool) {
		if len(*dst) > 0 || text == "" {
			return
		}
		g.Go(func() error {
			*dst = s.embedder.Embed(gctx, text, normalize)
			return nil
		})
	}
	embedInto(&snap.QuestionEmbedding, snap.Question, true)
	embedInto(&snap.QuestionGistEmbedding, snap.QuestionGist, true)
	embedInto(&snap.SolutionSummaryEmbedding, snap.SolutionSummary, true)
	embedInto(&snap.ThoughtsEmbedding, snap.Thoughts, true)
	embedInto(&snap.CodeEmbedding, strings.Join(snap.Code, "\n"), false)
	if err := g.Wait(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.nextPathLocked(snap.Question)
	if err := writeSnapshotFile(path, snap); err != nil {
		return err
	}
	s.byID[snap.IDHash] = snap
	s.pathByID[snap.IDHash] = path
	return nil
}

// Save rewrites an already-inserted snapshot after a mutation such as a new
// synonym or updated runtime stats.
func (s *Store) Save(snap *SolutionSnapshot) error {
	s.mu.RLock()
	path, ok := s.pathByID[snap.IDHash]
	s.mu.RUnlock()
	if !ok {
		return ErrSnapshotNotFound
	}
	return writeSnapshotFile(path, snap)
}

// GetByID returns the snapshot with the given id hash.
func (s *Store) GetByID(idHash string) (*SolutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[idHash]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return snap, nil
}

// SimilarTo embeds questionText and returns the top-k snapshots ranked by
// dot-product similarity on the question embedding, scored 0-100. Snapshots
// that list the normalized question as a known negative are excluded.
func (s *Store) SimilarTo(ctx context.Context, questionText string, k int) []Match {
	query := s.embedder.Embed(ctx, questionText, true)
	if len(query) == 0 {
		return nil
	}
	normalized := s.embedder.Gist(questionText)

	s.mu.RLock()
	matches := make([]Match, 0, len(s.byID))
	for _, snap := range s.byID {
		if len(snap.QuestionEmbedding) != len(query) {
			continue
		}
		if snap.knownNegative(normalized) {
			continue
		}
		matches = append(matches, Match{
			Snapshot: snap,
			Score:    dotProduct(query, snap.QuestionEmbedding) * 100,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// BestMatch returns the single best snapshot when its score meets the
// configured threshold.
func (s *Store) BestMatch(ctx context.Context, questionText string) (*SolutionSnapshot, float64, bool) {
	matches := s.SimilarTo(ctx, questionText, 1)
	if len(matches) == 0 || matches[0].Score < s.threshold {
		return nil, 0, false
	}
	return matches[0].Snapshot, matches[0].Score, true
}

// Threshold returns the configured similarity threshold.
func (s *Store) Threshold() float64 {
	return s.threshold
}

// Delete removes the snapshot and its file. Unknown ids return
// ErrSnapshotNotFound without mutating anything.
func (s *Store) Delete(idHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.pathByID[idHash]
	if !ok {
		return ErrSnapshotNotFound
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot file: %w", err)
	}
	delete(s.byID, idHash)
	delete(s.pathByID, idHash)
	return nil
}

// Len returns the number of loaded snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (snap *SolutionSnapshot) knownNegative(normalizedQuestion string) bool {
	for _, q := range snap.NonSynonymousQuestions {
		if q == normalizedQuestion {
			return true
		}
	}
	return false
}

// nextPathLocked picks {slug}-{n}.json with the lowest n not already on
// disk. Caller holds the write lock.
func (s *Store) nextPathLocked(question string) string {
	slug := slugify(question)
	for n := 0; ; n++ {
		path := filepath.Join(s.dir, fmt.Sprintf("%s-%d.json", slug, n))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}

// writeSnapshotFile writes atomically: marshal to a temp file in the same
// directory, then rename over the target. A failed write leaves no partial
// file behind.
func writeSnapshotFile(path string, snap *SolutionSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, snapshotPerms); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// slugify reduces a question to a filesystem-safe slug.
func slugify(question string) string {
	s := strings.ToLower(strings.TrimSpace(question))
	var b strings.Builder
	b.Grow(len(s))
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		case !lastDash && b.Len() > 0:
			b.WriteByte('-')
			lastDash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 64 {
		slug = strings.TrimSuffix(slug[:64], "-")
	}
	if slug == "" {
		slug = "question"
	}
	return slug
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
