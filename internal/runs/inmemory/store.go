package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/expense-extractor/internal/runs"
	"github.com/google/uuid"
)

// DefaultMaxRuns is the number of runs NewStore keeps before evicting.
const DefaultMaxRuns = 1000

// Store is an in-memory implementation of runs.Store.
// It is safe for concurrent use. Data is lost on restart; for persistence,
// use the BigQuery-backed store. Only the most recent maxRuns runs are kept;
// older runs are evicted together with their model outputs.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*runs.Run
	outputs map[string][]*runs.ModelOutput
	order   []string
	maxRuns int
	now     func() time.Time
}

// NewStore creates a new in-memory run store holding up to DefaultMaxRuns runs.
func NewStore() *Store {
	return NewStoreWithLimit(DefaultMaxRuns)
}

// NewStoreWithLimit creates a store holding up to maxRuns runs.
// A non-positive limit falls back to DefaultMaxRuns.
func NewStoreWithLimit(maxRuns int) *Store {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Store{
		runs:    make(map[string]*runs.Run),
		outputs: make(map[string][]*runs.ModelOutput),
		maxRuns: maxRuns,
		now:     time.Now,
	}
}

// StartRun implements runs.Recorder.
func (s *Store) StartRun(ctx context.Context, run *runs.Run) (string, error) {
	if run == nil {
		return "", fmt.Errorf("StartRun: run is required")
	}

	// Create a copy to avoid external modifications
	runCopy := *run
	if runCopy.RunID == "" {
		runCopy.RunID = uuid.NewString()
	}
	if runCopy.StartedAt.IsZero() {
		runCopy.StartedAt = s.now().UTC()
	}
	runCopy.Status = runs.StatusRunning
	runCopy.FinishedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runCopy.RunID]; !exists {
		s.order = append(s.order, runCopy.RunID)
	}
	s.runs[runCopy.RunID] = &runCopy
	s.evict()
	return runCopy.RunID, nil
}

// evict drops the oldest runs beyond maxRuns. Callers hold s.mu.
func (s *Store) evict() {
	for len(s.order) > s.maxRuns {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, oldest)
		delete(s.outputs, oldest)
	}
}

// Len returns the number of runs currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// StoreModelOutput implements runs.Recorder.
func (s *Store) StoreModelOutput(ctx context.Context, out *runs.ModelOutput) (string, error) {
	if out == nil || out.RunID == "" {
		return "", fmt.Errorf("StoreModelOutput: run ID is required")
	}

	outCopy := *out
	if outCopy.OutputID == "" {
		outCopy.OutputID = uuid.NewString()
	}
	if outCopy.CreatedAt.IsZero() {
		outCopy.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[out.RunID]; !exists {
		return "", fmt.Errorf("StoreModelOutput: %w: %s", runs.ErrNotFound, out.RunID)
	}
	s.outputs[out.RunID] = append(s.outputs[out.RunID], &outCopy)
	return outCopy.OutputID, nil
}

// MarkSucceeded implements runs.Recorder.
func (s *Store) MarkSucceeded(ctx context.Context, runID string, result runs.Result) error {
	return s.finish(runID, runs.StatusSucceeded, result, "")
}

// MarkFailed implements runs.Recorder. Unknown run IDs are ignored.
func (s *Store) MarkFailed(ctx context.Context, runID string, result runs.Result, runErr error) {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	_ = s.finish(runID, runs.StatusFailed, result, msg)
}

func (s *Store) finish(runID string, status runs.Status, result runs.Result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("%w: %s", runs.ErrNotFound, runID)
	}

	finished := s.now().UTC()
	run.Status = status
	run.FinishedAt = &finished
	run.Strategy = result.Strategy
	run.ErrorKind = result.ErrorKind
	run.ErrorMessage = errMsg
	run.TransactionCount = result.TransactionCount
	run.TokensInput = result.TokensInput
	run.TokensOutput = result.TokensOutput
	return nil
}

// GetRun implements runs.Reader.
func (s *Store) GetRun(ctx context.Context, runID string) (*runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", runs.ErrNotFound, runID)
	}

	// Return a copy to avoid external modifications
	return copyRun(run), nil
}

// ListRuns implements runs.Reader.
func (s *Store) ListRuns(ctx context.Context, filter runs.Filter) ([]*runs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*runs.Run{}
	for _, run := range s.runs {
		if filter.UserID != "" && run.UserID != filter.UserID {
			continue
		}
		if filter.Mode != "" && run.Mode != filter.Mode {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, copyRun(run))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].RunID < result[j].RunID
		}
		return result[i].StartedAt.After(result[j].StartedAt)
	})

	// Apply limit and offset
	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*runs.Run{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// ModelOutputs returns the raw outputs stored for a run, oldest first.
func (s *Store) ModelOutputs(runID string) []runs.ModelOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]runs.ModelOutput, 0, len(s.outputs[runID]))
	for _, out := range s.outputs[runID] {
		result = append(result, *out)
	}
	return result
}

func copyRun(run *runs.Run) *runs.Run {
	runCopy := *run
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		runCopy.FinishedAt = &finished
	}
	return &runCopy
}

// Ensure Store implements runs.Store interface.
var _ runs.Store = (*Store)(nil)
