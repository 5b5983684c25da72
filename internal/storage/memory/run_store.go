package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/store"
)

// RunStore provides an in-memory run history for development and tests.
type RunStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	events map[uuid.UUID][]progress.Event
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:   make(map[uuid.UUID]store.Run),
		events: make(map[uuid.UUID][]progress.Event),
	}
}

// SaveRun inserts or replaces a run.
func (s *RunStore) SaveRun(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.Summary != nil {
		summary := *run.Summary
		run.Summary = &summary
	}
	s.runs[run.ID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns the newest runs first. A non-positive limit returns all.
func (s *RunStore) ListRuns(_ context.Context, limit int) ([]store.Run, error) {
	s.mu.RLock()
	out := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendEvents records events for a run.
func (s *RunStore) AppendEvents(_ context.Context, runID uuid.UUID, events []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[runID] = append(s.events[runID], events...)
	return nil
}

// Events returns a copy of the events stored for runID.
func (s *RunStore) Events(runID uuid.UUID) []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]progress.Event(nil), s.events[runID]...)
}
