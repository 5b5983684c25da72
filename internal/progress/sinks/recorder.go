package sinks

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

const defaultRecorderLimit = 10000

// Recorder keeps the most recent events per run in memory so the HTTP API
// can serve run logs.
type Recorder struct {
	mu     sync.RWMutex
	limit  int
	events map[uuid.UUID][]progress.Event
}

// NewRecorder returns a Recorder keeping at most limit events per run.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = defaultRecorderLimit
	}
	return &Recorder{limit: limit, events: make(map[uuid.UUID][]progress.Event)}
}

// Consume appends the batch, trimming each run to the limit.
func (r *Recorder) Consume(_ context.Context, batch []progress.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range batch {
		id := evt.RunUUID()
		events := append(r.events[id], evt)
		if over := len(events) - r.limit; over > 0 {
			events = append([]progress.Event(nil), events[over:]...)
		}
		r.events[id] = events
	}
	return nil
}

// Events returns a copy of the recorded events for runID.
func (r *Recorder) Events(runID uuid.UUID) []progress.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]progress.Event(nil), r.events[runID]...)
}

// Close implements the Sink interface; recorded events stay readable.
func (r *Recorder) Close(context.Context) error {
	return nil
}
