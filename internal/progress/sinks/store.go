package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

// EventRepository persists run log events.
type EventRepository interface {
	AppendEvents(ctx context.Context, runID uuid.UUID, events []progress.Event) error
}

// StoreSink persists run log events through an EventRepository, one write per
// run and batch.
type StoreSink struct {
	repo   EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume groups the batch by run, preserving order, and forwards each group.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	var order []uuid.UUID
	groups := make(map[uuid.UUID][]progress.Event)
	for _, evt := range batch {
		id := evt.RunUUID()
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], evt)
	}
	for _, id := range order {
		if err := s.repo.AppendEvents(ctx, id, groups[id]); err != nil {
			return fmt.Errorf("append run events: %w", err)
		}
	}
	s.logger.Debug("persisted run events", zap.Int("count", len(batch)), zap.Int("runs", len(order)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
