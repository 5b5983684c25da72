package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockArchiver is a testify mock for Archiver.
type MockArchiver struct {
	mock.Mock
}

// Archive records the call and returns the configured result.
func (m *MockArchiver) Archive(ctx context.Context, runID uuid.UUID, root string) (ArchiveResult, error) {
	args := m.Called(ctx, runID, root)
	result, _ := args.Get(0).(ArchiveResult)
	return result, args.Error(1) //nolint:wrapcheck
}
