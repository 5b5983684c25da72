package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/pagemirror/internal/crawler"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the mirror_runs status column.
type RunStatus string

// Run lifecycle states.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCanceled:
		return true
	default:
		return false
	}
}

// Run is one mirror invocation as exposed by the API and stored in history.
type Run struct {
	ID         uuid.UUID        `json:"id"`
	StartURL   string           `json:"start_url"`
	OutputDir  string           `json:"output_dir,omitempty"`
	Status     RunStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Summary    *crawler.Summary `json:"summary,omitempty"`
	ArchiveURI string           `json:"archive_uri,omitempty"`
}

// RunRepository persists run state. SaveRun inserts or replaces by ID.
type RunRepository interface {
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
