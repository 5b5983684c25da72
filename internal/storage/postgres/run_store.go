// Package postgres provides Postgres-backed run history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pagemirror/internal/crawler"
	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	RunsTable       string
	EventsTable     string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Close()
}

// RunStore writes run rows and their log events into Postgres.
type RunStore struct {
	pool   pool
	runs   string
	events string
}

// NewRunStore connects using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewRunStoreWithPool(p, cfg.RunsTable, cfg.EventsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, runsTable, eventsTable string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if runsTable == "" {
		runsTable = "mirror_runs"
	}
	if eventsTable == "" {
		eventsTable = "mirror_events"
	}
	for _, table := range []string{runsTable, eventsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &RunStore{pool: p, runs: runsTable, events: eventsTable}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run and event tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	start_url TEXT NOT NULL,
	output_dir TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	summary JSONB,
	archive_uri TEXT NOT NULL DEFAULT ''
)`, s.runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id UUID NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	depth INTEGER NOT NULL DEFAULT 0,
	bytes BIGINT NOT NULL DEFAULT 0
)`, s.events),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun upserts a run row.
func (s *RunStore) SaveRun(ctx context.Context, run store.Run) error {
	if run.ID == uuid.Nil {
		return errors.New("run id is required")
	}
	var summary []byte
	if run.Summary != nil {
		var err error
		if summary, err = json.Marshal(run.Summary); err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, start_url, output_dir, status, error_message, created_at, started_at, finished_at, summary, archive_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (id) DO UPDATE SET
	output_dir = EXCLUDED.output_dir,
	status = EXCLUDED.status,
	error_message = EXCLUDED.error_message,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at,
	summary = EXCLUDED.summary,
	archive_uri = EXCLUDED.archive_uri`, s.runs)

	args := []any{
		run.ID,
		run.StartURL,
		run.OutputDir,
		string(run.Status),
		run.Error,
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
		summary,
		run.ArchiveURI,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

const runColumns = `id, start_url, output_dir, status, error_message, created_at, started_at, finished_at, summary, archive_uri`

// GetRun loads a single run or returns store.ErrNotFound.
func (s *RunStore) GetRun(ctx context.Context, id uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, s.runs)
	run, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1`, runColumns, s.runs)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// AppendEvents bulk-copies events for a run.
func (s *RunStore) AppendEvents(ctx context.Context, runID uuid.UUID, events []progress.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, len(events))
	for i, evt := range events {
		rows[i] = []any{runID, evt.TS, string(evt.Severity), evt.Message, evt.URL, evt.Depth, evt.Bytes}
	}
	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{s.events},
		[]string{"run_id", "ts", "severity", "message", "url", "depth", "bytes"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy events: %w", err)
	}
	return nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run     store.Run
		status  string
		summary []byte
	)
	err := row.Scan(
		&run.ID,
		&run.StartURL,
		&run.OutputDir,
		&status,
		&run.Error,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&summary,
		&run.ArchiveURI,
	)
	if err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	if len(summary) > 0 {
		var sum crawler.Summary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return store.Run{}, fmt.Errorf("decode summary: %w", err)
		}
		run.Summary = &sum
	}
	return run, nil
}
