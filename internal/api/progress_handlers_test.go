package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/progress/sinks"
	"github.com/JakeFAU/pagemirror/internal/storage/memory"
	"github.com/JakeFAU/pagemirror/internal/store"
)

func TestProgressHandlerListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, status := range []store.RunStatus{store.RunSucceeded, store.RunFailed, store.RunSucceeded} {
		require.NoError(t, runs.SaveRun(context.Background(), store.Run{
			ID:        uuid.New(),
			StartURL:  fmt.Sprintf("https://site.test/%d", i),
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	handler := NewProgressHandler(runs, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/crawls?status=succeeded", nil)
	rec := httptest.NewRecorder()
	handler.ListRuns(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []store.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 2)
	require.Equal(t, "https://site.test/2", body.Runs[0].StartURL)
}

func TestProgressHandlerListRunsRejectsBadInput(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), nil, zap.NewNop())
	for _, target := range []string{"/v1/crawls?limit=0", "/v1/crawls?status=paused"} {
		rec := httptest.NewRecorder()
		handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProgressHandlerGetRunNotFound(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), nil, zap.NewNop())
	runID := uuid.New()
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/"+runID.String(), nil), runID.String())
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProgressHandlerGetRunInvalidID(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(memory.NewRunStore(), nil, zap.NewNop())
	req := withRunIDParam(httptest.NewRequest(http.MethodGet, "/v1/crawls/nope", nil), "nope")
	rec := httptest.NewRecorder()

	handler.GetRun(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProgressHandlerRepositoryErrors(t *testing.T) {
	t.Parallel()

	handler := NewProgressHandler(failingRuns{err: errors.New("db down")}, nil, zap.NewNop())
	runID := uuid.New()

	rec := httptest.NewRecorder()
	handler.ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	handler.GetRun(rec, withRunIDParam(httptest.NewRequest(http.MethodGet, "/", nil), runID.String()))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	NewProgressHandler(nil, nil, nil).ListRuns(rec, httptest.NewRequest(http.MethodGet, "/v1/crawls", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestProgressHandlerRunLogsPages(t *testing.T) {
	t.Parallel()

	runs := memory.NewRunStore()
	runID := uuid.New()
	require.NoError(t, runs.SaveRun(context.Background(), store.Run{ID: runID, Status: store.RunRunning}))

	recorder := sinks.NewRecorder(0)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	var batch []progress.Event
	for i := range 5 {
		batch = append(batch, progress.Event{
			RunID:    progress.UUIDToBytes(runID),
			TS:       ts,
			Severity: progress.SeverityInfo,
			Message:  fmt.Sprintf("message %d", i),
		})
	}
	require.NoError(t, recorder.Consume(context.Background(), batch))
	handler := NewProgressHandler(runs, recorder, zap.NewNop())

	req := withRunIDParam(
		httptest.NewRequest(http.MethodGet, "/v1/crawls/"+runID.String()+"/logs?offset=3&limit=10", nil),
		runID.String(),
	)
	rec := httptest.NewRecorder()
	handler.RunLogs(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Total  int        `json:"total"`
		Status string     `json:"status"`
		Events []eventDTO `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 5, body.Total)
	require.Equal(t, "running", body.Status)
	require.Len(t, body.Events, 2)
	require.Equal(t, "message 3", body.Events[0].Message)

	req = withRunIDParam(
		httptest.NewRequest(http.MethodGet, "/v1/crawls/"+runID.String()+"/logs?offset=99", nil),
		runID.String(),
	)
	rec = httptest.NewRecorder()
	handler.RunLogs(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"events":[]`)
}

type failingRuns struct {
	err error
}

func (f failingRuns) SaveRun(context.Context, store.Run) error { return f.err }

func (f failingRuns) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, f.err
}

func (f failingRuns) ListRuns(context.Context, int) ([]store.Run, error) { return nil, f.err }

func withRunIDParam(r *http.Request, runID string) *http.Request {
	ctx := chi.NewRouteContext()
	ctx.URLParams.Add("run_id", runID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, ctx))
}
