package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/store"
)

const (
	defaultRunLimit = 50
	maxRunLimit     = 500
	defaultLogLimit = 1000
	maxLogLimit     = 10000
	progressTimeout = 3 * time.Second
)

// LogSource returns the collected log events of a run.
type LogSource interface {
	Events(runID uuid.UUID) []progress.Event
}

// ProgressHandler exposes read-only run history and run log endpoints.
type ProgressHandler struct {
	runs    store.RunRepository
	logs    LogSource
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository, log source and logger.
func NewProgressHandler(runs store.RunRepository, logs LogSource, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		runs:    runs,
		logs:    logs,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/crawls?status=&limit=. It returns {"runs": [...]}
// newest first, 400 for invalid filters, 503 when the repository is missing,
// or 500 if the repository call fails.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	limit, _, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status store.RunStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err = parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	runs, err := h.runs.ListRuns(ctx, limit)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]store.Run, 0, len(runs))
	for _, run := range runs {
		if status == "" || run.Status == status {
			out = append(out, run)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// GetRun handles GET /v1/crawls/{run_id}. It returns {"run": {...}}, 400 for
// malformed IDs, 404 when the run is unknown, or 500 otherwise.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

// RunLogs handles GET /v1/crawls/{run_id}/logs?offset=&limit=. Clients poll
// with offset set to the number of events already received.
func (h *ProgressHandler) RunLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var events []progress.Event
	if h.logs != nil {
		events = h.logs.Events(run.ID)
	}
	total := len(events)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id": run.ID.String(),
		"status": run.Status,
		"total":  total,
		"events": toEventDTOs(events[offset:end]),
	})
}

func (h *ProgressHandler) loadRun(w http.ResponseWriter, r *http.Request) (store.Run, bool) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return store.Run{}, false
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return store.Run{}, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return store.Run{}, false
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return store.Run{}, false
	}
	return run, true
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	runID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return runID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RunStatus, error) {
	switch store.RunStatus(strings.ToLower(input)) {
	case store.RunQueued:
		return store.RunQueued, nil
	case store.RunRunning:
		return store.RunRunning, nil
	case store.RunSucceeded, "success":
		return store.RunSucceeded, nil
	case store.RunFailed, "error":
		return store.RunFailed, nil
	case store.RunCanceled:
		return store.RunCanceled, nil
	default:
		return "", errors.New("invalid status")
	}
}

func toEventDTOs(in []progress.Event) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, evt := range in {
		out = append(out, eventDTO{
			TS:       evt.TS,
			Severity: string(evt.Severity),
			Message:  evt.Message,
			URL:      evt.URL,
			Depth:    evt.Depth,
			Bytes:    evt.Bytes,
		})
	}
	return out
}

type eventDTO struct {
	TS       time.Time `json:"ts"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	URL      string    `json:"url,omitempty"`
	Depth    int       `json:"depth"`
	Bytes    int64     `json:"bytes,omitempty"`
}
