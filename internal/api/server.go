package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/app"
	"github.com/JakeFAU/pagemirror/internal/crawler"
	"github.com/JakeFAU/pagemirror/internal/metrics"
	"github.com/JakeFAU/pagemirror/internal/store"
)

// Runner starts and stops background mirror runs.
type Runner interface {
	Submit(ctx context.Context, opts crawler.Options) (store.Run, error)
	Cancel(id uuid.UUID) bool
}

// Server wires HTTP handlers to the runner and run history.
type Server struct {
	router   chi.Router
	runner   Runner
	defaults crawler.Options
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. defaults fills
// every field a crawl request leaves out.
func NewServer(
	runner Runner,
	runs store.RunRepository,
	logs LogSource,
	defaults crawler.Options,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:   runner,
		defaults: defaults,
		logger:   logger,
	}
	handlers := NewProgressHandler(runs, logs, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/crawls", func(r chi.Router) {
		r.Post("/", s.submitCrawl)
		r.Get("/", handlers.ListRuns)
		r.Route("/{run_id}", func(r chi.Router) {
			r.Get("/", handlers.GetRun)
			r.Get("/logs", handlers.RunLogs)
			r.Post("/cancel", s.cancelCrawl)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	run, err := s.runner.Submit(r.Context(), s.toOptions(req))
	if err != nil {
		if errors.Is(err, app.ErrInvalidOptions) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit crawl failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":     run.ID.String(),
		"status":     string(run.Status),
		"output_dir": run.OutputDir,
	})
}

func (s *Server) cancelCrawl(w http.ResponseWriter, r *http.Request) {
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.runner.Cancel(runID) {
		writeError(w, http.StatusNotFound, "run not active")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID.String(), "status": "canceling"})
}

func (s *Server) toOptions(req crawlRequest) crawler.Options {
	opts := s.defaults
	opts.URL = req.URL
	opts.OutputDir = valueOrDefault(req.OutputDir, opts.OutputDir)
	opts.Depth = valueOrDefault(req.Depth, opts.Depth)
	opts.Mode = crawler.Mode(valueOrDefault(req.Mode, string(opts.Mode)))
	opts.FilterImage = valueOrDefault(req.FilterImage, opts.FilterImage)
	opts.FilterVideo = valueOrDefault(req.FilterVideo, opts.FilterVideo)
	opts.ConvertImage = valueOrDefault(req.ConvertImage, opts.ConvertImage)
	opts.TargetFormat = crawler.ImageFormat(valueOrDefault(req.TargetFormat, string(opts.TargetFormat)))
	opts.TaskDir = valueOrDefault(req.TaskDir, opts.TaskDir)
	return opts
}

type crawlRequest struct {
	URL          string  `json:"url"`
	OutputDir    *string `json:"output_dir"`
	Depth        *int    `json:"depth"`
	Mode         *string `json:"mode"`
	FilterImage  *bool   `json:"filter_image"`
	FilterVideo  *bool   `json:"filter_video"`
	ConvertImage *bool   `json:"convert_image"`
	TargetFormat *string `json:"target_format"`
	TaskDir      *bool   `json:"task_dir"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
