package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/config"
	"github.com/JakeFAU/pagemirror/internal/crawler"
	"github.com/JakeFAU/pagemirror/internal/fetcher"
	collyfetcher "github.com/JakeFAU/pagemirror/internal/fetcher/colly"
	"github.com/JakeFAU/pagemirror/internal/fetcher/stream"
	"github.com/JakeFAU/pagemirror/internal/logging"
	"github.com/JakeFAU/pagemirror/internal/metrics"
	"github.com/JakeFAU/pagemirror/internal/policy/ratelimit"
	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/progress/sinks"
	"github.com/JakeFAU/pagemirror/internal/storage/local"
	"github.com/JakeFAU/pagemirror/internal/store"
	"github.com/JakeFAU/pagemirror/internal/transcode"
)

const (
	hubCloseTimeout = 10 * time.Second
	tracerName      = "github.com/JakeFAU/pagemirror/internal/app"
)

// Start mirrors opts with default collaborators and no history, archive or
// notifications. Run messages go to the supplied sinks.
func Start(ctx context.Context, opts crawler.Options, extra ...progress.Sink) (crawler.Summary, error) {
	wd, err := os.Getwd()
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("resolve working directory: %w", err)
	}
	a := newBase(config.Config{}, zap.NewNop())
	a.WorkDir = wd
	defer a.Close()

	run, err := a.Mirror(ctx, opts, extra...)
	if run.Summary != nil {
		return *run.Summary, err
	}
	return crawler.Summary{}, err
}

// Execute runs a prepared mirror to completion and records the outcome. The
// returned error is terminal: invalid configuration, an output root that
// cannot be created, or cancellation. Archive and notification failures are
// reported in the run log only.
func (a *App) Execute(ctx context.Context, run store.Run, cfg crawler.Config, extra ...progress.Sink) (store.Run, error) {
	logger := logging.ForRun(a.Logger, run.ID, cfg.StartURL)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "mirror.run", trace.WithAttributes(
		attribute.String("run.id", run.ID.String()),
		attribute.String("mirror.start_url", cfg.StartURL),
		attribute.Int("mirror.max_depth", cfg.MaxDepth),
	))
	defer span.End()
	persistCtx := context.WithoutCancel(ctx)

	if err := a.slots.Acquire(ctx, 1); err != nil {
		run.Status = store.RunCanceled
		run.Error = err.Error()
		run.FinishedAt = a.now()
		a.save(persistCtx, logger, run)
		return run, fmt.Errorf("wait for run slot: %w", err)
	}
	defer a.slots.Release(1)

	run.Status = store.RunRunning
	run.StartedAt = a.now()
	a.save(persistCtx, logger, run)

	hubCfg := a.Config.HubConfig()
	hubCfg.Logger = logger
	hubCfg.BaseContext = persistCtx
	hub := progress.NewHub(hubCfg, a.sinksFor(logger, extra)...)

	metrics.RunStarted()
	summary, runErr := a.runEngine(ctx, run.ID, cfg, hub, logger)
	run.Summary = &summary

	switch {
	case runErr == nil:
		run.Status = store.RunSucceeded
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		run.Status = store.RunCanceled
		run.Error = runErr.Error()
	default:
		run.Status = store.RunFailed
		run.Error = runErr.Error()
		a.emit(hub, run.ID, progress.SeverityError, runErr.Error())
	}
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(run.Status))
	}
	span.SetAttributes(
		attribute.Int64("mirror.pages_saved", summary.PagesSaved),
		attribute.Int64("mirror.resources_fetched", summary.ResourcesFetched),
	)

	if run.Status == store.RunSucceeded {
		a.archive(persistCtx, hub, logger, &run, cfg.OutputDir)
	}
	run.FinishedAt = a.now()
	a.notify(persistCtx, hub, logger, run)

	closeCtx, cancel := context.WithTimeout(persistCtx, hubCloseTimeout)
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub did not drain", zap.Error(err))
	}
	cancel()

	metrics.RunFinished(string(run.Status))
	a.save(persistCtx, logger, run)
	return run, runErr
}

func (a *App) runEngine(
	ctx context.Context,
	runID uuid.UUID,
	cfg crawler.Config,
	hub *progress.Hub,
	logger *zap.Logger,
) (crawler.Summary, error) {
	out, err := local.New(local.Config{BaseDir: cfg.OutputDir})
	if err != nil {
		return crawler.Summary{}, fmt.Errorf("create output root: %w", err)
	}

	transport := a.Transport
	if transport == nil {
		transport = fetcher.NewTransport(cfg.RequestTimeout)
	}
	// One limiter per run, shared by page and resource requests.
	var limiter fetcher.Limiter
	if l := ratelimit.New(ratelimit.Config{
		RPS:   a.Config.HTTP.RateLimitRPS,
		Burst: a.Config.HTTP.RateLimitBurst,
	}); l.Enabled() {
		limiter = l
	}
	pages := collyfetcher.New(collyfetcher.Config{
		Timeout:     cfg.RequestTimeout,
		MaxBodySize: cfg.MaxPageBytes,
		Transport:   transport,
		Limiter:     limiter,
	})
	resources := stream.New(stream.Config{
		Timeout:   cfg.RequestTimeout,
		Transport: transport,
		Limiter:   limiter,
	})

	engine, err := crawler.NewEngine(
		cfg,
		runID,
		pages,
		resources,
		transcode.New(a.Config.Transcode.JPEGQuality),
		out,
		hub,
		a.Clock,
		logger,
	)
	if err != nil {
		return crawler.Summary{}, err
	}
	return engine.Run(ctx)
}

func (a *App) sinksFor(logger *zap.Logger, extra []progress.Sink) []progress.Sink {
	out := []progress.Sink{sinks.NewLogSink(logger)}
	if a.Metrics != nil {
		out = append(out, a.Metrics)
	}
	if a.Recorder != nil {
		out = append(out, a.Recorder)
	}
	if a.Runs != nil {
		out = append(out, sinks.NewStoreSink(a.Runs, logger))
	}
	return append(out, extra...)
}

func (a *App) archive(ctx context.Context, hub *progress.Hub, logger *zap.Logger, run *store.Run, root string) {
	if a.Archiver == nil {
		return
	}
	result, err := a.Archiver.Archive(ctx, run.ID, root)
	if err != nil {
		logger.Warn("archive failed", zap.Error(err))
		a.emit(hub, run.ID, progress.SeverityWarning, fmt.Sprintf("archive upload failed: %v", err))
		return
	}
	if result.URI == "" {
		return
	}
	run.ArchiveURI = result.URI
	a.emit(hub, run.ID, progress.SeveritySuccess,
		fmt.Sprintf("archived %d files (%d bytes) to %s", result.Objects, result.Bytes, result.URI))
}

func (a *App) notify(ctx context.Context, hub *progress.Hub, logger *zap.Logger, run store.Run) {
	if a.Publisher == nil {
		return
	}
	id, err := a.Publisher.Publish(ctx, a.Topic, run)
	if err != nil {
		logger.Warn("run notification failed", zap.Error(err))
		a.emit(hub, run.ID, progress.SeverityWarning, fmt.Sprintf("run notification failed: %v", err))
		return
	}
	logger.Debug("run notification published", zap.String("message_id", id))
}

func (a *App) emit(hub *progress.Hub, runID uuid.UUID, severity progress.Severity, message string) {
	hub.Emit(progress.Event{
		RunID:    progress.UUIDToBytes(runID),
		TS:       a.Clock.Now().UTC(),
		Severity: severity,
		Message:  message,
	})
}

func (a *App) save(ctx context.Context, logger *zap.Logger, run store.Run) {
	if err := a.Runs.SaveRun(ctx, run); err != nil {
		logger.Warn("failed to save run", zap.String("status", string(run.Status)), zap.Error(err))
	}
}
