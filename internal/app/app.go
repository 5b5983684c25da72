// Package app initializes and holds long-lived application services and runs
// mirrors against them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pagemirror/internal/clock/system"
	"github.com/JakeFAU/pagemirror/internal/config"
	"github.com/JakeFAU/pagemirror/internal/crawler"
	idgen "github.com/JakeFAU/pagemirror/internal/id/uuid"
	"github.com/JakeFAU/pagemirror/internal/metrics"
	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/progress/sinks"
	"github.com/JakeFAU/pagemirror/internal/publisher/pubsub"
	"github.com/JakeFAU/pagemirror/internal/storage"
	"github.com/JakeFAU/pagemirror/internal/storage/gcs"
	"github.com/JakeFAU/pagemirror/internal/storage/memory"
	"github.com/JakeFAU/pagemirror/internal/storage/postgres"
	"github.com/JakeFAU/pagemirror/internal/store"
)

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists run history and run log events.
type RunStore interface {
	store.RunRepository
	sinks.EventRepository
}

// App holds the shared services for the crawl command and the HTTP service.
// It is initialized once at startup; fields may be replaced before the first
// run, which is how tests inject fakes.
type App struct {
	Logger    *zap.Logger
	Config    config.Config
	Runs      RunStore
	Archiver  storage.Archiver
	Publisher Publisher
	// Topic overrides the publisher's default topic.
	Topic    string
	Recorder *sinks.Recorder
	Metrics  progress.Sink
	Clock    crawler.Clock
	// Transport is shared by the page and resource fetchers. Nil builds one
	// per run from the request timeout.
	Transport http.RoundTripper
	// WorkDir anchors relative output directories.
	WorkDir string

	ids     *idgen.Generator
	slots   *semaphore.Weighted
	closers []func() error

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
	pubsubOpts []option.ClientOption
	gcsOpts    []option.ClientOption
}

// WithRegisterer registers the log metrics against reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithGCSOptions passes client options to the Cloud Storage client.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.gcsOpts = append(o.gcsOpts, opts...) }
}

// NewApp builds the services selected by cfg. Run history uses Postgres when
// db.dsn is set and memory otherwise; archiving and notifications are only
// enabled when their bucket or topic is configured. It fails fast if any
// configured service cannot be reached.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	a := newBase(cfg, logger)
	a.WorkDir = wd

	if cfg.DB.DSN != "" {
		logger.Info("connecting to postgres run history")
		pg, err := postgres.NewRunStore(ctx, postgres.Config{DSN: cfg.DB.DSN, MaxConns: int32(cfg.DB.MaxConns)})
		if err != nil {
			return nil, fmt.Errorf("init run history: %w", err)
		}
		a.addCloser(func() error { pg.Close(); return nil })
		if err := pg.EnsureSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("init run history schema: %w", err)
		}
		a.Runs = pg
	} else {
		logger.Info("using in-memory run history")
	}

	if cfg.Archive.GCSBucket != "" {
		gcsCfg := gcs.Config{Bucket: cfg.Archive.GCSBucket, CredentialsFile: cfg.Archive.CredentialsFile}
		client, err := gcs.NewClient(ctx, gcsCfg, o.gcsOpts...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		blobs, err := gcs.New(client, gcsCfg)
		if err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("init archive: %w", err)
		}
		a.addCloser(blobs.Close)
		a.Archiver = storage.TreeArchiver{Writer: blobs, Prefix: cfg.Archive.Prefix}
		logger.Info("archiving runs to cloud storage", zap.String("bucket", cfg.Archive.GCSBucket))
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := pubsub.Dial(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName, o.pubsubOpts...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init notifications: %w", err)
		}
		a.addCloser(pub.Close)
		a.Publisher = pub
		logger.Info("publishing run notifications", zap.String("topic", cfg.PubSub.TopicName))
	}

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init log metrics: %w", err)
	}
	a.Metrics = promSink

	logger.Info("application services initialized")
	return a, nil
}

func newBase(cfg config.Config, logger *zap.Logger) *App {
	maxRuns := cfg.Server.MaxConcurrentRuns
	if maxRuns <= 0 {
		maxRuns = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &App{
		Logger:   logger,
		Config:   cfg,
		Runs:     memory.NewRunStore(),
		Archiver: storage.NoOpArchiver{},
		Recorder: sinks.NewRecorder(cfg.Progress.RecorderLimit),
		Clock:    system.New(),
		ids:      idgen.New(),
		slots:    semaphore.NewWeighted(int64(maxRuns)),
		baseCtx:  ctx,
		stop:     stop,
		cancels:  make(map[uuid.UUID]context.CancelFunc),
	}
}

func (a *App) addCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close cancels background runs, waits for them to finish and releases the
// services in reverse order of creation.
func (a *App) Close() {
	a.Logger.Info("shutting down application services")
	a.stop()
	a.wg.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

// Submit validates opts, records a queued run and executes it in the
// background. The returned run reflects the queued state.
func (a *App) Submit(ctx context.Context, opts crawler.Options) (store.Run, error) {
	run, cfg, err := a.Prepare(ctx, opts)
	if err != nil {
		return store.Run{}, err
	}
	runCtx, cancel := context.WithCancel(a.baseCtx)
	a.mu.Lock()
	a.cancels[run.ID] = cancel
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.cancels, run.ID)
			a.mu.Unlock()
			cancel()
		}()
		if _, err := a.Execute(runCtx, run, cfg); err != nil {
			a.Logger.Warn("background run ended with error", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}()
	return run, nil
}

// Cancel stops a background run. It reports false when the run is not active.
func (a *App) Cancel(id uuid.UUID) bool {
	a.mu.Lock()
	cancel, ok := a.cancels[id]
	a.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ErrInvalidOptions wraps option validation failures so callers can map them
// to a client error.
var ErrInvalidOptions = errors.New("invalid crawl options")

// Prepare resolves opts into a run configuration and stores the queued run.
func (a *App) Prepare(ctx context.Context, opts crawler.Options) (store.Run, crawler.Config, error) {
	now := a.Clock.Now().UTC()
	cfg, err := opts.Resolve(a.WorkDir, now)
	if err != nil {
		return store.Run{}, crawler.Config{}, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	id, err := a.ids.NewRunID()
	if err != nil {
		return store.Run{}, crawler.Config{}, err
	}
	run := store.Run{
		ID:        id,
		StartURL:  cfg.StartURL,
		OutputDir: cfg.OutputDir,
		Status:    store.RunQueued,
		CreatedAt: now,
	}
	if err := a.Runs.SaveRun(ctx, run); err != nil {
		return store.Run{}, crawler.Config{}, fmt.Errorf("save run: %w", err)
	}
	return run, cfg, nil
}

// Mirror prepares and executes one run in the foreground.
func (a *App) Mirror(ctx context.Context, opts crawler.Options, extra ...progress.Sink) (store.Run, error) {
	run, cfg, err := a.Prepare(ctx, opts)
	if err != nil {
		return store.Run{}, err
	}
	return a.Execute(ctx, run, cfg, extra...)
}

func (a *App) now() *time.Time {
	t := a.Clock.Now().UTC()
	return &t
}
