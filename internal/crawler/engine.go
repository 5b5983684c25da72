package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/clock/system"
	"github.com/JakeFAU/pagemirror/internal/metrics"
	"github.com/JakeFAU/pagemirror/internal/progress"
)

// Engine mirrors one start URL. It is single-use: build a new Engine per run.
type Engine struct {
	cfg        Config
	runID      uuid.UUID
	pages      PageFetcher
	store      OutputStore
	namer      *Namer
	downloader *Downloader
	pool       *Pool
	rewriter   *Rewriter
	report     *reporter
	stats      *runStats
	clock      Clock
	logger     *zap.Logger
	origin     string

	// visited is only touched by the goroutine executing Run.
	visited map[string]struct{}
	started atomic.Bool
}

type workItem struct {
	url   string
	depth int
}

// NewEngine validates cfg and wires the run's collaborators. transcoder may
// be nil unless cfg.ConvertImages is set; emitter, clock and logger are optional.
func NewEngine(
	cfg Config,
	runID uuid.UUID,
	pages PageFetcher,
	resources ResourceFetcher,
	transcoder Transcoder,
	store OutputStore,
	emitter progress.Emitter,
	clock Clock,
	logger *zap.Logger,
) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if pages == nil || resources == nil {
		return nil, errors.New("page and resource fetchers are required")
	}
	if store == nil {
		return nil, errors.New("output store is required")
	}
	if cfg.ConvertImages && transcoder == nil {
		return nil, errors.New("image conversion requested without a transcoder")
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	start, err := url.Parse(cfg.StartURL)
	if err != nil {
		return nil, fmt.Errorf("parse start url: %w", err)
	}

	logger = logger.With(zap.String("run_id", runID.String()))
	report := &reporter{emitter: emitter, runID: progress.UUIDToBytes(runID), clock: clock}
	stats := &runStats{}
	namer := NewNamer(clock)
	downloader := newDownloader(cfg, store, namer, resources, transcoder, report, stats, logger)

	return &Engine{
		cfg:        cfg,
		runID:      runID,
		pages:      pages,
		store:      store,
		namer:      namer,
		downloader: downloader,
		pool:       NewPool(cfg.Workers, downloader.Download, logger),
		rewriter: &Rewriter{
			cfg:        cfg,
			store:      store,
			namer:      namer,
			downloader: downloader,
			report:     report,
			logger:     logger,
		},
		report:  report,
		stats:   stats,
		clock:   clock,
		logger:  logger,
		origin:  originKey(start),
		visited: make(map[string]struct{}),
	}, nil
}

// Run walks the site depth-first from the start URL. Page and resource
// failures are logged and skipped; the returned error is non-nil only when
// ctx ends the run early or the engine was already used.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if !e.started.CompareAndSwap(false, true) {
		return Summary{}, errors.New("engine already ran")
	}
	summary := Summary{
		RunID:     e.runID.String(),
		StartURL:  e.cfg.StartURL,
		OutputDir: e.store.Root(),
		Mode:      e.cfg.Mode,
		StartedAt: e.clock.Now(),
	}
	e.report.info(
		fmt.Sprintf("mirroring %s into %s (depth %d, mode %s)", e.cfg.StartURL, e.store.Root(), e.cfg.MaxDepth, e.cfg.Mode),
		e.cfg.StartURL,
		0,
	)

	var runErr error
	work := []workItem{{url: canonicalPageURL(e.cfg.StartURL), depth: 0}}
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("mirror canceled: %w", err)
			break
		}
		item := work[len(work)-1]
		work = work[:len(work)-1]

		links := e.processPage(ctx, item)
		// Pushed in reverse so the first link is processed next.
		for i := len(links) - 1; i >= 0; i-- {
			if _, seen := e.visited[links[i]]; seen {
				continue
			}
			work = append(work, workItem{url: links[i], depth: item.depth + 1})
		}
	}

	e.stats.fill(&summary)
	summary.FinishedAt = e.clock.Now()
	if runErr != nil {
		summary.Canceled = true
		e.report.warn(fmt.Sprintf("mirror canceled after %d pages", summary.PagesVisited), e.cfg.StartURL)
		return summary, runErr
	}
	e.report.success(fmt.Sprintf(
		"mirror finished: %d pages saved, %d failed; %d resources downloaded, %d already present, %d failed",
		summary.PagesSaved, summary.PagesFailed,
		summary.ResourcesFetched, summary.ResourcesExisting, summary.ResourcesFailed,
	), e.cfg.StartURL, summary.Bytes)
	return summary, nil
}

// processPage handles one work item and returns the same-origin links to
// enqueue at depth+1.
func (e *Engine) processPage(ctx context.Context, item workItem) []string {
	if item.depth > e.cfg.MaxDepth {
		return nil
	}
	if _, seen := e.visited[item.url]; seen {
		return nil
	}
	e.visited[item.url] = struct{}{}
	e.stats.pagesVisited.Add(1)
	e.report.info(fmt.Sprintf("analyzing page [depth %d]: %s", item.depth, item.url), item.url, item.depth)

	resp, err := e.pages.Fetch(ctx, FetchRequest{URL: item.url, Referer: e.cfg.StartURL})
	if err != nil {
		e.pageFailed(item, progress.SeverityError, fmt.Sprintf("page fetch failed: %v", err))
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e.pageFailed(item, progress.SeverityWarning, fmt.Sprintf("page returned HTTP %d: %s", resp.StatusCode, item.url))
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		e.pageFailed(item, progress.SeverityError, fmt.Sprintf("page parse failed: %v", err))
		return nil
	}
	base := e.baseURL(item.url, resp.URL)

	refs := collectRefs(doc, base, e.cfg.Mode)
	outcomes := e.pool.Run(ctx, refs)

	if e.cfg.Mode == ModeFull {
		applyOutcomes(refs, outcomes)
		e.savePage(ctx, item, doc, base)
	} else {
		metrics.ObservePage(item.url, "scanned")
	}

	if item.depth >= e.cfg.MaxDepth {
		return nil
	}
	return collectLinks(doc, base, e.origin)
}

func (e *Engine) savePage(ctx context.Context, item workItem, doc *goquery.Document, base *url.URL) {
	markup, err := renderDocument(doc)
	if err != nil {
		e.pageFailed(item, progress.SeverityError, fmt.Sprintf("page render failed: %v", err))
		return
	}
	markup = e.rewriter.PostProcess(ctx, markup, base.String())

	name := e.namer.PageName(item.url)
	if _, err := e.store.Put(ctx, name, strings.NewReader(markup), e.cfg.ChunkSize); err != nil {
		e.pageFailed(item, progress.SeverityError, fmt.Sprintf("page save failed: %v", err))
		return
	}
	e.stats.pagesSaved.Add(1)
	metrics.ObservePage(item.url, "saved")
	e.report.success(fmt.Sprintf("saved page %s", name), item.url, int64(len(markup)))
}

func (e *Engine) pageFailed(item workItem, severity progress.Severity, message string) {
	e.stats.pagesFailed.Add(1)
	metrics.ObservePage(item.url, "failed")
	e.report.emit(severity, message, item.url, item.depth, 0)
	e.logger.Debug("page failed", zap.String("url", item.url), zap.Int("depth", item.depth), zap.String("reason", message))
}

// baseURL prefers the post-redirect URL for resolving relative references.
func (e *Engine) baseURL(requested, final string) *url.URL {
	if final != "" {
		if u, err := url.Parse(final); err == nil && u.Host != "" {
			return u
		}
	}
	u, err := url.Parse(requested)
	if err != nil {
		return &url.URL{}
	}
	return u
}
