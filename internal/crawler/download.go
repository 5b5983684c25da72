package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/pagemirror/internal/metrics"
)

// Downloader fetches single resources into the output tree. Each
// (subfolder, URL) pair is attempted at most once per run; later requests for
// the same pair, including concurrent ones, share the first outcome.
type Downloader struct {
	cfg        Config
	store      OutputStore
	namer      *Namer
	filter     Filter
	fetcher    ResourceFetcher
	transcoder Transcoder
	report     *reporter
	stats      *runStats
	logger     *zap.Logger

	group     singleflight.Group
	mu        sync.Mutex
	attempted map[string]Outcome
}

func newDownloader(
	cfg Config,
	store OutputStore,
	namer *Namer,
	fetcher ResourceFetcher,
	transcoder Transcoder,
	report *reporter,
	stats *runStats,
	logger *zap.Logger,
) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		cfg:        cfg,
		store:      store,
		namer:      namer,
		filter:     NewFilter(cfg),
		fetcher:    fetcher,
		transcoder: transcoder,
		report:     report,
		stats:      stats,
		logger:     logger,
		attempted:  make(map[string]Outcome),
	}
}

// Download applies the classification filter and fetches ref.
func (d *Downloader) Download(ctx context.Context, ref ResourceRef) Outcome {
	return d.download(ctx, ref, true)
}

// DownloadUnfiltered fetches ref without consulting the allow flags.
func (d *Downloader) DownloadUnfiltered(ctx context.Context, ref ResourceRef) Outcome {
	return d.download(ctx, ref, false)
}

func (d *Downloader) download(ctx context.Context, ref ResourceRef, applyFilter bool) Outcome {
	category := ref.Category
	if category == "" {
		category = Classify(ref.URL)
	}
	if applyFilter && !d.filter.Allows(category) {
		d.stats.resourcesFiltered.Add(1)
		metrics.ObserveResource(string(category), string(OutcomeFiltered), 0)
		return Outcome{Status: OutcomeFiltered, Err: ErrFiltered}
	}

	key := ref.Subfolder + "\x00" + ref.URL
	if out, ok := d.remembered(key); ok {
		return out
	}
	v, _, _ := d.group.Do(key, func() (any, error) {
		if out, ok := d.remembered(key); ok {
			return out, nil
		}
		out := d.fetch(ctx, ref.URL, category, ref.Subfolder)
		d.remember(key, out)
		return out, nil
	})
	out, _ := v.(Outcome)
	return out
}

func (d *Downloader) remembered(key string) (Outcome, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, ok := d.attempted[key]
	return out, ok
}

func (d *Downloader) remember(key string, out Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempted[key] = out
}

func (d *Downloader) fetch(ctx context.Context, rawURL string, category Category, subfolder string) Outcome {
	name := d.namer.NameFor(rawURL)
	rel := path.Join(subfolder, name)
	convertedRel := ""
	if category == CategoryImage && d.cfg.ConvertImages && d.transcoder != nil {
		convertedRel = path.Join(subfolder, replaceExt(name, d.cfg.TargetFormat.Ext()))
	}

	if d.cfg.Dedup == DedupPresence {
		for _, candidate := range []string{convertedRel, rel} {
			if candidate != "" && d.store.Exists(candidate) {
				d.stats.resourcesExisting.Add(1)
				metrics.ObserveResource(string(category), string(OutcomeExisting), 0)
				d.logger.Debug("resource already present", zap.String("url", rawURL), zap.String("path", candidate))
				return Outcome{Path: candidate, Status: OutcomeExisting}
			}
		}
	}

	d.report.info(fmt.Sprintf("downloading %s", name), rawURL, 0)
	body, err := d.fetcher.Open(ctx, FetchRequest{URL: rawURL, Referer: d.cfg.StartURL})
	if err != nil {
		return d.failed(rawURL, category, err)
	}
	defer func() {
		if cerr := body.Close(); cerr != nil {
			d.logger.Debug("close resource body", zap.String("url", rawURL), zap.Error(cerr))
		}
	}()

	var (
		written  int64
		finalRel = rel
	)
	if convertedRel != "" {
		written, finalRel, err = d.writeTranscoded(ctx, body, rawURL, rel, convertedRel)
	} else {
		written, err = d.store.Put(ctx, rel, body, d.cfg.ChunkSize)
	}
	if err != nil {
		return d.failed(rawURL, category, err)
	}

	d.stats.resourcesFetched.Add(1)
	d.stats.bytes.Add(written)
	metrics.ObserveResource(string(category), string(OutcomeFetched), written)
	d.report.success(fmt.Sprintf("saved %s", finalRel), rawURL, written)
	return Outcome{Path: finalRel, Status: OutcomeFetched, Bytes: written}
}

// writeTranscoded buffers the image, re-encodes it and stores it under the
// target extension. When re-encoding fails the original bytes are kept
// under the original name.
func (d *Downloader) writeTranscoded(
	ctx context.Context,
	body io.Reader,
	rawURL string,
	rel string,
	convertedRel string,
) (int64, string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, "", fmt.Errorf("read image body: %w", err)
	}
	converted, terr := d.transcoder.Transcode(data, d.cfg.TargetFormat)
	if terr == nil {
		n, err := d.store.Put(ctx, convertedRel, bytes.NewReader(converted), d.cfg.ChunkSize)
		return n, convertedRel, err
	}

	metrics.ObserveTranscodeFailure()
	d.report.warn(fmt.Sprintf("image conversion failed, keeping original %s: %v", path.Base(rel), terr), rawURL)
	n, err := d.store.Put(ctx, rel, bytes.NewReader(data), d.cfg.ChunkSize)
	return n, rel, err
}

func (d *Downloader) failed(rawURL string, category Category, err error) Outcome {
	d.stats.resourcesFailed.Add(1)
	metrics.ObserveResource(string(category), string(OutcomeFailed), 0)
	d.report.warn(fmt.Sprintf("download failed (%s): %s", describeFetchError(err), rawURL), rawURL)
	d.logger.Debug("resource download failed", zap.String("url", rawURL), zap.Error(err))
	return Outcome{Status: OutcomeFailed, Err: fmt.Errorf("%w: %w", ErrNotFetched, err)}
}

func describeFetchError(err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("HTTP %d", statusErr.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return "write error"
	}
	return "connection error"
}

func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, path.Ext(name)) + ext
}
