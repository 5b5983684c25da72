package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagemirror/internal/metrics"
)

// downloadFunc fetches one reference.
type downloadFunc func(ctx context.Context, ref ResourceRef) Outcome

// Pool runs one page's downloads on a fixed number of goroutines.
type Pool struct {
	workers  int
	download downloadFunc
	logger   *zap.Logger
}

// NewPool returns a Pool with the given worker count (minimum 1).
func NewPool(workers int, download downloadFunc, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{workers: workers, download: download, logger: logger}
}

// Run downloads every ref and blocks until all have finished. Outcomes are
// index-aligned with refs. A panicking download fails only its own entry.
func (p *Pool) Run(ctx context.Context, refs []ResourceRef) []Outcome {
	outcomes := make([]Outcome, len(refs))
	if len(refs) == 0 {
		return outcomes
	}
	start := time.Now()

	jobs := make(chan int)
	workers := min(p.workers, len(refs))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				outcomes[idx] = p.safeDownload(ctx, refs[idx])
			}
		}()
	}
	for i := range refs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	metrics.ObserveBatch(time.Since(start))
	return outcomes
}

func (p *Pool) safeDownload(ctx context.Context, ref ResourceRef) (out Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("resource download panicked", zap.String("url", ref.URL), zap.Any("panic", rec))
			out = Outcome{Status: OutcomeFailed, Err: fmt.Errorf("%w: panic: %v", ErrNotFetched, rec)}
		}
	}()
	return p.download(ctx, ref)
}
