package crawler

import (
	"sync/atomic"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

// reporter stamps run messages and hands them to the emitter.
type reporter struct {
	emitter progress.Emitter
	runID   [16]byte
	clock   Clock
}

func (r *reporter) emit(severity progress.Severity, message, url string, depth int, bytes int64) {
	if r == nil || r.emitter == nil {
		return
	}
	r.emitter.Emit(progress.Event{
		RunID:    r.runID,
		TS:       r.clock.Now(),
		Severity: severity,
		Message:  message,
		URL:      url,
		Depth:    depth,
		Bytes:    bytes,
	})
}

func (r *reporter) info(message, url string, depth int) {
	r.emit(progress.SeverityInfo, message, url, depth, 0)
}

func (r *reporter) success(message, url string, bytes int64) {
	r.emit(progress.SeveritySuccess, message, url, 0, bytes)
}

func (r *reporter) warn(message, url string) {
	r.emit(progress.SeverityWarning, message, url, 0, 0)
}

func (r *reporter) fail(message, url string, depth int) {
	r.emit(progress.SeverityError, message, url, depth, 0)
}

// runStats is updated from pool workers and read once the run ends.
type runStats struct {
	pagesVisited      atomic.Int64
	pagesSaved        atomic.Int64
	pagesFailed       atomic.Int64
	resourcesFetched  atomic.Int64
	resourcesExisting atomic.Int64
	resourcesFiltered atomic.Int64
	resourcesFailed   atomic.Int64
	bytes             atomic.Int64
}

func (s *runStats) fill(summary *Summary) {
	summary.PagesVisited = s.pagesVisited.Load()
	summary.PagesSaved = s.pagesSaved.Load()
	summary.PagesFailed = s.pagesFailed.Load()
	summary.ResourcesFetched = s.resourcesFetched.Load()
	summary.ResourcesExisting = s.resourcesExisting.Load()
	summary.ResourcesFiltered = s.resourcesFiltered.Load()
	summary.ResourcesFailed = s.resourcesFailed.Load()
	summary.Bytes = s.bytes.Load()
}
