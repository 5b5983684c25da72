// Package metrics exposes Prometheus collectors for mirror runs and the HTTP API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mirrorPagesTotal           *prometheus.CounterVec
	mirrorResourcesTotal       *prometheus.CounterVec
	mirrorBytesTotal           *prometheus.CounterVec
	mirrorTranscodeFailures    prometheus.Counter
	mirrorRunsTotal            *prometheus.CounterVec
	mirrorActiveRuns           prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	mirrorBatchDurationSeconds prometheus.Histogram
	rateLimitDelaySeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mirrorPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemirror_pages_total",
				Help: "Pages processed, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		mirrorResourcesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemirror_resources_total",
				Help: "Resource download outcomes, labeled by category and result.",
			},
			[]string{"category", "result"},
		)

		mirrorBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemirror_bytes_total",
				Help: "Bytes written to disk, labeled by category.",
			},
			[]string{"category"},
		)

		mirrorTranscodeFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pagemirror_transcode_failures_total",
				Help: "Images that could not be re-encoded and were saved as fetched.",
			},
		)

		mirrorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagemirror_runs_total",
				Help: "Completed runs, labeled by status.",
			},
			[]string{"status"},
		)

		mirrorActiveRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagemirror_active_runs",
				Help: "Number of runs currently in progress.",
			},
		)

		mirrorBatchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagemirror_page_batch_duration_seconds",
				Help:    "Time to download one page's resource batch.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pagemirror_rate_limit_delay_seconds",
				Help:    "Time requests spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one processed page.
func ObservePage(pageURL string, status string) {
	Init()
	mirrorPagesTotal.WithLabelValues(SanitizeSite(pageURL), status).Inc()
}

// ObserveResource counts one resource outcome and the bytes it wrote.
func ObserveResource(category string, result string, bytesWritten int64) {
	Init()
	mirrorResourcesTotal.WithLabelValues(category, result).Inc()
	if bytesWritten > 0 {
		mirrorBytesTotal.WithLabelValues(category).Add(float64(bytesWritten))
	}
}

// ObserveTranscodeFailure counts an image saved without re-encoding.
func ObserveTranscodeFailure() {
	Init()
	mirrorTranscodeFailures.Inc()
}

// ObserveBatch records how long one page's resource batch took.
func ObserveBatch(duration time.Duration) {
	Init()
	mirrorBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent waiting for a rate limit token.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}

// RunStarted increments the active runs gauge.
func RunStarted() {
	Init()
	mirrorActiveRuns.Inc()
}

// RunFinished decrements the active runs gauge and counts the run by status.
func RunFinished(status string) {
	Init()
	mirrorActiveRuns.Dec()
	mirrorRunsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
