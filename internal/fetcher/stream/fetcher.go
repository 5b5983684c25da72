// Package stream opens resource downloads as streaming bodies so large media
// never has to fit in memory.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/pagemirror/internal/crawler"
	"github.com/JakeFAU/pagemirror/internal/fetcher"
)

const drainLimit = 4 << 10

// idleTimeoutError reports a body that stopped delivering data.
type idleTimeoutError struct {
	timeout time.Duration
}

func (e idleTimeoutError) Error() string {
	return fmt.Sprintf("no data received for %s", e.timeout)
}

// Timeout marks the error as a timeout for net.Error style checks.
func (idleTimeoutError) Timeout() bool { return true }

// Config controls resource requests.
type Config struct {
	// Timeout bounds connecting, waiting for response headers and every
	// stall between body reads.
	Timeout   time.Duration
	Transport http.RoundTripper
	// Limiter, when set, is waited on before every request.
	Limiter fetcher.Limiter
}

// Fetcher implements crawler.ResourceFetcher over net/http.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
	limiter fetcher.Limiter
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = fetcher.NewTransport(timeout)
	}
	return &Fetcher{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		limiter: cfg.Limiter,
	}
}

// Open issues a GET and returns the body for a 2xx response. Other statuses
// yield *crawler.StatusError.
func (f *Fetcher) Open(ctx context.Context, request crawler.FetchRequest) (io.ReadCloser, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return nil, err
		}
	}
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, request.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", fetcher.RandomUserAgent())
	if request.Referer != "" {
		req.Header.Set("Referer", request.Referer)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.CopyN(io.Discard, resp.Body, drainLimit)
		_ = resp.Body.Close()
		cancel()
		return nil, &crawler.StatusError{URL: request.URL, Code: resp.StatusCode}
	}
	body := &idleTimeoutBody{body: resp.Body, timeout: f.timeout, cancel: cancel}
	body.timer = time.AfterFunc(f.timeout, body.expire)
	return body, nil
}

// idleTimeoutBody cancels the request when no read completes within timeout.
type idleTimeoutBody struct {
	body    io.ReadCloser
	timer   *time.Timer
	timeout time.Duration
	cancel  context.CancelFunc
	expired atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

func (b *idleTimeoutBody) expire() {
	b.expired.Store(true)
	b.cancel()
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && b.expired.Load() {
		return n, idleTimeoutError{timeout: b.timeout}
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.closeOnce.Do(func() {
		b.timer.Stop()
		b.closeErr = b.body.Close()
		b.cancel()
	})
	return b.closeErr
}
