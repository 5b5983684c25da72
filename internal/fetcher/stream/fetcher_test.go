package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagemirror/internal/crawler"
)

func TestOpenStreamsBodyWithHeaders(t *testing.T) {
	t.Parallel()

	var gotReferer, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	body, err := f.Open(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/clip.mp4",
		Referer: "https://example.com/",
	})
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, body.Close())
	require.NoError(t, body.Close())

	require.Equal(t, "video-bytes", string(data))
	require.Equal(t, "https://example.com/", gotReferer)
	require.Contains(t, gotUA, "Mozilla/5.0")
}

func TestOpenReportsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Config{}).Open(context.Background(), crawler.FetchRequest{URL: srv.URL + "/missing.png"})
	var statusErr *crawler.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestOpenTimesOutOnStalledBody(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	body, err := New(Config{Timeout: 100 * time.Millisecond}).Open(
		context.Background(),
		crawler.FetchRequest{URL: srv.URL + "/big.mkv"},
	)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	_, err = io.ReadAll(body)
	var timeoutErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &timeoutErr))
	require.True(t, timeoutErr.Timeout())
}

func TestOpenHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}).Open(ctx, crawler.FetchRequest{URL: "http://127.0.0.1:1/x.png"})
	require.Error(t, err)
}

type recordingLimiter struct {
	urls []string
	err  error
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.urls = append(l.urls, rawURL)
	return l.err
}

func TestOpenWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(srv.Close)

	limiter := &recordingLimiter{}
	body, err := New(Config{Limiter: limiter}).Open(context.Background(), crawler.FetchRequest{URL: srv.URL + "/a.css"})
	require.NoError(t, err)
	require.NoError(t, body.Close())
	require.Equal(t, []string{srv.URL + "/a.css"}, limiter.urls)

	limiter.err = context.DeadlineExceeded
	_, err = New(Config{Limiter: limiter}).Open(context.Background(), crawler.FetchRequest{URL: srv.URL + "/b.css"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, hits)
}
