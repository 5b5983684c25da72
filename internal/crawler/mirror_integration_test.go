package crawler_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/pagemirror/internal/clock/system"
	"github.com/JakeFAU/pagemirror/internal/crawler"
	collyfetcher "github.com/JakeFAU/pagemirror/internal/fetcher/colly"
	"github.com/JakeFAU/pagemirror/internal/fetcher/stream"
	"github.com/JakeFAU/pagemirror/internal/progress"
	"github.com/JakeFAU/pagemirror/internal/storage/local"
	"github.com/JakeFAU/pagemirror/internal/transcode"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	logo := testPNG(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
<script src="/static/app.js"></script>
<link rel="stylesheet" href="/static/site.css">
<style>body { background: url("/static/bg.gif"); }</style>
</head><body>
<img src="/static/logo.png"><img src="/static/missing.png">
<a href="/about.html">about</a><a href="https://elsewhere.test/">away</a>
</body></html>`))
	})
	mux.HandleFunc("/about.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><img src="/static/logo.png"><a href="/deeper.html">d</a></body></html>`))
	})
	mux.HandleFunc("/deeper.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body>deep</body></html>`))
	})
	mux.HandleFunc("/static/logo.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(logo)
	})
	mux.HandleFunc("/static/bg.gif", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("GIF89a"))
	})
	mux.HandleFunc("/static/app.js", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("console.log('mirror')"))
	})
	mux.HandleFunc("/static/site.css", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("body{margin:0}"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestMirrorEndToEnd(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	out := t.TempDir()

	cfg, err := crawler.Options{
		URL:          srv.URL + "/index.html",
		OutputDir:    out,
		Depth:        1,
		FilterImage:  true,
		ConvertImage: true,
		TargetFormat: "JPG",
		Workers:      3,
	}.Resolve(out, time.Now())
	require.NoError(t, err)

	store, err := local.New(local.Config{BaseDir: cfg.OutputDir})
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []progress.Event
	)
	emitter := emitFunc(func(evt progress.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})

	engine, err := crawler.NewEngine(
		cfg,
		uuid.New(),
		collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second, MaxBodySize: cfg.MaxPageBytes}),
		stream.New(stream.Config{Timeout: 5 * time.Second}),
		transcode.New(0),
		store,
		emitter,
		system.New(),
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)

	summary, err := engine.Run(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.PagesVisited)
	assert.EqualValues(t, 2, summary.PagesSaved)
	assert.EqualValues(t, 1, summary.ResourcesFailed)

	index, err := os.ReadFile(filepath.Join(out, "index.html"))
	require.NoError(t, err)
	page := string(index)
	assert.Contains(t, page, `src="images/logo.jpg"`)
	assert.Contains(t, page, `src="js/app.js"`)
	assert.Contains(t, page, `href="css/site.css"`)
	assert.Contains(t, page, `url(images/bg.gif)`)
	assert.Contains(t, page, `/static/missing.png"`)

	logo, err := os.ReadFile(filepath.Join(out, "images", "logo.jpg"))
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(logo))
	require.NoError(t, err, "converted image must be a jpeg")

	_, err = os.Stat(filepath.Join(out, "about.html"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "deeper.html"))
	assert.True(t, os.IsNotExist(err), "depth limit must stop the crawl")

	var warned bool
	for _, evt := range events {
		if evt.Severity == progress.SeverityWarning && strings.Contains(evt.Message, "HTTP 404") {
			warned = true
		}
	}
	assert.True(t, warned, "missing resource must be reported")
}

type emitFunc func(progress.Event)

func (f emitFunc) Emit(evt progress.Event) { f(evt) }
