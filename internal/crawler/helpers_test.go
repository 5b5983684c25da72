package crawler

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/pagemirror/internal/progress"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{files: make(map[string][]byte)}
}

func (s *fakeStore) Root() string { return "/mirror" }

func (s *fakeStore) Exists(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.files[rel]
	return ok
}

func (s *fakeStore) Put(ctx context.Context, rel string, r io.Reader, _ int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[rel] = data
	return int64(len(data)), nil
}

func (s *fakeStore) file(rel string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[rel]
	return string(data), ok
}

func (s *fakeStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	return out
}

type fakeResources struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
	delay  time.Duration
}

func newFakeResources(bodies map[string]string) *fakeResources {
	return &fakeResources{bodies: maps.Clone(bodies), errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeResources) Open(ctx context.Context, req FetchRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls[req.URL]++
	body, ok := f.bodies[req.URL]
	err := f.errs[req.URL]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &StatusError{URL: req.URL, Code: 404}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeResources) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeResources) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakePages struct {
	mu     sync.Mutex
	pages  map[string]string
	status map[string]int
	order  []string
}

func newFakePages(pages map[string]string) *fakePages {
	return &fakePages{pages: maps.Clone(pages), status: map[string]int{}}
}

func (f *fakePages) Fetch(_ context.Context, req FetchRequest) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, req.URL)
	if code, ok := f.status[req.URL]; ok {
		return FetchResponse{URL: req.URL, StatusCode: code}, nil
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return FetchResponse{}, fmt.Errorf("dial %s: connection refused", req.URL)
	}
	return FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakePages) visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

type fakeTranscoder struct{ fail bool }

func (t fakeTranscoder) Transcode(_ []byte, format ImageFormat) ([]byte, error) {
	if t.fail {
		return nil, fmt.Errorf("decode image: unknown format")
	}
	return []byte("converted:" + string(format)), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) messages(severity progress.Severity) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if evt.Severity == severity {
			out = append(out, evt.Message)
		}
	}
	return out
}

func (r *recordingEmitter) contains(severity progress.Severity, substr string) bool {
	for _, msg := range r.messages(severity) {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func testConfig(mutate func(*Config)) Config {
	cfg := Config{
		StartURL:    "https://site.test/index.html",
		OutputDir:   "/mirror",
		MaxDepth:    1,
		Mode:        ModeFull,
		AllowImages: true,
		AllowVideos: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return cfg.WithDefaults()
}

type downloaderFixture struct {
	downloader *Downloader
	store      *fakeStore
	resources  *fakeResources
	emitter    *recordingEmitter
	stats      *runStats
	namer      *Namer
}

func newDownloaderFixture(cfg Config, bodies map[string]string, transcoder Transcoder) downloaderFixture {
	store := newFakeStore()
	resources := newFakeResources(bodies)
	emitter := &recordingEmitter{}
	stats := &runStats{}
	clock := fixedClock{t: testNow}
	namer := NewNamer(clock)
	report := &reporter{emitter: emitter, runID: [16]byte{1}, clock: clock}
	return downloaderFixture{
		downloader: newDownloader(cfg, store, namer, resources, transcoder, report, stats, nil),
		store:      store,
		resources:  resources,
		emitter:    emitter,
		stats:      stats,
		namer:      namer,
	}
}
