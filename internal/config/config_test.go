package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/JakeFAU/pagemirror/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawl.Workers != 6 || cfg.Crawl.ChunkSize != 8192 {
		t.Fatalf("expected default workers/chunk size, got %+v", cfg.Crawl)
	}
	if got := cfg.RequestTimeout(); got != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %v", got)
	}
	if cfg.Crawl.Mode != string(crawler.ModeFull) || cfg.Crawl.Dedup != string(crawler.DedupPresence) {
		t.Fatalf("unexpected crawl defaults: %+v", cfg.Crawl)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  max_concurrent_runs: 4
crawl:
  url: example.com
  output_dir: mirrors
  depth: 2
  mode: media_only
  filter_image: true
  filter_video: false
  convert_image: true
  target_format: jpg
  workers: 3
  dedup: none
  style_urls_respect_filters: true
http:
  timeout_seconds: 45
transcode:
  jpeg_quality: 75
progress:
  batch_size: 8
  batch_wait_ms: 250
archive:
  gcs_bucket: bucket
  prefix: runs
pubsub:
  project_id: proj
  topic_name: mirror-runs
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.MaxConcurrentRuns != 4 {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
	opts := cfg.CrawlOptions()
	if opts.URL != "example.com" || opts.Depth != 2 || opts.Mode != crawler.ModeMediaOnly {
		t.Fatalf("unexpected crawl options: %+v", opts)
	}
	if !opts.ConvertImage || opts.TargetFormat != "jpg" || opts.Dedup != crawler.DedupNone {
		t.Fatalf("unexpected transcode/dedup options: %+v", opts)
	}
	if opts.RequestTimeout != 45*time.Second || opts.Workers != 3 || !opts.StyleURLsRespectFilters {
		t.Fatalf("unexpected tuning options: %+v", opts)
	}
	hub := cfg.HubConfig()
	if hub.MaxBatchEvents != 8 || hub.MaxBatchWait != 250*time.Millisecond || hub.BufferSize != 1024 {
		t.Fatalf("unexpected hub config: %+v", hub)
	}
	if cfg.Archive.GCSBucket != "bucket" || cfg.Archive.Prefix != "runs" {
		t.Fatalf("unexpected archive config: %+v", cfg.Archive)
	}

	resolved, err := opts.Resolve(dir, time.Now())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.TargetFormat != crawler.FormatJPG {
		t.Fatalf("expected JPG target, got %q", resolved.TargetFormat)
	}
	if resolved.OutputDir != filepath.Join(dir, "mirrors") {
		t.Fatalf("unexpected output dir %q", resolved.OutputDir)
	}
}

func TestLoadFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("crawl:\n  depth: 1\n  mode: full\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	flags := pflag.NewFlagSet("crawl", pflag.ContinueOnError)
	flags.Int("depth", 0, "")
	flags.String("mode", "full", "")
	flags.Bool("videos", true, "")
	if err := flags.Parse([]string{"--depth=3", "--videos=false"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.Depth != 3 {
		t.Fatalf("expected flag depth 3, got %d", cfg.Crawl.Depth)
	}
	if cfg.Crawl.Mode != "full" {
		t.Fatalf("expected file mode to survive unset flag, got %q", cfg.Crawl.Mode)
	}
	if cfg.Crawl.FilterVideo {
		t.Fatalf("expected videos flag to disable video downloads")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server: ServerConfig{Port: 8080, MaxConcurrentRuns: 1},
		Crawl: CrawlConfig{
			Mode:         "full",
			TargetFormat: "PNG",
			Dedup:        "presence",
			Workers:      6,
		},
		HTTP: HTTPConfig{TimeoutSeconds: 10},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid run limit", mutate: func(c *Config) { c.Server.MaxConcurrentRuns = 0 }, want: "server.max_concurrent_runs"},
		{name: "negative depth", mutate: func(c *Config) { c.Crawl.Depth = -1 }, want: "crawl.depth"},
		{name: "unknown mode", mutate: func(c *Config) { c.Crawl.Mode = "everything" }, want: "crawl.mode"},
		{name: "unknown format", mutate: func(c *Config) { c.Crawl.TargetFormat = "bmp" }, want: "crawl.target_format"},
		{name: "unknown dedup", mutate: func(c *Config) { c.Crawl.Dedup = "sha" }, want: "crawl.dedup"},
		{name: "no workers", mutate: func(c *Config) { c.Crawl.Workers = 0 }, want: "crawl.workers"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "negative rate limit", mutate: func(c *Config) { c.HTTP.RateLimitRPS = -1 }, want: "http.rate_limit_rps"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "runs" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
