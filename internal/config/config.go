// Package config loads and validates pagemirror configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/pagemirror/internal/crawler"
	"github.com/JakeFAU/pagemirror/internal/progress"
)

// EnvPrefix is prepended to every environment override, e.g. PAGEMIRROR_CRAWL_DEPTH.
const EnvPrefix = "PAGEMIRROR"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the HTTP service.
type ServerConfig struct {
	Port              int `mapstructure:"port"`
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// CrawlConfig mirrors crawler.Options.
type CrawlConfig struct {
	URL                     string `mapstructure:"url"`
	OutputDir               string `mapstructure:"output_dir"`
	Depth                   int    `mapstructure:"depth"`
	Mode                    string `mapstructure:"mode"`
	FilterImage             bool   `mapstructure:"filter_image"`
	FilterVideo             bool   `mapstructure:"filter_video"`
	ConvertImage            bool   `mapstructure:"convert_image"`
	TargetFormat            string `mapstructure:"target_format"`
	TaskDir                 bool   `mapstructure:"task_dir"`
	Workers                 int    `mapstructure:"workers"`
	ChunkSize               int    `mapstructure:"chunk_size"`
	MaxPageBytes            int    `mapstructure:"max_page_bytes"`
	Dedup                   string `mapstructure:"dedup"`
	StyleURLsRespectFilters bool   `mapstructure:"style_urls_respect_filters"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	// RateLimitRPS caps requests per second per host. Zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// TranscodeConfig tunes image re-encoding.
type TranscodeConfig struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

// ProgressConfig tunes the progress hub and the in-memory event recorder.
type ProgressConfig struct {
	BufferSize    int `mapstructure:"buffer_size"`
	BatchSize     int `mapstructure:"batch_size"`
	BatchWaitMs   int `mapstructure:"batch_wait_ms"`
	RecorderLimit int `mapstructure:"recorder_limit"`
}

// ArchiveConfig enables uploading finished runs to Cloud Storage.
type ArchiveConfig struct {
	GCSBucket       string `mapstructure:"gcs_bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

// DBConfig controls access to the run history database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FlagKeys maps command-line flag names to configuration keys. Flags that
// are present in the set passed to Load override files and environment.
var FlagKeys = map[string]string{
	"url":                        "crawl.url",
	"output":                     "crawl.output_dir",
	"depth":                      "crawl.depth",
	"mode":                       "crawl.mode",
	"images":                     "crawl.filter_image",
	"videos":                     "crawl.filter_video",
	"convert":                    "crawl.convert_image",
	"format":                     "crawl.target_format",
	"task-dir":                   "crawl.task_dir",
	"workers":                    "crawl.workers",
	"dedup":                      "crawl.dedup",
	"style-urls-respect-filters": "crawl.style_urls_respect_filters",
	"timeout":                    "http.timeout_seconds",
	"rate-limit":                 "http.rate_limit_rps",
	"port":                       "server.port",
	"dev":                        "logging.development",
}

// Load builds a Config from defaults, an optional file, the environment and flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range FlagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent_runs", 2)
	v.SetDefault("crawl.url", "")
	v.SetDefault("crawl.output_dir", ".")
	v.SetDefault("crawl.depth", 0)
	v.SetDefault("crawl.mode", string(crawler.ModeFull))
	v.SetDefault("crawl.filter_image", true)
	v.SetDefault("crawl.filter_video", true)
	v.SetDefault("crawl.convert_image", false)
	v.SetDefault("crawl.target_format", string(crawler.FormatPNG))
	v.SetDefault("crawl.task_dir", false)
	v.SetDefault("crawl.workers", 6)
	v.SetDefault("crawl.chunk_size", 8192)
	v.SetDefault("crawl.max_page_bytes", 20<<20)
	v.SetDefault("crawl.dedup", string(crawler.DedupPresence))
	v.SetDefault("crawl.style_urls_respect_filters", false)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.rate_limit_rps", 0.0)
	v.SetDefault("http.rate_limit_burst", 4)
	v.SetDefault("transcode.jpeg_quality", 90)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 64)
	v.SetDefault("progress.batch_wait_ms", 100)
	v.SetDefault("progress.recorder_limit", 10000)
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "mirrors")
	v.SetDefault("archive.credentials_file", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. The crawl URL is
// not required here because the service supplies it per request.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.MaxConcurrentRuns <= 0 {
		return errors.New("server.max_concurrent_runs must be > 0")
	}
	if c.Crawl.Depth < 0 {
		return errors.New("crawl.depth must be >= 0")
	}
	switch crawler.Mode(c.Crawl.Mode) {
	case crawler.ModeFull, crawler.ModeMediaOnly:
	default:
		return fmt.Errorf("crawl.mode must be %q or %q", crawler.ModeFull, crawler.ModeMediaOnly)
	}
	switch strings.ToUpper(c.Crawl.TargetFormat) {
	case string(crawler.FormatPNG), string(crawler.FormatJPG), "JPEG":
	default:
		return errors.New("crawl.target_format must be PNG or JPG")
	}
	switch crawler.DedupPolicy(c.Crawl.Dedup) {
	case crawler.DedupPresence, crawler.DedupNone:
	default:
		return errors.New("crawl.dedup must be presence or none")
	}
	if c.Crawl.Workers <= 0 {
		return errors.New("crawl.workers must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return errors.New("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return errors.New("http.rate_limit_rps must be >= 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// CrawlOptions converts the crawl section into crawler options.
func (c Config) CrawlOptions() crawler.Options {
	return crawler.Options{
		URL:                     c.Crawl.URL,
		OutputDir:               c.Crawl.OutputDir,
		Depth:                   c.Crawl.Depth,
		Mode:                    crawler.Mode(c.Crawl.Mode),
		FilterImage:             c.Crawl.FilterImage,
		FilterVideo:             c.Crawl.FilterVideo,
		ConvertImage:            c.Crawl.ConvertImage,
		TargetFormat:            crawler.ImageFormat(c.Crawl.TargetFormat),
		TaskDir:                 c.Crawl.TaskDir,
		Workers:                 c.Crawl.Workers,
		RequestTimeout:          c.RequestTimeout(),
		ChunkSize:               c.Crawl.ChunkSize,
		MaxPageBytes:            c.Crawl.MaxPageBytes,
		Dedup:                   crawler.DedupPolicy(c.Crawl.Dedup),
		StyleURLsRespectFilters: c.Crawl.StyleURLsRespectFilters,
	}
}

// HubConfig converts the progress section into hub settings.
func (c Config) HubConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.BatchSize,
		MaxBatchWait:   time.Duration(c.Progress.BatchWaitMs) * time.Millisecond,
	}
}
