package crawler

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Options is the caller-facing configuration surface. Resolve turns it into
// the immutable Config for one run.
type Options struct {
	URL          string
	OutputDir    string
	Depth        int
	Mode         Mode
	FilterImage  bool
	FilterVideo  bool
	ConvertImage bool
	TargetFormat ImageFormat
	// TaskDir places the run under <OutputDir>/<host>_<YYYYmmdd_HHMMSS>.
	TaskDir bool

	Workers                 int
	RequestTimeout          time.Duration
	ChunkSize               int
	MaxPageBytes            int
	Dedup                   DedupPolicy
	StyleURLsRespectFilters bool
}

// CoerceURL trims raw and prefixes https:// when no http(s) scheme is present.
func CoerceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	lower := strings.ToLower(raw)
	if raw == "" || strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

// Resolve coerces the URL, anchors the output directory at workDir and
// validates the result.
func (o Options) Resolve(workDir string, now time.Time) (Config, error) {
	startURL := CoerceURL(o.URL)
	parsed, err := url.Parse(startURL)
	if err != nil {
		return Config{}, fmt.Errorf("parse url %q: %w", o.URL, err)
	}

	out := o.OutputDir
	if strings.TrimSpace(out) == "" {
		out = "."
	}
	if !filepath.IsAbs(out) {
		out = filepath.Join(workDir, out)
	}
	if o.TaskDir {
		out = filepath.Join(out, taskDirName(parsed, now))
	}

	cfg := Config{
		StartURL:                startURL,
		OutputDir:               filepath.Clean(out),
		MaxDepth:                o.Depth,
		Mode:                    o.Mode,
		AllowImages:             o.FilterImage,
		AllowVideos:             o.FilterVideo,
		ConvertImages:           o.ConvertImage,
		TargetFormat:            ImageFormat(strings.ToUpper(string(o.TargetFormat))),
		Workers:                 o.Workers,
		RequestTimeout:          o.RequestTimeout,
		ChunkSize:               o.ChunkSize,
		MaxPageBytes:            o.MaxPageBytes,
		Dedup:                   o.Dedup,
		StyleURLsRespectFilters: o.StyleURLsRespectFilters,
	}.WithDefaults()
	if cfg.TargetFormat == "JPEG" {
		cfg.TargetFormat = FormatJPG
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func taskDirName(u *url.URL, now time.Time) string {
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(host)
	if host == "" {
		host = "site"
	}
	return fmt.Sprintf("%s_%s", host, now.Format("20060102_150405"))
}
