package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Mode selects what a run writes to disk.
type Mode string

// Supported crawl modes.
const (
	ModeFull      Mode = "full"
	ModeMediaOnly Mode = "media_only"
)

// ImageFormat is the transcoding target for image resources.
type ImageFormat string

// Supported transcoding targets.
const (
	FormatPNG ImageFormat = "PNG"
	FormatJPG ImageFormat = "JPG"
)

// Ext returns the file extension, including the leading dot, for the format.
func (f ImageFormat) Ext() string {
	switch f {
	case FormatJPG:
		return ".jpg"
	default:
		return ".png"
	}
}

// DedupPolicy controls what happens when a resource's local file already exists.
type DedupPolicy string

// Supported dedup policies.
const (
	// DedupPresence skips the fetch when the target file exists.
	DedupPresence DedupPolicy = "presence"
	// DedupNone always fetches and overwrites.
	DedupNone DedupPolicy = "none"
)

// Category is the coarse resource class derived from a URL suffix.
type Category string

// Resource categories.
const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
	CategoryOther Category = "other"
)

// Output subfolders under the run root.
const (
	SubfolderImages = "images"
	SubfolderVideos = "videos"
	SubfolderJS     = "js"
	SubfolderCSS    = "css"
)

// Sentinel errors surfaced by the download path.
var (
	ErrNotFetched = errors.New("resource not fetched")
	ErrFiltered   = errors.New("resource filtered by classification")
)

const (
	defaultWorkers        = 6
	defaultRequestTimeout = 10 * time.Second
	defaultChunkSize      = 8192
	defaultMaxPageBytes   = 20 << 20
)

// Config is the immutable description of one crawl run.
type Config struct {
	StartURL      string
	OutputDir     string
	MaxDepth      int
	Mode          Mode
	AllowImages   bool
	AllowVideos   bool
	ConvertImages bool
	TargetFormat  ImageFormat

	Workers        int
	RequestTimeout time.Duration
	ChunkSize      int
	MaxPageBytes   int
	Dedup          DedupPolicy
	// StyleURLsRespectFilters applies the classifier filter to url(...)
	// references found in inline style blocks. Off by default.
	StyleURLsRespectFilters bool
}

// WithDefaults fills zero-valued tuning knobs.
func (c Config) WithDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeFull
	}
	if c.TargetFormat == "" {
		c.TargetFormat = FormatPNG
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.MaxPageBytes <= 0 {
		c.MaxPageBytes = defaultMaxPageBytes
	}
	if c.Dedup == "" {
		c.Dedup = DedupPresence
	}
	return c
}

// Validate rejects configurations a run cannot start with.
func (c Config) Validate() error {
	u, err := url.Parse(c.StartURL)
	if err != nil {
		return fmt.Errorf("parse start url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("start url must be http or https, got %q", c.StartURL)
	}
	if u.Host == "" {
		return fmt.Errorf("start url %q has no host", c.StartURL)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output directory is required")
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max depth must be >= 0, got %d", c.MaxDepth)
	}
	switch c.Mode {
	case ModeFull, ModeMediaOnly:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	switch c.TargetFormat {
	case FormatPNG, FormatJPG:
	default:
		return fmt.Errorf("unknown target format %q", c.TargetFormat)
	}
	switch c.Dedup {
	case DedupPresence, DedupNone:
	default:
		return fmt.Errorf("unknown dedup policy %q", c.Dedup)
	}
	return nil
}

// FetchRequest captures everything needed to fetch one URL.
type FetchRequest struct {
	URL     string
	Referer string
}

// FetchResponse is the buffered result of a page fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// ResourceRef is one embedded reference found on a page.
type ResourceRef struct {
	URL       string
	Category  Category
	Subfolder string
	// Element and Attr locate the markup to rewrite; nil for post-pass fetches.
	Element *goquery.Selection
	Attr    string
}

// OutcomeStatus explains how a download attempt ended.
type OutcomeStatus string

// Download outcome states.
const (
	OutcomeFetched  OutcomeStatus = "fetched"
	OutcomeExisting OutcomeStatus = "existing"
	OutcomeFiltered OutcomeStatus = "filtered"
	OutcomeFailed   OutcomeStatus = "failed"
)

// Outcome is the result of one resource download. Path is relative to the
// run root with forward slashes and is empty when nothing is available locally.
type Outcome struct {
	Path   string
	Status OutcomeStatus
	Bytes  int64
	Err    error
}

// Fetched reports whether a local copy can be referenced.
func (o Outcome) Fetched() bool {
	return o.Path != ""
}

// Summary aggregates what a run did.
type Summary struct {
	RunID             string    `json:"run_id"`
	StartURL          string    `json:"start_url"`
	OutputDir         string    `json:"output_dir"`
	Mode              Mode      `json:"mode"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	PagesVisited      int64     `json:"pages_visited"`
	PagesSaved        int64     `json:"pages_saved"`
	PagesFailed       int64     `json:"pages_failed"`
	ResourcesFetched  int64     `json:"resources_fetched"`
	ResourcesExisting int64     `json:"resources_existing"`
	ResourcesFiltered int64     `json:"resources_filtered"`
	ResourcesFailed   int64     `json:"resources_failed"`
	Bytes             int64     `json:"bytes"`
	Canceled          bool      `json:"canceled"`
}
