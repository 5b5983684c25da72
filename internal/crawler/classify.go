package crawler

import (
	"net/url"
	"path"
	"strings"
)

var extensionCategories = map[string]Category{
	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".png":  CategoryImage,
	".gif":  CategoryImage,
	".webp": CategoryImage,
	".svg":  CategoryImage,
	".mp4":  CategoryVideo,
	".webm": CategoryVideo,
	".mkv":  CategoryVideo,
	".avi":  CategoryVideo,
	".mov":  CategoryVideo,
}

// Classify maps a URL to a category using the case-insensitive suffix of
// its path. Query strings and fragments do not take part.
func Classify(rawURL string) Category {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	if cat, ok := extensionCategories[strings.ToLower(path.Ext(p))]; ok {
		return cat
	}
	return CategoryOther
}

// Filter applies the run's allow flags to categories.
type Filter struct {
	Mode        Mode
	AllowImages bool
	AllowVideos bool
}

// NewFilter derives the filter from a run config.
func NewFilter(cfg Config) Filter {
	return Filter{Mode: cfg.Mode, AllowImages: cfg.AllowImages, AllowVideos: cfg.AllowVideos}
}

// Allows reports whether resources of category c may be fetched.
func (f Filter) Allows(c Category) bool {
	switch c {
	case CategoryImage:
		return f.AllowImages
	case CategoryVideo:
		return f.AllowVideos
	default:
		return f.Mode == ModeFull
	}
}

func isDataURL(raw string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "data:")
}
