package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves a page body in full.
type PageFetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// ResourceFetcher opens a streaming body for a resource. Non-2xx responses
// are reported as *StatusError.
type ResourceFetcher interface {
	Open(ctx context.Context, request FetchRequest) (io.ReadCloser, error)
}

// Transcoder re-encodes image bytes into the target format.
type Transcoder interface {
	Transcode(data []byte, format ImageFormat) ([]byte, error)
}

// OutputStore is the run root on disk. Paths are relative with forward slashes.
type OutputStore interface {
	Root() string
	Exists(rel string) bool
	Put(ctx context.Context, rel string, r io.Reader, chunkSize int) (int64, error)
}

// Clock stamps events and synthesized filenames.
type Clock interface {
	Now() time.Time
}
