package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity grades a message for presentation.
type Severity string

// Supported severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is one log message produced during a run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Severity grades the message.
	Severity Severity
	// Message is the human-readable text.
	Message string
	// URL optionally scopes the message to a page or resource.
	URL string
	// Depth is the traversal depth of the page being processed.
	Depth int
	// Bytes carries the size of a completed download.
	Bytes int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Severity {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
	default:
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	if e.Message == "" {
		return errors.New("message is required")
	}
	if e.Bytes < 0 {
		return errors.New("bytes must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
