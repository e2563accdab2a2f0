package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names the milestone an Event records.
type Type string

// Supported event types.
const (
	TypePageStart    Type = "page_start"
	TypeGroupStart   Type = "group_start"
	TypeAnalyzerDone Type = "analyzer_done"
	TypeGroupDone    Type = "group_done"
	TypePageDone     Type = "page_done"
	TypePageError    Type = "page_error"
	TypeCrawlStart   Type = "crawl_start"
	TypeCrawlPage    Type = "crawl_page"
	TypeCrawlDone    Type = "crawl_done"
)

// Category groups event types for sinks that aggregate.
type Category string

// Event categories.
const (
	CategoryPage     Category = "page"
	CategoryGroup    Category = "group"
	CategoryAnalyzer Category = "analyzer"
	CategoryCrawl    Category = "crawl"
)

// CategoryOf returns the category of t, or "" for unknown types.
func CategoryOf(t Type) Category {
	switch t {
	case TypePageStart, TypePageDone, TypePageError:
		return CategoryPage
	case TypeGroupStart, TypeGroupDone:
		return CategoryGroup
	case TypeAnalyzerDone:
		return CategoryAnalyzer
	case TypeCrawlStart, TypeCrawlPage, TypeCrawlDone:
		return CategoryCrawl
	default:
		return ""
	}
}

// Event is a single progress notification.
type Event struct {
	// RunID identifies the page or site evaluation in 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC time the emitter recorded the event.
	TS time.Time
	Type Type
	// Category is derived from Type when left empty.
	Category Category
	// URL is the page or seed URL the event refers to.
	URL string
	// Payload holds small type-specific values such as group names,
	// analyzer ids, ratings and counters.
	Payload map[string]any
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse checks on an event.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	want := CategoryOf(e.Type)
	if want == "" {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.Category != "" && e.Category != want {
		return fmt.Errorf("event type %q does not belong to category %q", e.Type, e.Category)
	}
	if e.URL == "" {
		return errors.New("url is required")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run id to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// String reads a string payload value.
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Float reads a numeric payload value.
func (e Event) Float(key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
