package crawler

import (
	"context"
	"net/http"
	"time"
)

// RobotsStatus records how robots.txt was resolved for a fetch.
type RobotsStatus string

// Robots probe outcomes.
const (
	RobotsStatusUnknown       RobotsStatus = ""
	RobotsStatusIndeterminate RobotsStatus = "indeterminate"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Depth   int
	Headers http.Header
}

// FetchResponse is what a Fetcher returns.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Rendered     bool
	RobotsStatus RobotsStatus
	RobotsReason string
}

// Fetcher retrieves a page for link discovery and evaluation.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Detector decides whether a plain HTTP probe should be re-fetched in a
// browser because the content is rendered client-side.
type Detector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Limiter paces requests per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}
