// Package browser owns headless browser processes and leases page handles to
// evaluators under a fixed ceiling of browsers × pages per browser.
package browser

import (
	"context"
	"net/http"
)

// Response describes the main document response of a navigation.
type Response struct {
	URL     string
	Status  int
	Headers http.Header
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is one running browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab. Implementations are used by one holder at a time.
type Page interface {
	Goto(ctx context.Context, url string) (Response, error)
	Content(ctx context.Context) (string, error)
	// Response returns the main document response of the last navigation.
	Response() Response
	Close() error
}
