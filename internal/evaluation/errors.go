package evaluation

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sentinel errors surfaced by the evaluation core.
var (
	ErrValidation        = errors.New("validation failed")
	ErrResourceExhausted = errors.New("browser pool exhausted")
	ErrPoolClosed        = errors.New("browser pool closed")
	ErrUnknownAnalyzer   = errors.New("unknown analyzer")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// ValidationError describes malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ValidateURL checks that raw is an absolute http(s) URL with a host.
func ValidateURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &ValidationError{Field: "url", Reason: "is empty"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ValidationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return nil, &ValidationError{Field: "url", Reason: "missing host"}
	}
	return u, nil
}
