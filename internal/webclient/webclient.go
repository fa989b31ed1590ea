// Package webclient performs the hardened HTTP fetch at the center of a
// scan. The target is hostile by assumption: every hop, including the first,
// re-runs the address safety checks before a connection is made, redirects
// are capped, and the body is read through a hard byte ceiling no matter
// what Content-Length claims.
package webclient

import (
	"context"
	"net/http"
	"time"
)

// Client is the fetch dependency the orchestrator programs against.
type Client interface {
	Fetch(ctx context.Context, url string) (*Response, error)
	Close() error
}

// HostGuard re-validates a hostname's resolved addresses. Implemented by
// target.Validator; tests inject permissive or denying fakes.
type HostGuard interface {
	CheckHost(ctx context.Context, host string) error
}

// Response is the slice of an HTTP exchange the analyzers need. The body is
// retained only up to the configured ceiling.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	BodyPrefix []byte
	FetchedAt  time.Time
}

// Config carries the fetch safety knobs.
type Config struct {
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	MaxRedirects     int
	MaxResponseBytes int64
	RetryMax         int
	UserAgent        string
}
