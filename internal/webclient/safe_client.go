package webclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/wrenlabs/websentry/internal/logging"
	"github.com/wrenlabs/websentry/internal/scanerr"
)

// retryInitialInterval matches the original retry policy: capped attempts
// with a 500ms exponential backoff, GET/HEAD on 5xx only.
const retryInitialInterval = 500 * time.Millisecond

var retryableStatus = map[int]bool{
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// errRetryableStatus signals the backoff loop that the attempt may be
// repeated. Everything else is wrapped Permanent.
var errRetryableStatus = errors.New("retryable server status")

// SafeClient is the net/http backed fetch client.
type SafeClient struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

// NewSafeClient builds a SafeClient. guard is consulted on every hop through
// a wrapping RoundTripper. baseTransport is optional; tests pass the
// transport of an httptest server's client, production passes nil for a
// default transport with the configured dial and TLS handshake timeouts.
func NewSafeClient(cfg Config, guard HostGuard, logger logging.Logger, baseTransport http.RoundTripper) (*SafeClient, error) {
	if cfg.MaxResponseBytes <= 0 {
		return nil, fmt.Errorf("webclient: MaxResponseBytes must be positive")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	logger = logger.With(logging.Field{Key: "component", Value: "webclient"})

	if baseTransport == nil {
		baseTransport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: cfg.ConnectTimeout,
			}).DialContext,
			TLSHandshakeTimeout:   cfg.ConnectTimeout,
			ResponseHeaderTimeout: cfg.ReadTimeout,
			MaxIdleConns:          16,
			IdleConnTimeout:       60 * time.Second,
		}
	}

	transport := baseTransport
	if guard != nil {
		transport = &guardTransport{next: baseTransport, guard: guard}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.ReadTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return scanerr.New(scanerr.KindConnection,
					"redirect to unsupported protocol "+req.URL.Scheme)
			}
			if len(via) >= cfg.MaxRedirects {
				return scanerr.New(scanerr.KindConnection,
					fmt.Sprintf("stopped after %d redirects", cfg.MaxRedirects))
			}
			return nil
		},
	}

	return &SafeClient{cfg: cfg, client: client, logger: logger}, nil
}

// guardTransport re-runs the SSRF address checks on the hostname of every
// outgoing request. The http.Client routes each redirect hop through here,
// so a chain that starts public and swings to an internal address dies at
// the hop that turns. Guard failures are surfaced as connection errors, the
// same classification the transport uses for refused connections.
type guardTransport struct {
	next  http.RoundTripper
	guard HostGuard
}

func (g *guardTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()
	if host != "" {
		if err := g.guard.CheckHost(req.Context(), host); err != nil {
			switch scanerr.KindOf(err) {
			case scanerr.KindDNSFailure:
				return nil, scanerr.Wrap(scanerr.KindConnection, "DNS resolution failed", err)
			default:
				return nil, scanerr.Wrap(scanerr.KindConnection,
					"blocked private address for "+host, err)
			}
		}
	}
	return g.next.RoundTrip(req)
}

// Fetch GETs url and returns the response headers, final URL and capped body
// prefix. 500/502/503/504 responses are retried with exponential backoff up
// to RetryMax extra attempts; timeouts, connection errors and SSRF blocks
// are never retried. All failures come back as classified *scanerr.Error.
func (c *SafeClient) Fetch(ctx context.Context, url string) (*Response, error) {
	var resp *Response

	attempt := 0
	operation := func() error {
		attempt++
		r, err := c.do(ctx, url)
		if err != nil {
			return backoff.Permanent(err)
		}
		if retryableStatus[r.StatusCode] {
			if attempt <= c.cfg.RetryMax {
				c.logger.Warn("retrying after server error",
					logging.Field{Key: "url", Value: url},
					logging.Field{Key: "status", Value: r.StatusCode},
					logging.Field{Key: "attempt", Value: attempt})
				return fmt.Errorf("%w: %d", errRetryableStatus, r.StatusCode)
			}
			return backoff.Permanent(scanerr.New(scanerr.KindConnection,
				fmt.Sprintf("server error %d after retries", r.StatusCode)))
		}
		resp = r
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = retryInitialInterval

	err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, errRetryableStatus) {
			// Exhausted retries on persistent 5xx; surface like the
			// underlying transport does for a dead upstream.
			return nil, scanerr.Wrap(scanerr.KindConnection, "server error after retries", err)
		}
		return nil, scanerr.ClassifyTransport(err)
	}
	return resp, nil
}

func (c *SafeClient) do(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, scanerr.Wrap(scanerr.KindInvalidInput, "invalid URL format", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, scanerr.ClassifyTransport(err)
	}
	defer httpResp.Body.Close()

	if httpResp.ContentLength > 0 && httpResp.ContentLength > c.cfg.MaxResponseBytes {
		return nil, scanerr.New(scanerr.KindResponseLarge, "response too large")
	}

	// The ceiling is committed to regardless of Content-Length: reading
	// exactly MaxResponseBytes means the body may continue and the response
	// is rejected rather than analyzed truncated.
	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.cfg.MaxResponseBytes))
	if err != nil {
		return nil, scanerr.ClassifyTransport(err)
	}
	if int64(len(body)) >= c.cfg.MaxResponseBytes {
		return nil, scanerr.New(scanerr.KindResponseLarge, "response too large")
	}

	finalURL := url
	if httpResp.Request != nil && httpResp.Request.URL != nil {
		finalURL = httpResp.Request.URL.String()
	}

	return &Response{
		URL:        url,
		FinalURL:   finalURL,
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		BodyPrefix: body,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// Close releases idle connections.
func (c *SafeClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
