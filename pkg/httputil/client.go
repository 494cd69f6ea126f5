// Package httputil provides the shared HTTP client used to reach the NextDNS API.
package httputil

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default HTTP client configuration values.
const (
	// DefaultTimeout caps a single request. Callers normally set a tighter
	// deadline through the request context.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent is used when no custom user agent is specified.
	DefaultUserAgent = "nextdnsbridge/1.0"
)

// ClientConfig contains configuration for creating an HTTP client.
type ClientConfig struct {
	// Timeout is the HTTP client timeout. Defaults to 30 seconds.
	Timeout time.Duration

	// UserAgent is the User-Agent header to set on requests.
	// Defaults to "nextdnsbridge/1.0" if not specified.
	UserAgent string

	// RateLimit is the sustained number of requests per second allowed
	// through the client. Zero disables limiting.
	RateLimit rate.Limit

	// Burst is the limiter bucket size. Defaults to 1 when RateLimit is set.
	Burst int

	// Logger enables debug logging for HTTP requests.
	// If nil, no debug logging is performed. Headers are never logged.
	Logger *slog.Logger

	// Transport overrides the base transport. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// userAgentTransport wraps an http.RoundTripper to add the User-Agent header,
// wait on the rate limiter and optionally log requests at debug level.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.limiter != nil {
		if err := t.wait(req.Context()); err != nil {
			return nil, err
		}
	}

	if req.Header.Get("User-Agent") == "" && t.userAgent != "" {
		// RoundTrippers must not modify the caller's request.
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.userAgent)
	}

	if t.logger != nil {
		t.logger.Debug("HTTP request",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
		)
	}

	resp, err := t.base.RoundTrip(req)

	if t.logger != nil && resp != nil {
		t.logger.Debug("HTTP response",
			slog.String("method", req.Method),
			slog.String("url", req.URL.String()),
			slog.Int("status", resp.StatusCode),
		)
	}

	return resp, err
}

// wait takes a limiter token. The limiter refuses early when the deadline
// cannot be met; that is reported as context.DeadlineExceeded.
func (t *userAgentTransport) wait(ctx context.Context) error {
	err := t.limiter.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("rate limit: %w: %w", context.DeadlineExceeded, err)
	}
	return err
}

// NewClient creates an HTTP client with the specified configuration.
// If cfg is nil, defaults are used (30s timeout, no rate limit).
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	transport := &userAgentTransport{
		base:      base,
		userAgent: userAgent,
		logger:    cfg.Logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		transport.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// DefaultClient returns a new HTTP client with default settings.
// Equivalent to NewClient(nil).
func DefaultClient() *http.Client {
	return NewClient(nil)
}
