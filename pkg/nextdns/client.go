// Package nextdns implements a client for the NextDNS REST API.
//
// The client authenticates with an API key, fetches analytics, profile
// metadata and settings for a profile, and performs the two write actions
// the bridge exposes: clearing logs and toggling boolean settings.
// Every error it returns can be classified with Classify.
package nextdns

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"gitlab.bluewillows.net/root/nextdnsbridge/pkg/httputil"
)

const (
	// DefaultAPIEndpoint is the base URL of the NextDNS API.
	DefaultAPIEndpoint = "https://api.nextdns.io"

	// DefaultTestEndpoint reports whether the calling device uses NextDNS.
	DefaultTestEndpoint = "https://test.nextdns.io"

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// apiErrorDetail is one entry of the "errors" array in an API response.
type apiErrorDetail struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// apiResponse is the standard NextDNS API response wrapper.
type apiResponse struct {
	Data   json.RawMessage  `json:"data,omitempty"`
	Errors []apiErrorDetail `json:"errors,omitempty"`
}

// Client is a NextDNS API client. It is immutable after New returns and
// safe for concurrent use.
type Client struct {
	apiEndpoint  string
	testEndpoint string
	apiKey       string
	httpClient   *http.Client
	logger       *slog.Logger
	rateLimit    rate.Limit
	burst        int
	userAgent    string

	profiles []ProfileInfo
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Rate limit options are ignored
// when a custom client is supplied.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAPIEndpoint sets a custom API endpoint (useful for testing).
func WithAPIEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.apiEndpoint = endpoint
	}
}

// WithTestEndpoint sets a custom connection test endpoint (useful for testing).
func WithTestEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		c.testEndpoint = endpoint
	}
}

// WithRateLimit limits outgoing requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		c.rateLimit = r
		c.burst = burst
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// New creates a client and performs the authentication handshake: it lists
// the account's profiles, which fails with ErrInvalidAPIKey when the key is
// rejected. The handshake is bounded only by ctx, so callers should pass a
// context with a deadline.
func New(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: empty API key", ErrInvalidAPIKey)
	}

	c := &Client{
		apiEndpoint:  DefaultAPIEndpoint,
		testEndpoint: DefaultTestEndpoint,
		apiKey:       apiKey,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = httputil.NewClient(&httputil.ClientConfig{
			UserAgent: c.userAgent,
			RateLimit: c.rateLimit,
			Burst:     c.burst,
			Logger:    c.logger,
		})
	}

	var profiles []ProfileInfo
	if err := c.doRequest(ctx, http.MethodGet, "/profiles", nil, &profiles); err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	c.profiles = profiles

	c.logger.Debug("authenticated with NextDNS API",
		slog.Int("profiles", len(profiles)),
	)

	return c, nil
}

// Profiles returns the profiles visible to the API key at handshake time.
func (c *Client) Profiles() []ProfileInfo {
	out := make([]ProfileInfo, len(c.profiles))
	copy(out, c.profiles)
	return out
}

// FindProfile looks up a profile from the handshake list by id, falling back
// to an exact name match.
func (c *Client) FindProfile(idOrName string) (ProfileInfo, bool) {
	for _, p := range c.profiles {
		if p.ID == idOrName {
			return p, true
		}
	}
	for _, p := range c.profiles {
		if p.Name == idOrName {
			return p, true
		}
	}
	return ProfileInfo{}, false
}

// doRequest performs an API request. body, when non-nil, is JSON-encoded;
// out, when non-nil, receives the decoded "data" member.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	reqURL := c.apiEndpoint + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w (status %d)", ErrInvalidAPIKey, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapTransportError(fmt.Errorf("reading response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}

	if len(apiResp.Errors) > 0 {
		return &APIError{
			Status: resp.StatusCode,
			Code:   apiResp.Errors[0].Code,
			Detail: apiResp.Errors[0].Detail,
		}
	}

	if out != nil {
		if err := json.Unmarshal(apiResp.Data, out); err != nil {
			return fmt.Errorf("parsing response data: %w", err)
		}
	}

	return nil
}

// newAPIError builds an APIError from a non-2xx response body.
func newAPIError(status int, body []byte) error {
	apiErr := &APIError{Status: status}
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err == nil && len(apiResp.Errors) > 0 {
		apiErr.Code = apiResp.Errors[0].Code
		apiErr.Detail = apiResp.Errors[0].Detail
	}
	return apiErr
}

// profilePath returns the API path of a profile sub-resource.
func profilePath(profileID string, parts ...string) string {
	p := "/profiles/" + url.PathEscape(profileID)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// ClearLogs deletes every query log entry of the profile.
func (c *Client) ClearLogs(ctx context.Context, profileID string) (bool, error) {
	if err := c.doRequest(ctx, http.MethodDelete, profilePath(profileID, "logs"), nil, nil); err != nil {
		return false, fmt.Errorf("clearing logs for %s: %w", profileID, err)
	}

	c.logger.Info("cleared profile logs", slog.String("profile", profileID))
	return true, nil
}
