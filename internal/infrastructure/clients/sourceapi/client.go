package sourceapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPError is returned for non-2xx responses so callers can distinguish
// client errors (never counted by circuit breakers) from server errors.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("source api returned status %d for %s", e.StatusCode, e.URL)
}

// Client is a rate-limited JSON client shared by all source adapters.
// The limiter is honored even when the orchestrator fans out pages
// concurrently for the same source.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	headers    map[string]string
	logger     zerolog.Logger
}

// NewClient creates a client for one source's base URL. rps bounds the
// request rate; zero or negative disables limiting.
func NewClient(baseURL string, timeout time.Duration, rps float64, logger zerolog.Logger) *Client {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
		headers: make(map[string]string),
		logger:  logger,
	}
}

// WithHeader sets a header sent on every request (e.g. an API key header)
func (c *Client) WithHeader(key, value string) *Client {
	c.headers[key] = value
	return c
}

// BaseURL returns the configured base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetJSON performs a rate-limited GET and decodes the JSON response into out
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint = endpoint + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn().
			Str("url", endpoint).
			Dur("duration", duration).
			Err(err).
			Msg("source request failed")
		return err
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("source request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint}
	}

	// 204 from some government APIs means "no rows for this window"
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode source response: %w", err)
	}

	return nil
}

// IsClientError reports whether err is an HTTP 4xx response. Client errors
// indicate a malformed request, not source unavailability, and are excluded
// from circuit breaker accounting.
func IsClientError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 400 && httpErr.StatusCode < 500
	}
	return false
}

// IsTransient reports whether err counts as a source availability failure:
// timeouts, connection errors and 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
