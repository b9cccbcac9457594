// Package health probes an environment's health endpoint.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe when none is configured.
const DefaultTimeout = 10 * time.Second

// Checker reports whether the service behind url is healthy.
type Checker interface {
	Check(ctx context.Context, url string) error
}

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("health check %s returned HTTP %d", e.URL, e.StatusCode)
}

// HTTPChecker performs a GET and treats any 2xx response as healthy.
type HTTPChecker struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPChecker creates a checker with the given per-probe timeout.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPChecker{
		client: &http.Client{
			// Redirects to a login page must not count as healthy.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

func (c *HTTPChecker) Check(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no health url configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid health url: %w", err)
	}
	req.Header.Set("User-Agent", "opsgate-health")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return nil
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc func(ctx context.Context, url string) error

func (f CheckerFunc) Check(ctx context.Context, url string) error {
	return f(ctx, url)
}
