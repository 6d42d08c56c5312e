// Package bugzilla mirrors the bugs assigned to a user on a Bugzilla server
// into server-controlled tasks.
package bugzilla

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Fetcher performs one GET request and returns the response body.
type Fetcher interface {
	ExecuteRequest(ctx context.Context, url string) (string, error)
}

// Client is the HTTP Fetcher. It retries with backoff on HTTP 429.
type Client struct {
	httpClient *http.Client
	maxRetries int
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
	}
}

var ErrUnauthorized = errors.New("bugzilla rejected the API key")

func (c *Client) ExecuteRequest(ctx context.Context, url string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("executing request: %w", err)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return "", fmt.Errorf("reading response body: %w", readErr)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("rate limited (429)")
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryAfter(resp, attempt)):
				continue
			}
		case resp.StatusCode == http.StatusUnauthorized:
			return "", ErrUnauthorized
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
		}
		return string(body), nil
	}
	return "", fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func retryAfter(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
