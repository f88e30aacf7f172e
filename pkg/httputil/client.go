package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRetries   = 5
	defaultRetryBackoff = time.Second
)

// Error from an upstream data API with the status preserved, so callers can
// distinguish rate limits and not-found from real failures
type UpstreamError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d from %s", e.StatusCode, e.URL)
}

func (e *UpstreamError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (e *UpstreamError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client is the JSON fetcher shared by all upstream collaborators. Every
// call is bounded by a per-request timeout; only 429 responses are retried,
// with exponential backoff and a bounded attempt count. Any other error
// propagates to the caller as-is
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithRetries(max int, backoff time.Duration) Option {
	return func(c *Client) {
		if max >= 0 {
			c.maxRetries = max
		}
		if backoff > 0 {
			c.retryBackoff = backoff
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultRetryBackoff,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetJSON fetches rawURL (plus optional query params) and decodes the JSON
// body into out
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	return c.GetJSONWithHeaders(ctx, rawURL, query, nil, out)
}

// GetJSONWithHeaders is GetJSON with extra request headers, for upstreams
// that want signed or authenticated requests
func (c *Client) GetJSONWithHeaders(ctx context.Context, rawURL string, query url.Values, headers map[string]string, out any) error {
	body, err := c.doWithBackoff(ctx, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, rawURL, query, headers, nil)
	})
	if err != nil {
		return err
	}

	if err = json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

// PostJSON posts body as JSON to rawURL and decodes the JSON response into
// out. Same timeout/backoff contract as GetJSON
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request for %s: %w", rawURL, err)
	}

	resp, err := c.doWithBackoff(ctx, func() ([]byte, error) {
		return c.do(ctx, http.MethodPost, rawURL, nil, nil, encoded)
	})
	if err != nil {
		return err
	}

	if err = json.Unmarshal(resp, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) doWithBackoff(ctx context.Context, call func() ([]byte, error)) ([]byte, error) {
	delay := c.retryBackoff

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		body, err := call()
		if err == nil {
			return body, nil
		}
		lastErr = err

		upstream, ok := err.(*UpstreamError)
		if !ok || !upstream.IsRateLimit() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *Client) do(ctx context.Context, method, rawURL string, query url.Values, headers map[string]string, body []byte) ([]byte, error) {
	fullURL := rawURL
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			URL:        rawURL,
			Body:       respBody,
		}
	}

	return respBody, nil
}
