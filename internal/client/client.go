// Package client provides the HTTP client for the order service under test.
// It carries the transport plumbing (timeouts, connection pooling, optional
// retries) and the typed wrappers for the five order-service endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/flashsale/tools/loadgen/internal/config"
)

// Errors returned by the client package.
var (
	// ErrEmptyBody is returned when a response body is empty but a payload
	// was expected.
	ErrEmptyBody = errors.New("client: empty response body")
)

// Client is the HTTP client for the order service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
	retry      RetryConfig
}

// RetryConfig configures retry behavior. The load-generating paths run
// without retries (a failed probe is counted, not repeated); the oracle's
// reads may retry on infrastructure failures.
type RetryConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	ShouldRetry func(resp *http.Response, err error) bool
}

// NoRetry returns a retry configuration that never retries.
func NoRetry() RetryConfig {
	return RetryConfig{}
}

// OracleRetry returns the retry configuration used by the consistency
// oracle: a few attempts on transport errors and 5xx, with backoff.
func OracleRetry() RetryConfig {
	return RetryConfig{
		MaxRetries: 2,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		ShouldRetry: func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		},
	}
}

// New creates a client for the configured target.
func New(cfg config.TargetConfig, retry RetryConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "flashsale-loadgen/1.0",
		},
		retry: retry,
	}
	for k, v := range cfg.Headers {
		c.headers[k] = v
	}
	return c, nil
}

// Request represents an HTTP request to be executed.
type Request struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        any
}

// Response represents an HTTP response. A Response with a non-nil Err had a
// transport-level failure; StatusCode is zero in that case.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Err        error
}

// Infra reports whether the response counts as an infrastructure failure:
// a transport error or a 5xx status. Business responses (2xx/404/409/422)
// are expected outcomes and never count here.
func (r *Response) Infra() bool {
	return r.Err != nil || r.StatusCode >= 500
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.Body) == 0 {
		return ErrEmptyBody
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Do executes an HTTP request. Transport errors are reported inside the
// returned Response rather than as a Go error, so callers on the load path
// can count them without branching on two failure channels; the returned
// error is non-nil only for unrecoverable local problems (bad URL, body
// marshaling) or context cancellation.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	u, err := c.buildURL(req.Path, req.QueryParams)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}

	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, err = json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
	}

	var last *Response
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
		if err != nil {
			return nil, fmt.Errorf("creating HTTP request: %w", err)
		}
		for k, v := range c.headers {
			httpReq.Header.Set(k, v)
		}

		start := time.Now()
		httpResp, err := c.httpClient.Do(httpReq)
		resp := &Response{Duration: time.Since(start), Err: err}

		if err == nil {
			resp.StatusCode = httpResp.StatusCode
			resp.Body, err = io.ReadAll(httpResp.Body)
			httpResp.Body.Close()
			if err != nil {
				resp.Err = fmt.Errorf("reading response body: %w", err)
			}
		}

		last = resp
		if attempt < c.retry.MaxRetries && c.retry.ShouldRetry != nil &&
			c.retry.ShouldRetry(httpResp, resp.Err) {
			continue
		}
		break
	}

	if last.Err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return last, nil
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, queryParams map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, QueryParams: queryParams})
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

func (c *Client) buildURL(path string, queryParams map[string]string) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	if len(queryParams) > 0 {
		q := u.Query()
		for k, v := range queryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.retry.RetryDelay) * math.Pow(c.retry.Multiplier, float64(attempt-1))
	if limit := float64(c.retry.MaxDelay); c.retry.MaxDelay > 0 && delay > limit {
		delay = limit
	}
	// Jitter by up to 25% to avoid retry lock-step across actors.
	return time.Duration(delay * (0.75 + rand.Float64()*0.25))
}
