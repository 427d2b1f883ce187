package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultTimeout bounds a single request attempt.
const DefaultTimeout = 30 * time.Second

// DefaultMaxRetries is the total number of attempts per request.
const DefaultMaxRetries = 3

// DefaultRetryWait seeds the exponential backoff between attempts.
const DefaultRetryWait = 1 * time.Second

// Client is a retrying JSON-over-HTTP client shared by the integration
// backends (Telegram, artifact bucket). Transient failures — network
// errors, 429s, and 5xx responses — are retried with exponential
// backoff; everything else surfaces as an *APIError.
type Client struct {
	client        *http.Client
	baseURL       string
	service       string
	maxAttempts   int
	retryWait     time.Duration
	beforeRequest func(req *http.Request)
}

// ClientConfig configures a Client. Zero values get defaults.
type ClientConfig struct {
	Client      *http.Client
	BaseURL     string
	ServiceName string
	MaxRetries  int
	RetryWait   time.Duration

	// BeforeRequest runs on every attempt, typically to attach auth
	// headers.
	BeforeRequest func(req *http.Request)
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		client:        cfg.Client,
		baseURL:       cfg.BaseURL,
		service:       cfg.ServiceName,
		maxAttempts:   cfg.MaxRetries,
		retryWait:     cfg.RetryWait,
		beforeRequest: cfg.BeforeRequest,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: DefaultTimeout}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxRetries
	}
	if c.retryWait <= 0 {
		c.retryWait = DefaultRetryWait
	}
	return c
}

// Get performs a GET and decodes the JSON response into result.
// A nil result discards the body.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.finish(resp, path, result)
}

// Post performs a POST with a JSON body and decodes the JSON response
// into result.
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.service, err)
	}
	resp, err := c.do(ctx, http.MethodPost, path, "application/json", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.finish(resp, path, result)
}

// Delete performs a DELETE, discarding any response body.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.finish(resp, path, nil)
}

// GetRaw performs a GET and returns the response body verbatim.
func (c *Client) GetRaw(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.apiError(resp, path)
	}
	return io.ReadAll(resp.Body)
}

// PutRaw performs a PUT with an opaque body, for object uploads.
func (c *Client) PutRaw(ctx context.Context, path string, data []byte) error {
	resp, err := c.do(ctx, http.MethodPut, path, "application/octet-stream", data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.finish(resp, path, nil)
}

// do runs one request through the retry policy. The returned response
// has a non-retryable status; callers own its body.
func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryWait
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(c.maxAttempts-1)), ctx)

	return backoff.RetryWithData(func() (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build %s request: %w", c.service, err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		if c.beforeRequest != nil {
			c.beforeRequest(req)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", c.service, err)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, fmt.Errorf("%s returned %s", c.service, resp.Status)
		}
		return resp, nil
	}, policy)
}

// finish maps error statuses to *APIError and decodes a JSON body into
// result when asked for one.
func (c *Client) finish(resp *http.Response, path string, result any) error {
	if resp.StatusCode >= 400 {
		return c.apiError(resp, path)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}

// apiError builds an *APIError from an error response, pulling the
// message out of the common {"message": ...} / {"error": ...} shapes.
func (c *Client) apiError(resp *http.Response, path string) error {
	body, _ := io.ReadAll(resp.Body)

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)

	message := payload.Message
	if message == "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	return &APIError{
		Service:    c.service,
		StatusCode: resp.StatusCode,
		Message:    message,
		Endpoint:   path,
		RequestID:  resp.Header.Get("X-Request-Id"),
	}
}
