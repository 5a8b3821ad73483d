package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
)

// DefaultServiceURL is the identity service sessions are created against
const DefaultServiceURL = "https://bsky.social"

// maxErrorBody caps how much of a failed response is kept for error reporting
const maxErrorBody = 4 << 10

// Client talks XRPC to the identity service and to the PDS resolved for a session
type Client struct {
	httpClient *http.Client
	serviceURL string
	userAgent  string
	logger     logger.Logger
}

// NewClient creates a new XRPC client. An empty serviceURL means DefaultServiceURL.
func NewClient(serviceURL string, timeout time.Duration, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if serviceURL == "" {
		serviceURL = DefaultServiceURL
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		serviceURL: serviceURL,
		userAgent:  "bskycrawler/1.0",
		logger:     log,
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(h *http.Client) {
	c.httpClient = h
}

// SetUserAgent sets the User-Agent sent with every request
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// ServiceURL returns the identity service this client authenticates against
func (c *Client) ServiceURL() string {
	return c.serviceURL
}

// statusError carries a non-2xx response back to the caller
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.status, e.body)
}

// post sends a JSON POST to rawURL. A non-nil body is marshalled; a non-nil result is decoded.
func (c *Client) post(ctx context.Context, rawURL, bearer string, body, result interface{}) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, payload)
	if err != nil {
		return errs.NewConfigurationError("create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      rawURL,
			"error":    err.Error(),
			"duration": duration,
		})
		return errs.NewTransportError(0, "send request", err)
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      rawURL,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{status: resp.StatusCode, body: string(preview)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.NewTransportError(resp.StatusCode, "read response", err)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return errs.NewMalformedResponseError("decode response", err)
		}
	}

	return nil
}
