package engine

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	errs "bskycrawler/pkg/errors"
	"bskycrawler/pkg/logger"
)

// AcceptEncoding is advertised on every fetch. Bodies are decoded by readBody.
const AcceptEncoding = "gzip, deflate, br"

// DefaultMaxBodyBytes caps a decoded response body
const DefaultMaxBodyBytes int64 = 10 << 20

// Fetcher performs one attempt of a request
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// HTTPFetcher fetches requests with net/http and decodes compressed bodies
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       logger.Logger
}

// NewHTTPFetcher creates a fetcher. A maxBodyBytes of 0 means DefaultMaxBodyBytes.
func NewHTTPFetcher(timeout time.Duration, maxBodyBytes int64, userAgent string, log logger.Logger) *HTTPFetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent:    userAgent,
		maxBodyBytes: maxBodyBytes,
		logger:       log,
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (f *HTTPFetcher) SetHTTPClient(c *http.Client) {
	f.client = c
}

// Fetch issues a GET for req. Non-2xx responses become transport errors carrying the status.
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, errs.NewConfigurationError("build request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", AcceptEncoding)
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.NewTransportError(0, "send request", err)
	}
	defer resp.Body.Close()

	body, err := f.readBody(resp)
	if err != nil {
		return nil, errs.NewTransportError(0, "read response", err)
	}

	f.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      req.URL,
		"label":    req.Label,
		"status":   resp.StatusCode,
		"bytes":    len(body),
		"duration": time.Since(start),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, errs.NewTransportError(resp.StatusCode, fmt.Sprintf("unexpected status: %s", preview), nil)
	}

	return &Response{
		Request:    req,
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// readBody decodes the Content-Encoding and enforces the body cap
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
	case "gzip", "x-gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		// Servers disagree on zlib-wrapped versus raw deflate
		raw, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read deflate body: %w", err)
		}
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err == nil {
			defer zr.Close()
			reader = zr
		} else {
			fl := flate.NewReader(bytes.NewReader(raw))
			defer fl.Close()
			reader = fl
		}
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", resp.Header.Get("Content-Encoding"))
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, errors.New("response body exceeds limit")
	}
	return body, nil
}
