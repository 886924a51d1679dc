package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/mlregistry-go/internal/platform/requestid"
)

type Config struct {
	// APIRoot is the registry REST root, e.g. https://registry.example.com/hopsworks-api/api.
	APIRoot string

	// Attempts bounds tries per idempotent request; 1 disables retries.
	Attempts      int
	RetryInterval time.Duration
	UserAgent     string

	// MaxResponseBytes bounds a response body; 0 means DefaultMaxResponseBytes.
	MaxResponseBytes int64
}

const DefaultMaxResponseBytes int64 = 8 << 20

func (c Config) Validate() error {
	raw := strings.TrimSpace(c.APIRoot)
	if raw == "" {
		return errors.New("api root is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api root: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api root %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("api root %q has no host", raw)
	}
	if c.Attempts < 0 {
		return errors.New("attempts must be >= 0")
	}
	if c.RetryInterval < 0 {
		return errors.New("retry interval must be >= 0")
	}
	if c.MaxResponseBytes < 0 {
		return errors.New("max response bytes must be >= 0")
	}
	return nil
}

// Client is the authenticated transport to the registry. Credentials are
// the job of the *http.Client passed to New.
type Client struct {
	root      *url.URL
	http      *http.Client
	logger    *slog.Logger
	attempts  int
	interval  time.Duration
	userAgent string
	maxBody   int64
}

func New(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	root, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.APIRoot), "/"))
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody == 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Client{
		root:      root,
		http:      httpClient,
		logger:    logger,
		attempts:  attempts,
		interval:  interval,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		maxBody:   maxBody,
	}, nil
}

// Request describes one registry call. Path segments are escaped
// individually. Body is JSON encoded unless it is a RawBody.
type Request struct {
	Method string
	Path   []string
	Query  url.Values
	Header http.Header
	Body   any
}

// RawBody is sent as-is.
type RawBody struct {
	ContentType string
	Data        []byte
}

// URL renders the absolute URL for path and query.
func (c *Client) URL(path []string, query url.Values) string {
	plain := make([]string, 0, len(path))
	escaped := make([]string, 0, len(path))
	for _, seg := range path {
		if seg == "" {
			continue
		}
		plain = append(plain, seg)
		escaped = append(escaped, url.PathEscape(seg))
	}
	u := *c.root
	u.Path = strings.TrimRight(c.root.Path, "/") + "/" + strings.Join(plain, "/")
	u.RawPath = strings.TrimRight(c.root.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Send performs req and returns the response body. An empty body yields nil.
// Non-2xx responses come back as *APIError.
func (c *Client) Send(ctx context.Context, req Request) (json.RawMessage, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	var (
		payload     []byte
		contentType string
	)
	switch body := req.Body.(type) {
	case nil:
	case RawBody:
		payload, contentType = body.Data, body.ContentType
	case *RawBody:
		payload, contentType = body.Data, body.ContentType
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload, contentType = b, "application/json"
	}

	ctx, reqID := requestid.Ensure(ctx)
	target := c.URL(req.Path, req.Query)

	attempts := 1
	if idempotent(method) {
		attempts = c.attempts
	}
	backoff := ExponentialBackoff(c.interval, 2)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := backoff(ctx); err != nil {
				return nil, errors.Join(lastErr, err)
			}
		}
		body, status, err := c.do(ctx, method, target, req.Header, contentType, payload, reqID)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrResponseTooLarge) {
				return nil, err
			}
			lastErr = err
			c.logger.Debug("registry request failed", "method", method, "url", target, "attempt", attempt, "request_id", reqID, "error", err)
			continue
		}
		if status >= 200 && status <= 299 {
			if len(bytes.TrimSpace(body)) == 0 {
				return nil, nil
			}
			return json.RawMessage(body), nil
		}
		apiErr := newAPIError(method, target, status, body)
		if !retryableStatus(status) {
			return nil, apiErr
		}
		lastErr = apiErr
		c.logger.Debug("registry request retryable", "method", method, "url", target, "status", status, "attempt", attempt, "request_id", reqID)
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, target string, header http.Header, contentType string, payload []byte, reqID string) ([]byte, int, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set(requestid.Header, reqID)
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("http %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, 0, fmt.Errorf("http %s %s: read body: %w", method, target, err)
	}
	if int64(len(respBody)) > c.maxBody {
		return nil, resp.StatusCode, fmt.Errorf("%w: http %s %s: limit is %d bytes", ErrResponseTooLarge, method, target, c.maxBody)
	}
	c.logger.Debug("registry request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", reqID,
	)
	return respBody, resp.StatusCode, nil
}
