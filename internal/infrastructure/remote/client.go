// Package remote talks to the hosted commerce backend: cart, orders and
// conversations. Every call carries a bounded timeout and maps failures to
// the sentinel errors below so callers can fall back to local state.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Remote errors. All of them are transient from the caller's point of view.
var (
	// ErrUnavailable means the backend could not be reached (network error,
	// timeout, or no base URL configured)
	ErrUnavailable = errors.New("remote: backend unavailable")
	// ErrRequestFailed means the backend answered with a non-2xx status
	ErrRequestFailed = errors.New("remote: request failed")
	// ErrUnauthorized means the backend rejected the bearer token (HTTP 401)
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrInvalidResponse means the response body could not be decoded
	ErrInvalidResponse = errors.New("remote: invalid response")
)

// StatusError carries the HTTP status of a failed request
type StatusError struct {
	StatusCode int
	Path       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s returned HTTP %d", e.Path, e.StatusCode)
}

// Is maps the status onto ErrUnauthorized or ErrRequestFailed
func (e *StatusError) Is(target error) bool {
	if target == ErrUnauthorized {
		return e.StatusCode == http.StatusUnauthorized
	}
	return target == ErrRequestFailed
}

// Config configures the remote client
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// Client is a thin JSON client for the commerce backend. It is safe for
// concurrent use; WithToken derives per-session copies sharing the same
// connection pool.
type Client struct {
	baseURL    string
	token      string
	maxBody    int64
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client. An empty BaseURL yields a client whose every
// call fails with ErrUnavailable, which puts sessions in local-only mode.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = 4 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		maxBody: cfg.MaxResponseBytes,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("remote"),
	}
}

// WithToken returns a copy of c that sends token as a bearer credential
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

type tokenKey struct{}

// ContextWithToken attaches a bearer token to ctx. It takes precedence over
// the token set with WithToken.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

func (c *Client) tokenFor(ctx context.Context) string {
	if t, ok := ctx.Value(tokenKey{}).(string); ok && t != "" {
		return t
	}
	return c.token
}

// Configured reports whether a base URL is set
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// request describes one call; body is either JSON-encoded or, when
// contentType is set, sent as is.
type request struct {
	method         string
	path           string
	body           any
	raw            io.Reader
	contentType    string
	idempotencyKey string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if !c.Configured() {
		return fmt.Errorf("%w: no base URL configured", ErrUnavailable)
	}

	var body io.Reader
	contentType := r.contentType
	switch {
	case r.raw != nil:
		body = r.raw
	case r.body != nil:
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("remote: encode %s %s: %w", r.method, r.path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
	if err != nil {
		return fmt.Errorf("remote: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.tokenFor(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", r.idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, r.method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrUnavailable, r.path, err)
	}

	c.logger.Debug("remote call",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Path: r.path}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, r.path, err)
	}
	return nil
}
