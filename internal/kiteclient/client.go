// Package kiteclient talks to the local Kite daemon over HTTP.
package kiteclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/kitelink/internal/version"
	"pkt.systems/kitelink/schema"
	"pkt.systems/pslog"
)

const (
	// DefaultTimeout bounds one daemon round trip.
	DefaultTimeout = 10 * time.Second
	maxResponseBody = 4 << 20
)

// Config holds configuration for creating a Client.
type Config struct {
	// Addr is the daemon host:port or base URL. Defaults to DefaultDaemonAddr.
	Addr string
	// Source names the editor in error reports.
	Source string
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
	// HTTPClient is used for all requests when set.
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// Client performs daemon round trips.
type Client struct {
	baseURL string
	source  string
	http    *http.Client
	log     pslog.Logger
}

// StatusError is returned when the daemon answers with an unexpected status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("kited %s: status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("kited %s: status %d: %s", e.Endpoint, e.StatusCode, body)
}

// New constructs a client.
func New(cfg Config) (*Client, error) {
	base, err := BaseURL(cfg.Addr)
	if err != nil {
		return nil, err
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{
		baseURL: base,
		source:  schema.NormalizeSource(cfg.Source),
		http:    httpClient,
		log:     logger.With("daemon", base),
	}, nil
}

// BaseURL normalizes a host:port or URL into a base URL without a trailing
// slash.
func BaseURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		addr = schema.DefaultDaemonAddr
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid daemon address %q: %w", addr, err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid daemon address %q: missing host", addr)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// BaseURLString returns the daemon base URL.
func (c *Client) BaseURLString() string {
	return c.baseURL
}

// Post JSON-encodes payload and posts it to endpoint. Non-2xx statuses are
// returned in the Response, not as errors.
func (c *Client) Post(ctx context.Context, endpoint schema.Endpoint, payload any) (schema.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return schema.Response{}, fmt.Errorf("encode %s: %w", endpoint, err)
	}
	if len(data) > schema.MaxPayloadSize {
		c.log.Warn("daemon payload dropped", "endpoint", endpoint, "size", humanize.IBytes(uint64(len(data))))
		return schema.Response{}, fmt.Errorf("%s: %w (%s > %s)", endpoint, schema.ErrPayloadTooLarge,
			humanize.IBytes(uint64(len(data))), humanize.IBytes(uint64(schema.MaxPayloadSize)))
	}
	return c.do(ctx, http.MethodPost, string(endpoint), "application/json", bytes.NewReader(data))
}

// Get performs a GET against path, which may carry a query string.
func (c *Client) Get(ctx context.Context, path string) (schema.Response, error) {
	return c.do(ctx, http.MethodGet, path, "", nil)
}

// PostForm posts URL-encoded form values to path.
func (c *Client) PostForm(ctx context.Context, path string, values url.Values) (schema.Response, error) {
	return c.do(ctx, http.MethodPost, path, "application/x-www-form-urlencoded", strings.NewReader(values.Encode()))
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (schema.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return schema.Response{}, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("daemon request failed", "method", method, "path", path, "err", err)
		return schema.Response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return schema.Response{StatusCode: resp.StatusCode}, fmt.Errorf("read %s: %w", path, err)
	}
	c.log.Trace("daemon request", "method", method, "path", path, "status", resp.StatusCode, "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return schema.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// SendError reports an editor-side error for filename. Symlinks in filename
// are resolved so the daemon sees the same path it indexes.
func (c *Client) SendError(ctx context.Context, filename, message string) error {
	if resolved, err := filepath.EvalSymlinks(filename); err == nil {
		filename = resolved
	} else if filename != "" {
		c.log.Debug("error report path unresolved", "file", filename, "err", err)
	}
	report := schema.ErrorReport{Source: c.source, Filename: filename, Message: message}
	resp, err := c.Post(ctx, schema.EndpointError, report)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Endpoint: string(schema.EndpointError), StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}
	return nil
}
