// Package api is the HTTP client for the telemetry backend.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/luki/sensordash/internal/catalog"
	"github.com/luki/sensordash/internal/sensor"
)

// maxBody caps how much of a response is read.
const maxBody = 16 << 20

// TransportError reports a network failure or a non-2xx response.
type TransportError struct {
	Op         string
	URL        string
	StatusCode int // zero for network failures
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to the backend's /datos endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for baseURL. The default HTTP client times out
// after timeout.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Live fetches the live snapshot from GET /datos.
func (c *Client) Live(ctx context.Context) (sensor.Snapshot, error) {
	body, err := c.get(ctx, "live", "/datos", nil)
	if err != nil {
		return nil, err
	}
	return sensor.ParseSnapshot(body)
}

// Range fetches one sensor's readings between start and end from
// GET /datos/{sensor}/filtrado. Readings come back in backend order.
func (c *Client) Range(ctx context.Context, id catalog.ID, params url.Values) ([]sensor.Reading, error) {
	path := "/datos/" + url.PathEscape(string(id)) + "/filtrado"
	body, err := c.get(ctx, "range", path, params)
	if err != nil {
		return nil, err
	}
	return sensor.ParseReadings(id, body)
}

// Latest fetches the most recent reading of one sensor from
// GET /datos/{sensor}/ultimo.
func (c *Client) Latest(ctx context.Context, id catalog.ID) (sensor.Reading, error) {
	path := "/datos/" + url.PathEscape(string(id)) + "/ultimo"
	body, err := c.get(ctx, "latest", path, nil)
	if err != nil {
		return sensor.Reading{}, err
	}
	return sensor.ParseReading(id, body)
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &TransportError{Op: op, URL: u, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: u, Err: err}
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request", "op", op, "url", u, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &TransportError{
			Op:         op,
			URL:        u,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransportError{Op: op, URL: u, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
