package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	"github.com/NERVsystems/overpassmap/pkg/osm"
	"github.com/NERVsystems/overpassmap/pkg/tracing"
)

// Client posts queries to an Overpass interpreter. Requests are never
// retried, cached or rate-limited.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the shared OSM HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a client for the interpreter at interpreterURL.
func NewClient(interpreterURL string, opts ...ClientOption) *Client {
	if interpreterURL == "" {
		interpreterURL = osm.OverpassBaseURL
	}
	c := &Client{
		url:    interpreterURL,
		logger: slog.Default().With("component", "overpass"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the interpreter endpoint.
func (c *Client) URL() string {
	return c.url
}

// Fetch executes query and decodes the element list.
func (c *Client) Fetch(ctx context.Context, query string) (*osm.Response, error) {
	ctx, span := tracing.StartSpan(ctx, "overpass.fetch",
		trace.WithAttributes(attribute.Int(tracing.AttrQueryLength, len(query))),
	)
	defer span.End()

	req, err := osm.NewRequest(ctx, http.MethodPost, c.url, strings.NewReader(query))
	if err != nil {
		return nil, core.NewError(core.ErrInternalError, "failed to create Overpass request").WithCause(err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	c.logger.Debug("executing overpass query", "url", c.url, "query", query)

	resp, err := osm.MonitoredDo(ctx, c.client, req, tracing.ServiceOverpass, "interpreter")
	if err != nil {
		c.logger.Error("overpass request failed", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		monitoring.RecordError("overpass", "request_error")
		return nil, core.NewError(core.ErrServiceUnavailable, "failed to communicate with Overpass").
			WithQuery(query).
			WithCause(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(tracing.ServiceAttributes(tracing.ServiceOverpass, "interpreter", c.url, resp.StatusCode)...)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Error("overpass returned error", "status", resp.StatusCode, "body", string(body))
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		monitoring.RecordError("overpass", fmt.Sprintf("http_%d", resp.StatusCode))
		return nil, core.ServiceError("Overpass", resp.StatusCode, errorSnippet(body, resp.StatusCode)).
			WithQuery(query)
	}

	var result osm.Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.Error("failed to decode overpass response", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, core.NewError(core.ErrParseError, "failed to parse Overpass response").
			WithQuery(query).
			WithCause(err)
	}

	if result.Remark != "" {
		c.logger.Warn("overpass remark", "remark", result.Remark)
	}
	span.SetAttributes(attribute.Int(tracing.AttrElementCount, len(result.Elements)))
	monitoring.RecordOverpassElements(len(result.Elements))
	return &result, nil
}

// errorSnippet pulls a short message out of an Overpass error page.
func errorSnippet(body []byte, status int) string {
	s := string(body)
	if i := strings.Index(s, "Error</strong>:"); i >= 0 {
		s = s[i+len("Error</strong>:"):]
		if j := strings.Index(s, "</p>"); j >= 0 {
			s = s[:j]
		}
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.HasPrefix(s, "<") {
		return fmt.Sprintf("HTTP status %d", status)
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
