// Package osm provides utilities for working with OpenStreetMap data.
package osm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/overpassmap/pkg/tracing"
)

const (
	// DefaultUserAgent is the default User-Agent string
	DefaultUserAgent = "overpassmap/0.1.0"

	// API endpoints
	NominatimBaseURL = "https://nominatim.openstreetmap.org"
	OverpassBaseURL  = "https://overpass-api.de/api/interpreter"
)

var (
	// Global HTTP client with connection pooling
	httpClient *http.Client

	// Nominatim's usage policy allows one request per second.
	// Overpass requests are never throttled.
	nominatimLimiter *rate.Limiter
	nominatimHost    string
	limiterLock      sync.RWMutex

	// User agent string
	userAgent     string
	userAgentLock sync.RWMutex
)

func init() {
	httpClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: 60 * time.Second,
	}

	nominatimLimiter = rate.NewLimiter(rate.Limit(1), 1)
	nominatimHost = hostFromURL(NominatimBaseURL)

	SetUserAgent(DefaultUserAgent)
}

// UpdateNominatimRateLimits updates the Nominatim rate limiter
func UpdateNominatimRateLimits(rps float64, burst int) {
	limiterLock.Lock()
	defer limiterLock.Unlock()
	nominatimLimiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// SetNominatimHost tells the limiter which host to throttle when a custom
// Nominatim instance is configured.
func SetNominatimHost(baseURL string) {
	limiterLock.Lock()
	defer limiterLock.Unlock()
	nominatimHost = hostFromURL(baseURL)
}

// SetUserAgent sets the User-Agent string
func SetUserAgent(ua string) {
	userAgentLock.Lock()
	defer userAgentLock.Unlock()
	userAgent = ua
}

// GetUserAgent returns the current User-Agent string
func GetUserAgent() string {
	userAgentLock.RLock()
	defer userAgentLock.RUnlock()
	return userAgent
}

// GetClient returns the global HTTP client
func GetClient() *http.Client {
	return httpClient
}

// hostFromURL extracts the host from a URL string
func hostFromURL(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}
	return u.Host
}

// waitForRateLimit blocks until the Nominatim limiter admits the request.
// Requests to any other host pass straight through.
func waitForRateLimit(ctx context.Context, req *http.Request) (time.Duration, error) {
	limiterLock.RLock()
	limiter, host := nominatimLimiter, nominatimHost
	limiterLock.RUnlock()

	if req.URL.Host != host {
		return 0, nil
	}
	if limiter.Allow() {
		return 0, nil
	}

	startWait := time.Now()
	tracing.AddEvent(ctx, "rate_limit_wait",
		trace.WithAttributes(
			attribute.String(tracing.AttrRateLimitService, tracing.ServiceNominatim),
		),
	)

	err := limiter.Wait(ctx)

	waitDuration := time.Since(startWait)
	tracing.SetAttributes(ctx,
		attribute.String(tracing.AttrRateLimitService, tracing.ServiceNominatim),
		attribute.Int64(tracing.AttrRateLimitWaitMs, waitDuration.Milliseconds()),
	)

	return waitDuration, err
}

// NewRequest creates a new HTTP request with the configured User-Agent header
func NewRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", GetUserAgent())
	return req, nil
}

// CheckNominatimHealth checks if Nominatim service is available
func CheckNominatimHealth(baseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := NewRequest(ctx, http.MethodGet, baseURL+"/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create nominatim health check request: %w", err)
	}

	resp, err := MonitoredDoRequest(ctx, req, tracing.ServiceNominatim, "health")
	if err != nil {
		return fmt.Errorf("nominatim health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nominatim health check returned status %d", resp.StatusCode)
	}

	return nil
}

// CheckOverpassHealth checks if Overpass API is available
func CheckOverpassHealth(interpreterURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := NewRequest(ctx, http.MethodGet, interpreterURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create overpass health check request: %w", err)
	}
	req.URL.RawQuery = "data=[out:json];out meta;"

	resp, err := MonitoredDoRequest(ctx, req, tracing.ServiceOverpass, "health")
	if err != nil {
		return fmt.Errorf("overpass health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("overpass health check returned status %d", resp.StatusCode)
	}

	return nil
}
