package monitoring

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPipelineRun(t *testing.T) {
	PipelineRunsTotal.Reset()

	RecordPipelineRun("")
	RecordPipelineRun("PLACE_NOT_FOUND")
	RecordPipelineRun("PLACE_NOT_FOUND")

	if got := testutil.ToFloat64(PipelineRunsTotal.WithLabelValues("success", "")); got != 1 {
		t.Errorf("Expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(PipelineRunsTotal.WithLabelValues("error", "PLACE_NOT_FOUND")); got != 2 {
		t.Errorf("Expected 2 failed runs, got %v", got)
	}
}

func TestRecordFeatureRendered(t *testing.T) {
	FeaturesRendered.Reset()

	RecordFeatureRendered("marker")
	RecordFeatureRendered("polygon")
	RecordFeatureRendered("marker")

	if got := testutil.ToFloat64(FeaturesRendered.WithLabelValues("marker")); got != 2 {
		t.Errorf("Expected 2 markers, got %v", got)
	}
	if got := testutil.ToFloat64(FeaturesRendered.WithLabelValues("polygon")); got != 1 {
		t.Errorf("Expected 1 polygon, got %v", got)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()

	tests := []struct {
		status int
		class  string
	}{
		{http.StatusOK, "2xx"},
		{http.StatusFound, "3xx"},
		{http.StatusNotFound, "4xx"},
		{http.StatusBadGateway, "5xx"},
	}
	for _, tt := range tests {
		RecordHTTPRequest(http.MethodGet, tt.status)
		if got := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, tt.class)); got != 1 {
			t.Errorf("status %d: expected 1 in %s, got %v", tt.status, tt.class, got)
		}
	}
}

func TestRecordExternalServiceRequest(t *testing.T) {
	ExternalServiceRequestsTotal.Reset()

	RecordExternalServiceRequest("nominatim", "search", 500*time.Millisecond, true)
	RecordExternalServiceRequest("overpass", "interpreter", 300*time.Millisecond, false)

	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("nominatim", "search", "success")); got != 1 {
		t.Errorf("Expected 1 successful nominatim request, got %v", got)
	}
	if got := testutil.ToFloat64(ExternalServiceRequestsTotal.WithLabelValues("overpass", "interpreter", "error")); got != 1 {
		t.Errorf("Expected 1 failed overpass request, got %v", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()
	CacheSize.Reset()

	RecordCacheHit("geocode")
	RecordCacheMiss("geocode")
	UpdateCacheSize("geocode", 42)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("geocode")); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("geocode")); got != 1 {
		t.Errorf("Expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(CacheSize.WithLabelValues("geocode")); got != 42 {
		t.Errorf("Expected cache size 42, got %v", got)
	}
}

func TestRateLimitAndErrorMetrics(t *testing.T) {
	RateLimitExceeded.Reset()
	ErrorsTotal.Reset()

	RecordRateLimitExceeded("nominatim")
	RecordRateLimitWait("nominatim", time.Second)
	RecordError("geometry", "DANGLING_REFERENCE")

	if got := testutil.ToFloat64(RateLimitExceeded.WithLabelValues("nominatim")); got != 1 {
		t.Errorf("Expected 1 rate limit event, got %v", got)
	}
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("geometry", "DANGLING_REFERENCE")); got != 1 {
		t.Errorf("Expected 1 error, got %v", got)
	}
}

func BenchmarkRecordStage(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordStage("reconstruct", time.Millisecond)
	}
}

func TestUpdateActiveConnections(t *testing.T) {
	ActiveConnections.Reset()

	UpdateActiveConnections("mcp", "session", 3)
	UpdateActiveConnections("mcp", "session", 2)

	if got := testutil.ToFloat64(ActiveConnections.WithLabelValues("mcp", "session")); got != 2 {
		t.Errorf("Expected 2 active sessions, got %v", got)
	}
}
