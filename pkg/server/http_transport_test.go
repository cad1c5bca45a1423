package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/paulmach/osm"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	gosm "github.com/NERVsystems/overpassmap/pkg/osm"
	"github.com/NERVsystems/overpassmap/pkg/pipeline"
)

type stubResolver struct {
	id  int64
	err error
}

func (r *stubResolver) Resolve(context.Context, string) (int64, error) {
	return r.id, r.err
}

type stubFetcher struct {
	resp  *gosm.Response
	err   error
	calls int
}

func (f *stubFetcher) Fetch(context.Context, string) (*gosm.Response, error) {
	f.calls++
	return f.resp, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() HTTPTransportConfig {
	cfg := DefaultHTTPTransportConfig()
	cfg.RateLimit = 0
	return cfg
}

func parkResponse() *gosm.Response {
	return &gosm.Response{Elements: []gosm.Element{
		{ID: 1, Type: osm.TypeNode, Lat: 1, Lon: 1},
		{ID: 2, Type: osm.TypeNode, Lat: 1, Lon: 2},
		{ID: 3, Type: osm.TypeNode, Lat: 2, Lon: 2},
		{ID: 4, Type: osm.TypeNode, Lat: 1.5, Lon: 1.5, Tags: map[string]string{"amenity": "bench"}},
		{ID: 10, Type: osm.TypeWay, Nodes: []osm.NodeID{1, 2, 3, 1}, Tags: map[string]string{"leisure": "park", "name": "Green"}},
	}}
}

func newTestTransport(resolver pipeline.Resolver, fetcher pipeline.Fetcher) *HTTPTransport {
	p := &pipeline.Pipeline{Resolver: resolver, Fetcher: fetcher, Logger: testLogger()}
	return NewHTTPTransport(p, nil, testConfig(), testLogger())
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestMapPage(t *testing.T) {
	transport := newTestTransport(&stubResolver{id: 3600000001}, &stubFetcher{resp: parkResponse()})

	rec := get(t, transport.Handler(), "/map?leisure=park&_place=Somewhere&_names")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`"kind":"polygon"`, `"kind":"marker"`, "var fit = [[", "leaflet.js"} {
		if !strings.Contains(body, want) {
			t.Errorf("page does not contain %s", want)
		}
	}
}

func TestMapPageWithoutQueryShowsUsage(t *testing.T) {
	fetcher := &stubFetcher{}
	transport := newTestTransport(&stubResolver{}, fetcher)

	rec := get(t, transport.Handler(), "/")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Add filters to the URL") {
		t.Error("usage message missing")
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times", fetcher.calls)
	}
}

func TestMapPageErrors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		resolver *stubResolver
		fetcher  *stubFetcher
		status   int
		message  string
	}{
		{
			name:     "place not found",
			target:   "/map?amenity=cafe&_place=Atlantis",
			resolver: &stubResolver{err: core.NewError(core.ErrPlaceNotFound, `no results for place "Atlantis"`)},
			fetcher:  &stubFetcher{},
			status:   http.StatusNotFound,
			message:  "no results for that place",
		},
		{
			name:     "empty result",
			target:   "/map?amenity=cafe&_area=3600000001",
			resolver: &stubResolver{},
			fetcher:  &stubFetcher{resp: &gosm.Response{}},
			status:   http.StatusNotFound,
			message:  "no data found",
		},
		{
			name:     "missing area",
			target:   "/map?amenity=cafe",
			resolver: &stubResolver{},
			fetcher:  &stubFetcher{},
			status:   http.StatusBadRequest,
			message:  "either _place or _area is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newTestTransport(tt.resolver, tt.fetcher)
			rec := get(t, transport.Handler(), tt.target)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			body := rec.Body.String()
			if !strings.Contains(body, tt.message) {
				t.Errorf("page does not contain %q", tt.message)
			}
			if strings.Contains(body, "var fit = [[") {
				t.Error("failed run should not fit bounds")
			}
		})
	}
}

func TestFeaturesAPI(t *testing.T) {
	transport := newTestTransport(&stubResolver{}, &stubFetcher{resp: parkResponse()})

	rec := get(t, transport.Handler(), "/api/features?leisure=park&_area=2400000010&_icon=tree")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
		BBox []float64 `json:"bbox"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %q", fc.Type)
	}
	// bench marker, park polygon, park centroid marker
	if len(fc.Features) != 3 {
		t.Fatalf("got %d features, want 3", len(fc.Features))
	}
	if fc.Features[0].Properties["icon"] != "tree" {
		t.Errorf("node marker icon = %v", fc.Features[0].Properties["icon"])
	}
	if len(fc.BBox) != 4 || fc.BBox[0] != 1 || fc.BBox[3] != 2 {
		t.Errorf("bbox = %v", fc.BBox)
	}
}

func TestFeaturesAPIErrors(t *testing.T) {
	dangling := &gosm.Response{Elements: []gosm.Element{
		{ID: 10, Type: osm.TypeWay, Nodes: []osm.NodeID{1, 2}, Tags: map[string]string{"highway": "path"}},
	}}

	tests := []struct {
		name     string
		target   string
		resolver *stubResolver
		fetcher  *stubFetcher
		status   int
		code     core.ErrorCode
	}{
		{"invalid type", "/api/features?a=b&_area=1&_type=area", &stubResolver{}, &stubFetcher{}, http.StatusBadRequest, core.ErrInvalidInput},
		{"place not found", "/api/features?a=b&_place=x", &stubResolver{err: core.PlaceNotFound}, &stubFetcher{}, http.StatusNotFound, core.ErrPlaceNotFound},
		{"empty", "/api/features?a=b&_area=1", &stubResolver{}, &stubFetcher{resp: &gosm.Response{}}, http.StatusNotFound, core.ErrEmptyResult},
		{"dangling", "/api/features?highway&_area=1&_type=way", &stubResolver{}, &stubFetcher{resp: dangling}, http.StatusBadGateway, core.ErrDanglingReference},
		{"overpass down", "/api/features?a=b&_area=1", &stubResolver{}, &stubFetcher{err: core.ServiceError("Overpass", 504, "HTTP status 504")}, http.StatusBadGateway, core.ErrServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newTestTransport(tt.resolver, tt.fetcher)
			rec := get(t, transport.Handler(), tt.target)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body struct {
				Error core.Error `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v (%s)", err, rec.Body.String())
			}
			if body.Error.Code != string(tt.code) {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.code)
			}
		})
	}
}

func TestQueryAPI(t *testing.T) {
	fetcher := &stubFetcher{}
	transport := newTestTransport(&stubResolver{id: 2400003344}, fetcher)

	rec := get(t, transport.Handler(), "/api/query?amenity=drinking_water&name=&_place=Berlin")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	want := "[out:json][timeout:25];\narea(id:2400003344)->.searchArea;\n(\n  node[\"amenity\"=\"drinking_water\"][\"name\"](area.searchArea);\n);\nout body;\n>;\nout skel qt;"
	if got := rec.Body.String(); got != want {
		t.Errorf("query =\n%s\nwant\n%s", got, want)
	}
	if got := rec.Header().Get("X-Area-ID"); got != "2400003344" {
		t.Errorf("X-Area-ID = %q", got)
	}
	if fetcher.calls != 0 {
		t.Errorf("fetcher called %d times", fetcher.calls)
	}
}

func TestInfoEndpoint(t *testing.T) {
	transport := newTestTransport(&stubResolver{}, &stubFetcher{})

	rec := get(t, transport.Handler(), "/api/info")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var info struct {
		Service  string   `json:"service"`
		Basemaps []string `json:"basemaps"`
		MCP      struct {
			Enabled bool `json:"enabled"`
		} `json:"mcp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Service != "overpassmap" {
		t.Errorf("service = %q", info.Service)
	}
	if info.MCP.Enabled {
		t.Error("MCP should be disabled without an MCP server")
	}
	found := false
	for _, id := range info.Basemaps {
		found = found || id == "osm"
	}
	if !found {
		t.Errorf("basemaps %v missing osm", info.Basemaps)
	}
}

var iconRef = regexp.MustCompile(`/icons/[A-Za-z0-9_.%-]+`)

func TestMapIcons(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nbench")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bench.png"), png, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("default uses stock marker", func(t *testing.T) {
		transport := newTestTransport(&stubResolver{}, &stubFetcher{resp: parkResponse()})
		rec := get(t, transport.Handler(), "/map?amenity=bench&_area=1&_icon=bench")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if ref := iconRef.FindString(rec.Body.String()); ref != "" {
			t.Errorf("page references %s, which nothing serves", ref)
		}
		if rec := get(t, transport.Handler(), "/icons/bench.png"); rec.Code != http.StatusNotFound {
			t.Errorf("/icons/ status = %d, want 404 without an icon dir", rec.Code)
		}
	})

	t.Run("icon dir is served", func(t *testing.T) {
		cfg := testConfig()
		cfg.IconDir = dir
		p := &pipeline.Pipeline{Resolver: &stubResolver{}, Fetcher: &stubFetcher{resp: parkResponse()}, Logger: testLogger()}
		h := NewHTTPTransport(p, nil, cfg, testLogger()).Handler()

		rec := get(t, h, "/map?leisure=park&_area=1&_icon=bench")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		refs := iconRef.FindAllString(rec.Body.String(), -1)
		if len(refs) == 0 {
			t.Fatal("page has no icon reference")
		}
		for _, ref := range refs {
			icon := get(t, h, ref)
			if icon.Code != http.StatusOK {
				t.Fatalf("GET %s status = %d", ref, icon.Code)
			}
			if !bytes.Equal(icon.Body.Bytes(), png) {
				t.Errorf("GET %s served %q", ref, icon.Body.Bytes())
			}
		}
	})
}

func TestHealthEndpoints(t *testing.T) {
	transport := newTestTransport(&stubResolver{}, &stubFetcher{})

	for _, path := range []string{"/health", "/ready", "/live"} {
		t.Run("fallback"+path, func(t *testing.T) {
			rec := get(t, transport.Handler(), path)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
		})
	}

	hc := monitoring.NewHealthChecker("overpassmap", "test")
	defer hc.Shutdown()
	hc.UpdateConnection("overpass", "error", 0, core.ServiceUnavailable)
	transport.SetHealthChecker(hc)

	tests := []struct {
		path   string
		status int
	}{
		{"/health", http.StatusServiceUnavailable},
		{"/ready", http.StatusServiceUnavailable},
		{"/live", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run("checker"+tt.path, func(t *testing.T) {
			rec := get(t, transport.Handler(), tt.path)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestMiddlewareChain(t *testing.T) {
	transport := newTestTransport(&stubResolver{}, &stubFetcher{})

	t.Run("security headers", func(t *testing.T) {
		rec := get(t, transport.Handler(), "/live")
		csp := rec.Header().Get("Content-Security-Policy")
		if !strings.Contains(csp, "https://unpkg.com") {
			t.Errorf("CSP does not allow Leaflet assets: %q", csp)
		}
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Error("missing X-Content-Type-Options")
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("missing X-Request-ID")
		}
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/live", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		rec := httptest.NewRecorder()
		transport.Handler().ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
			t.Errorf("X-Request-ID = %q", got)
		}
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/features", nil)
		req.Header.Set("Origin", "https://example.org")
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		rec := httptest.NewRecorder()
		transport.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		if rec := get(t, transport.Handler(), "/nope"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})

	t.Run("mcp routes absent", func(t *testing.T) {
		if rec := get(t, transport.Handler(), "/sse"); rec.Code != http.StatusNotFound {
			t.Errorf("status = %d", rec.Code)
		}
	})
}

func TestRateLimitedTransport(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	p := &pipeline.Pipeline{Resolver: &stubResolver{}, Fetcher: &stubFetcher{}}
	transport := NewHTTPTransport(p, nil, cfg, testLogger())
	t.Cleanup(func() { transport.Shutdown(context.Background()) })

	if rec := get(t, transport.Handler(), "/live"); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	if rec := get(t, transport.Handler(), "/live"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}

func TestShutdownWithoutStart(t *testing.T) {
	transport := newTestTransport(&stubResolver{}, &stubFetcher{})
	if err := transport.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
