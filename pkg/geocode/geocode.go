// Package geocode resolves free-text place names into Overpass area ids
// using a Nominatim search endpoint.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/osm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	gosm "github.com/NERVsystems/overpassmap/pkg/osm"
	"github.com/NERVsystems/overpassmap/pkg/tracing"
)

// Overpass derives area ids from the id of the way or relation that bounds it.
const (
	NodeAreaOffset     int64 = 0
	WayAreaOffset      int64 = 2_400_000_000
	RelationAreaOffset int64 = 3_600_000_000
)

// DefaultCacheSize is the number of resolved places kept in memory.
const DefaultCacheSize = 512

// AreaID converts an OSM object reference into an Overpass area id.
func AreaID(t osm.Type, id int64) (int64, error) {
	switch t {
	case osm.TypeNode:
		return id + NodeAreaOffset, nil
	case osm.TypeWay:
		return id + WayAreaOffset, nil
	case osm.TypeRelation:
		return id + RelationAreaOffset, nil
	default:
		return 0, fmt.Errorf("unknown osm type %q", t)
	}
}

// OSMID accepts Nominatim's osm_id as either a JSON number or a string.
type OSMID int64

// UnmarshalJSON implements json.Unmarshaler.
func (id *OSMID) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid osm_id %s: %w", data, err)
	}
	*id = OSMID(v)
	return nil
}

// Candidate is one entry of a Nominatim search response.
type Candidate struct {
	OSMID       OSMID    `json:"osm_id"`
	OSMType     osm.Type `json:"osm_type"`
	DisplayName string   `json:"display_name,omitempty"`
	Class       string   `json:"class,omitempty"`
	Type        string   `json:"type,omitempty"`
}

// Select returns the first way or relation candidate in provider order.
// Nodes and unknown types cannot bound an area and are skipped.
func Select(candidates []Candidate) (Candidate, bool) {
	for _, c := range candidates {
		switch c.OSMType {
		case osm.TypeWay, osm.TypeRelation:
			return c, true
		}
	}
	return Candidate{}, false
}

// Resolver resolves place names to Overpass area ids.
type Resolver struct {
	baseURL string
	client  *http.Client
	cache   *lru.Cache[string, int64]
	logger  *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHTTPClient overrides the shared OSM HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) { r.client = c }
}

// WithCacheSize sets the number of memoised places. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n <= 0 {
			r.cache = nil
			return
		}
		c, err := lru.New[string, int64](n)
		if err == nil {
			r.cache = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver for the Nominatim instance at baseURL.
func NewResolver(baseURL string, opts ...Option) *Resolver {
	if baseURL == "" {
		baseURL = gosm.NominatimBaseURL
	}
	r := &Resolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  slog.Default().With("component", "geocode"),
	}
	WithCacheSize(DefaultCacheSize)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the Overpass area id for place.
func (r *Resolver) Resolve(ctx context.Context, place string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "geocode.resolve",
		trace.WithAttributes(attribute.String(tracing.AttrPlace, place)),
	)
	defer span.End()

	key := strings.ToLower(strings.TrimSpace(place))
	if key == "" {
		return 0, core.NewValidationError("place name is empty")
	}

	if r.cache != nil {
		if id, ok := r.cache.Get(key); ok {
			monitoring.RecordCacheHit(tracing.CacheTypeGeocode)
			span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeGeocode, true, key)...)
			r.logger.Debug("geocode cache hit", "place", place, "area_id", id)
			return id, nil
		}
		monitoring.RecordCacheMiss(tracing.CacheTypeGeocode)
	}

	candidates, err := r.Search(ctx, place)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return 0, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrGeocodeCandidate, len(candidates)))

	best, ok := Select(candidates)
	if !ok {
		r.logger.Info("no area candidate for place", "place", place, "candidates", len(candidates))
		span.SetStatus(codes.Error, "place not found")
		return 0, core.NewError(core.ErrPlaceNotFound, fmt.Sprintf("no results for place %q", place)).
			WithGuidance("Try a larger or more specific place name.")
	}

	id, err := AreaID(best.OSMType, int64(best.OSMID))
	if err != nil {
		return 0, core.NewError(core.ErrParseError, err.Error()).WithCause(err)
	}

	r.logger.Debug("resolved place",
		"place", place,
		"osm_type", best.OSMType,
		"osm_id", best.OSMID,
		"area_id", id,
		"display_name", best.DisplayName)

	if r.cache != nil {
		r.cache.Add(key, id)
		monitoring.UpdateCacheSize(tracing.CacheTypeGeocode, r.cache.Len())
	}
	span.SetAttributes(attribute.Int64(tracing.AttrAreaID, id))
	span.SetStatus(codes.Ok, "")
	return id, nil
}

// Search queries Nominatim and returns candidates in relevance order.
func (r *Resolver) Search(ctx context.Context, place string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("q", place)
	q.Set("format", "json")
	reqURL := r.baseURL + "/search?" + q.Encode()

	req, err := gosm.NewRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, core.NewError(core.ErrInternalError, "failed to create geocoding request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := gosm.MonitoredDo(ctx, r.client, req, tracing.ServiceNominatim, "search")
	if err != nil {
		r.logger.Error("geocoding request failed", "error", err)
		return nil, core.NewError(core.ErrServiceUnavailable, "failed to communicate with geocoding service").
			WithCause(err)
	}
	defer resp.Body.Close()

	tracing.SetAttributes(ctx, tracing.ServiceAttributes(tracing.ServiceNominatim, "search", reqURL, resp.StatusCode)...)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Error("geocoding service returned error", "status", resp.StatusCode, "body", string(body))
		return nil, core.ServiceError("Nominatim", resp.StatusCode, fmt.Sprintf("HTTP status %d", resp.StatusCode))
	}

	var candidates []Candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		r.logger.Error("failed to decode geocoding response", "error", err)
		return nil, core.NewError(core.ErrParseError, "failed to parse geocoding response").WithCause(err)
	}
	return candidates, nil
}
