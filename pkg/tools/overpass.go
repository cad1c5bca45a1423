package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/filter"
	"github.com/NERVsystems/overpassmap/pkg/render/geojson"
)

const queryDescription = "URL query string of tag filters and underscore-prefixed options, " +
	"e.g. \"amenity=drinking_water&_place=Berlin&_names\". Options: _type (node, way, relation, nwr), " +
	"_place (place name), _area (Overpass area id), _names, _icon, _basemap, _wms_url, _wms_layers."

// QueryInput is the input of overpass_map and overpass_query.
type QueryInput struct {
	Query string `json:"query"`
}

// MapOutput is the result of overpass_map.
type MapOutput struct {
	AreaID       int64           `json:"area_id"`
	Query        string          `json:"query"`
	FeatureCount int             `json:"feature_count"`
	Basemap      string          `json:"basemap,omitempty"`
	GeoJSON      json.RawMessage `json:"geojson"`
}

// QueryOutput is the result of overpass_query.
type QueryOutput struct {
	AreaID int64  `json:"area_id"`
	Query  string `json:"query"`
}

// AreaInput is the input of resolve_area.
type AreaInput struct {
	Place string `json:"place"`
}

// AreaOutput is the result of resolve_area.
type AreaOutput struct {
	Place  string `json:"place"`
	AreaID int64  `json:"area_id"`
}

// OverpassMapTool returns the tool definition for overpass_map.
func OverpassMapTool() mcp.Tool {
	return mcp.NewTool("overpass_map",
		mcp.WithDescription("Find OpenStreetMap features matching tag filters inside a named place or area and return them as GeoJSON with popups and labels"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description(queryDescription),
		),
	)
}

// OverpassQueryTool returns the tool definition for overpass_query.
func OverpassQueryTool() mcp.Tool {
	return mcp.NewTool("overpass_query",
		mcp.WithDescription("Build the Overpass QL query for a set of tag filters without running it"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description(queryDescription),
		),
	)
}

// ResolveAreaTool returns the tool definition for resolve_area.
func ResolveAreaTool() mcp.Tool {
	return mcp.NewTool("resolve_area",
		mcp.WithDescription("Resolve a place name to the Overpass area id of its bounding way or relation"),
		mcp.WithString("place",
			mcp.Required(),
			mcp.Description("Place name, e.g. \"Berlin\" or \"Lake Constance\""),
		),
	)
}

func parseQuery(raw string) (filter.Model, error) {
	if strings.TrimSpace(raw) == "" {
		return filter.Model{}, core.NewValidationError("query is required")
	}
	return filter.ParseQuery(raw)
}

func (r *Registry) overpassMap(ctx context.Context, input QueryInput, logger *slog.Logger) (interface{}, error) {
	model, err := parseQuery(input.Query)
	if err != nil {
		return nil, err
	}

	collector := geojson.NewCollector()
	res, err := r.pipeline.Run(ctx, model, collector)
	if err != nil {
		return nil, err
	}

	fc, err := collector.MarshalJSON()
	if err != nil {
		return nil, core.NewError(core.ErrInternalError, "failed to encode features").WithCause(err)
	}

	logger.Debug("map built", "area_id", res.AreaID, "features", len(res.Features))
	return MapOutput{
		AreaID:       res.AreaID,
		Query:        res.Query,
		FeatureCount: len(res.Features),
		Basemap:      collector.BasemapID(),
		GeoJSON:      fc,
	}, nil
}

func (r *Registry) overpassQuery(ctx context.Context, input QueryInput, logger *slog.Logger) (interface{}, error) {
	model, err := parseQuery(input.Query)
	if err != nil {
		return nil, err
	}

	q, err := r.pipeline.Prepare(ctx, model)
	if err != nil {
		return nil, err
	}
	return QueryOutput{AreaID: q.AreaID, Query: q.Text}, nil
}

func (r *Registry) resolveArea(ctx context.Context, input AreaInput, logger *slog.Logger) (interface{}, error) {
	place := strings.TrimSpace(input.Place)
	if place == "" {
		return nil, core.NewValidationError("place is required")
	}
	if r.pipeline.Resolver == nil {
		return nil, core.NewError(core.ErrInternalError, "no area resolver configured")
	}

	id, err := r.pipeline.Resolver.Resolve(ctx, place)
	if err != nil {
		return nil, err
	}
	return AreaOutput{Place: place, AreaID: id}, nil
}
