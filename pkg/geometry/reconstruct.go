package geometry

import (
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/NERVsystems/overpassmap/pkg/core"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
	gosm "github.com/NERVsystems/overpassmap/pkg/osm"
)

// Reconstructor turns Overpass elements into features.
//
// By default a way that references a node absent from the response aborts
// reconstruction with DanglingReference. With SkipDangling set the way is
// dropped and logged instead.
type Reconstructor struct {
	SkipDangling bool
	Logger       *slog.Logger
}

// Reconstruct builds features with the default abort policy.
func Reconstruct(elements []gosm.Element) ([]Feature, error) {
	return Reconstructor{}.Reconstruct(elements)
}

// Reconstruct returns node features followed by way features, each group in
// response order. Relations and untagged elements produce no features.
func (r Reconstructor) Reconstruct(elements []gosm.Element) ([]Feature, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default().With("component", "geometry")
	}

	index := make(map[osm.NodeID]orb.Point)
	for _, e := range elements {
		if e.Type == osm.TypeNode {
			index[osm.NodeID(e.ID)] = orb.Point{e.Lon, e.Lat}
		}
	}

	var nodes, ways []Feature
	for _, e := range elements {
		if !e.Tagged() {
			continue
		}
		switch e.Type {
		case osm.TypeNode:
			p := orb.Point{e.Lon, e.Lat}
			nodes = append(nodes, Feature{
				ID:     e.ID,
				Type:   osm.TypeNode,
				Anchor: p,
				Shape:  Shape{Kind: Point, Vertices: []orb.Point{p}},
				Tags:   e.Tags,
			})
		case osm.TypeWay:
			f, err := wayFeature(e, index)
			if err != nil {
				if r.SkipDangling {
					logger.Warn("skipping way", "way_id", e.ID, "error", err)
					monitoring.RecordDanglingWaySkipped()
					continue
				}
				return nil, err
			}
			ways = append(ways, f)
		}
	}

	if len(nodes)+len(ways) == 0 {
		return nil, core.NewError(core.ErrEmptyResult, "no data found").
			WithGuidance("No tagged nodes or ways matched the filters in this area.")
	}

	return append(nodes, ways...), nil
}

func wayFeature(e gosm.Element, index map[osm.NodeID]orb.Point) (Feature, error) {
	if len(e.Nodes) < 2 {
		return Feature{}, core.NewError(core.ErrDanglingReference,
			fmt.Sprintf("way %d has %d member nodes", e.ID, len(e.Nodes)))
	}

	vertices := make([]orb.Point, len(e.Nodes))
	for i, id := range e.Nodes {
		p, ok := index[id]
		if !ok {
			return Feature{}, core.NewError(core.ErrDanglingReference,
				fmt.Sprintf("way %d references missing node %d", e.ID, id))
		}
		vertices[i] = p
	}

	kind := Polyline
	if vertices[0].Equal(vertices[len(vertices)-1]) {
		kind = Polygon
	}

	shape := Shape{Kind: kind, Vertices: vertices}
	return Feature{
		ID:     e.ID,
		Type:   osm.TypeWay,
		Anchor: shape.Bound().Center(),
		Shape:  shape,
		Tags:   e.Tags,
	}, nil
}
