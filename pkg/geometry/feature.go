// Package geometry rebuilds drawable features from a flat Overpass element list.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
)

// ShapeKind is the drawable form of a feature.
type ShapeKind int

const (
	Point ShapeKind = iota
	Polyline
	Polygon
)

func (k ShapeKind) String() string {
	switch k {
	case Point:
		return "point"
	case Polyline:
		return "polyline"
	case Polygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// Shape holds the vertices of a feature in member order. A polygon's ring
// repeats its first vertex at the end.
type Shape struct {
	Kind     ShapeKind
	Vertices []orb.Point
}

// Geometry returns the shape as an orb geometry.
func (s Shape) Geometry() orb.Geometry {
	switch s.Kind {
	case Polygon:
		return orb.Polygon{orb.Ring(s.Vertices)}
	case Polyline:
		return orb.LineString(s.Vertices)
	default:
		if len(s.Vertices) == 0 {
			return orb.Point{}
		}
		return s.Vertices[0]
	}
}

// Bound returns the bounding box of the vertices.
func (s Shape) Bound() orb.Bound {
	return orb.MultiPoint(s.Vertices).Bound()
}

// Feature is a tagged node or way ready to be drawn.
type Feature struct {
	ID     int64
	Type   osm.Type
	Anchor orb.Point
	Shape  Shape
	Tags   map[string]string
}

// Name returns the name tag, if present.
func (f Feature) Name() (string, bool) {
	name, ok := f.Tags["name"]
	return name, ok && name != ""
}
