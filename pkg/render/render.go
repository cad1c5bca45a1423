// Package render draws reconstructed features onto a map collaborator.
package render

import (
	"html"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"

	"github.com/NERVsystems/overpassmap/pkg/filter"
	"github.com/NERVsystems/overpassmap/pkg/geometry"
	"github.com/NERVsystems/overpassmap/pkg/monitoring"
)

// Layer identifies a primitive previously drawn on a Map.
type Layer int

// Map is the drawing surface. Implementations own their layers and view;
// Render only issues instructions.
type Map interface {
	// Marker draws a point marker. icon is empty for the default marker.
	Marker(at orb.Point, icon string) Layer
	Polyline(vertices []orb.Point) Layer
	Polygon(ring orb.Ring) Layer

	// Popup binds HTML content shown when the layer is clicked.
	Popup(l Layer, content string)
	// Label binds a permanent text label to the layer at the given point.
	Label(l Layer, text string, at orb.Point)

	// Bounds returns the union bounding box of the layers.
	Bounds(layers []Layer) orb.Bound
	FitBounds(b orb.Bound)

	Basemap(b Basemap)
}

// Render draws features on m and fits the view to everything drawn.
// An empty feature list draws nothing.
func Render(m Map, features []geometry.Feature, opts filter.DisplayOptions) {
	if len(features) == 0 {
		return
	}

	m.Basemap(ResolveBasemap(opts))

	layers := make([]Layer, 0, len(features))
	for _, f := range features {
		var l Layer
		switch f.Shape.Kind {
		case geometry.Polygon:
			l = m.Polygon(orb.Ring(f.Shape.Vertices))
		case geometry.Polyline:
			l = m.Polyline(f.Shape.Vertices)
		default:
			l = m.Marker(f.Anchor, opts.IconName)
		}
		monitoring.RecordFeatureRendered(f.Shape.Kind.String())
		layers = append(layers, l)

		popup := PopupHTML(f.Tags)
		m.Popup(l, popup)

		if opts.IconName != "" && f.Type == osm.TypeWay {
			c := m.Marker(f.Anchor, opts.IconName)
			m.Popup(c, popup)
			layers = append(layers, c)
		}

		if name, ok := f.Name(); ok && opts.ShowNames {
			m.Label(l, name, f.Anchor)
		}
	}

	m.FitBounds(m.Bounds(layers))
}

// PopupHTML renders tags as one "<b>key</b>=value<br/>" line per tag,
// sorted by key, with keys and values HTML-escaped.
func PopupHTML(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("<b>")
		b.WriteString(html.EscapeString(k))
		b.WriteString("</b>=")
		b.WriteString(html.EscapeString(tags[k]))
		b.WriteString("<br/>")
	}
	return b.String()
}
