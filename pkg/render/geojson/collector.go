// Package geojson collects rendered features into a GeoJSON FeatureCollection.
package geojson

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/NERVsystems/overpassmap/pkg/render"
)

// Collector is a render.Map that builds a FeatureCollection. Each drawn
// primitive becomes one feature with "kind" and optional "icon", "popup",
// "label" and "label_anchor" properties.
type Collector struct {
	fc      *geojson.FeatureCollection
	basemap string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{fc: geojson.NewFeatureCollection()}
}

func (c *Collector) add(kind string, g orb.Geometry) render.Layer {
	f := geojson.NewFeature(g)
	f.Properties["kind"] = kind
	c.fc.Append(f)
	return render.Layer(len(c.fc.Features) - 1)
}

func (c *Collector) Marker(at orb.Point, icon string) render.Layer {
	l := c.add("marker", at)
	if icon != "" {
		c.fc.Features[l].Properties["icon"] = icon
	}
	return l
}

func (c *Collector) Polyline(vertices []orb.Point) render.Layer {
	return c.add("polyline", orb.LineString(vertices))
}

func (c *Collector) Polygon(ring orb.Ring) render.Layer {
	return c.add("polygon", orb.Polygon{ring})
}

func (c *Collector) Popup(l render.Layer, content string) {
	c.fc.Features[l].Properties["popup"] = content
}

func (c *Collector) Label(l render.Layer, text string, at orb.Point) {
	props := c.fc.Features[l].Properties
	props["label"] = text
	props["label_anchor"] = []float64{at.Lon(), at.Lat()}
}

func (c *Collector) Bounds(layers []render.Layer) orb.Bound {
	if len(layers) == 0 {
		return orb.Bound{}
	}
	b := c.fc.Features[layers[0]].Geometry.Bound()
	for _, l := range layers[1:] {
		b = b.Union(c.fc.Features[l].Geometry.Bound())
	}
	return b
}

func (c *Collector) FitBounds(b orb.Bound) {
	c.fc.BBox = geojson.NewBBox(b)
}

func (c *Collector) Basemap(b render.Basemap) {
	c.basemap = b.ID
}

// BasemapID returns the id of the basemap chosen by the renderer.
func (c *Collector) BasemapID() string {
	return c.basemap
}

// FeatureCollection returns the collected features.
func (c *Collector) FeatureCollection() *geojson.FeatureCollection {
	return c.fc
}

// MarshalJSON encodes the collection.
func (c *Collector) MarshalJSON() ([]byte, error) {
	return c.fc.MarshalJSON()
}
