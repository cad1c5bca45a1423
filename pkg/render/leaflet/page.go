// Package leaflet renders features into a standalone Leaflet HTML page.
package leaflet

import (
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/paulmach/orb"

	"github.com/NERVsystems/overpassmap/pkg/filter"
	"github.com/NERVsystems/overpassmap/pkg/render"
)

// Page records draw instructions and writes them as an HTML document.
// A Page is not safe for concurrent use.
type Page struct {
	Title string
	// IconURL is a URL pattern for custom marker icons; "{icon}" is
	// replaced by the escaped icon name.
	IconURL string

	layers  []layer
	basemap render.Basemap
	fit     *orb.Bound
	message string
}

type layer struct {
	Kind   string       `json:"kind"`
	Points [][2]float64 `json:"points"`
	Icon   string       `json:"icon,omitempty"`
	Popup  string       `json:"popup,omitempty"`
	Label  string       `json:"label,omitempty"`

	bound orb.Bound
}

// NewPage creates an empty page with the default basemap.
func NewPage(title, iconURL string) *Page {
	return &Page{
		Title:   title,
		IconURL: iconURL,
		basemap: render.ResolveBasemap(filter.DisplayOptions{}),
	}
}

// latLngs converts lon/lat points to Leaflet's lat/lng order.
func latLngs(points []orb.Point) [][2]float64 {
	out := make([][2]float64, len(points))
	for i, p := range points {
		out[i] = [2]float64{p.Lat(), p.Lon()}
	}
	return out
}

func (p *Page) add(l layer) render.Layer {
	p.layers = append(p.layers, l)
	return render.Layer(len(p.layers) - 1)
}

func (p *Page) Marker(at orb.Point, icon string) render.Layer {
	return p.add(layer{Kind: "marker", Points: latLngs([]orb.Point{at}), Icon: p.iconURL(icon), bound: at.Bound()})
}

func (p *Page) Polyline(vertices []orb.Point) render.Layer {
	return p.add(layer{Kind: "polyline", Points: latLngs(vertices), bound: orb.LineString(vertices).Bound()})
}

func (p *Page) Polygon(ring orb.Ring) render.Layer {
	return p.add(layer{Kind: "polygon", Points: latLngs(ring), bound: ring.Bound()})
}

func (p *Page) Popup(l render.Layer, content string) {
	p.layers[l].Popup = content
}

// Label binds a permanent tooltip. Leaflet places tooltips at the layer's own
// centre, so for lines and areas the anchor is kept as an invisible marker.
func (p *Page) Label(l render.Layer, text string, at orb.Point) {
	if p.layers[l].Kind == "marker" {
		p.layers[l].Label = text
		return
	}
	p.add(layer{Kind: "label", Points: latLngs([]orb.Point{at}), Label: text, bound: at.Bound()})
}

func (p *Page) Bounds(layers []render.Layer) orb.Bound {
	if len(layers) == 0 {
		return orb.Bound{}
	}
	b := p.layers[layers[0]].bound
	for _, l := range layers[1:] {
		b = b.Union(p.layers[l].bound)
	}
	return b
}

func (p *Page) FitBounds(b orb.Bound) {
	p.fit = &b
}

func (p *Page) Basemap(b render.Basemap) {
	p.basemap = b
}

// SetMessage shows a notice over the map, used when there is nothing to draw.
func (p *Page) SetMessage(msg string) {
	p.message = msg
}

// Len returns the number of recorded layers.
func (p *Page) Len() int {
	return len(p.layers)
}

func (p *Page) iconURL(icon string) string {
	if icon == "" || p.IconURL == "" {
		return ""
	}
	return strings.ReplaceAll(p.IconURL, "{icon}", url.PathEscape(icon))
}

type pageData struct {
	Title   string
	Basemap render.Basemap
	Layers  []layer
	Fit     [][2]float64
	Message string
}

// WriteTo writes the HTML document.
func (p *Page) WriteTo(w io.Writer) (int64, error) {
	data := pageData{
		Title:   p.Title,
		Basemap: p.basemap,
		Layers:  p.layers,
		Message: p.message,
	}
	if data.Layers == nil {
		data.Layers = []layer{}
	}
	if p.fit != nil {
		data.Fit = latLngs([]orb.Point{p.fit.Min, p.fit.Max})
	}

	cw := &countingWriter{w: w}
	err := pageTemplate.Execute(cw, data)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(b []byte) (int, error) {
	n, err := c.w.Write(b)
	c.n += int64(n)
	return n, err
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<link rel="stylesheet" href="https://unpkg.com/leaflet@1.9.4/dist/leaflet.css" crossorigin="">
<script src="https://unpkg.com/leaflet@1.9.4/dist/leaflet.js" crossorigin=""></script>
<style>
html, body, #map { height: 100%; margin: 0; }
#message { position: absolute; top: 10px; left: 50%; transform: translateX(-50%); z-index: 1000;
  background: #fff; padding: 8px 16px; border-radius: 4px; box-shadow: 0 1px 4px rgba(0,0,0,.4); font: 14px sans-serif; }
</style>
</head>
<body>
<div id="map"></div>
{{if .Message}}<div id="message">{{.Message}}</div>{{end}}
<script>
(function () {
  var map = L.map("map").setView([0, 0], 2);
  var basemap = {{.Basemap}};
  if (basemap.WMS) {
    L.tileLayer.wms(basemap.URL, {layers: basemap.Layers, format: "image/png", transparent: false, attribution: basemap.Attribution}).addTo(map);
  } else {
    L.tileLayer(basemap.URL, {maxZoom: basemap.MaxZoom, attribution: basemap.Attribution}).addTo(map);
  }

  var layers = {{.Layers}};
  layers.forEach(function (l) {
    var layer;
    switch (l.kind) {
    case "polyline":
      layer = L.polyline(l.points);
      break;
    case "polygon":
      layer = L.polygon(l.points);
      break;
    case "label":
      layer = L.circleMarker(l.points[0], {radius: 0, opacity: 0, fillOpacity: 0});
      break;
    default:
      var opts = {};
      if (l.icon) {
        opts.icon = L.icon({iconUrl: l.icon, iconSize: [32, 32], iconAnchor: [16, 32], popupAnchor: [0, -32]});
      }
      layer = L.marker(l.points[0], opts);
    }
    if (l.popup) {
      layer.bindPopup(l.popup);
    }
    if (l.label) {
      layer.bindTooltip(l.label, {permanent: true, direction: "right"});
    }
    layer.addTo(map);
  });

  var fit = {{.Fit}};
  if (fit) {
    map.fitBounds(fit, {maxZoom: 18});
  }
})();
</script>
</body>
</html>
`))
