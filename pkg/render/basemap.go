package render

import (
	"github.com/NERVsystems/overpassmap/pkg/filter"
)

// Basemap describes the tile source drawn under the features.
type Basemap struct {
	ID          string
	URL         string
	Attribution string
	MaxZoom     int

	// WMS basemaps use URL as the service endpoint and request Layers.
	WMS    bool
	Layers string
}

// DefaultBasemapID is used when no basemap, or an unknown one, is requested.
const DefaultBasemapID = "osm"

const osmAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`

var basemaps = map[string]Basemap{
	"osm": {
		ID:          "osm",
		URL:         "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		Attribution: osmAttribution,
		MaxZoom:     19,
	},
	"osm-hot": {
		ID:          "osm-hot",
		URL:         "https://{s}.tile.openstreetmap.fr/hot/{z}/{x}/{y}.png",
		Attribution: osmAttribution + `, Tiles style by <a href="https://www.hotosm.org/">Humanitarian OpenStreetMap Team</a>`,
		MaxZoom:     19,
	},
	"opentopomap": {
		ID:          "opentopomap",
		URL:         "https://{s}.tile.opentopomap.org/{z}/{x}/{y}.png",
		Attribution: osmAttribution + `, <a href="https://opentopomap.org">OpenTopoMap</a> (CC-BY-SA)`,
		MaxZoom:     17,
	},
}

// Basemaps returns the ids of the built-in tile sources.
func Basemaps() []string {
	return []string{"osm", "osm-hot", "opentopomap"}
}

// ResolveBasemap picks the tile source for the display options. A WMS URL
// wins over a named basemap.
func ResolveBasemap(opts filter.DisplayOptions) Basemap {
	if opts.WMSURL != "" {
		return Basemap{
			ID:          "wms",
			URL:         opts.WMSURL,
			Attribution: osmAttribution,
			MaxZoom:     19,
			WMS:         true,
			Layers:      opts.WMSLayers,
		}
	}
	if b, ok := basemaps[opts.BasemapID]; ok {
		return b
	}
	return basemaps[DefaultBasemapID]
}
