package osm

import (
	"github.com/paulmach/osm"
)

// Element represents an element returned from the Overpass API
type Element struct {
	ID    int64             `json:"id"`
	Type  osm.Type          `json:"type"`
	Lat   float64           `json:"lat,omitempty"`
	Lon   float64           `json:"lon,omitempty"`
	Tags  map[string]string `json:"tags,omitempty"`
	Nodes []osm.NodeID      `json:"nodes,omitempty"` // For ways, list of node IDs
}

// Tagged reports whether the element carries at least one tag.
func (e Element) Tagged() bool {
	return len(e.Tags) > 0
}

// Response is the body returned by the Overpass interpreter for [out:json].
type Response struct {
	Version   float64   `json:"version,omitempty"`
	Generator string    `json:"generator,omitempty"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}
