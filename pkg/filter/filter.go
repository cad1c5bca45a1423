// Package filter holds the typed filter model built from map query parameters.
package filter

import (
	"fmt"
	"strings"
)

// ElementType selects which OSM element kinds the query targets.
type ElementType string

// Element types understood by the Overpass interpreter.
const (
	Node     ElementType = "node"
	Way      ElementType = "way"
	Relation ElementType = "relation"
	NWR      ElementType = "nwr"
)

// DefaultElementType is used when no _type option is given.
const DefaultElementType = NWR

// ParseElementType parses an element type keyword.
func ParseElementType(s string) (ElementType, error) {
	switch t := ElementType(strings.ToLower(strings.TrimSpace(s))); t {
	case Node, Way, Relation, NWR:
		return t, nil
	case "":
		return DefaultElementType, nil
	default:
		return "", fmt.Errorf("unknown element type %q", s)
	}
}

// Criterion is a single tag filter. An empty Value only requires the key.
type Criterion struct {
	Key   string
	Value string
}

// KeyOnly reports whether the criterion matches any value of Key.
func (c Criterion) KeyOnly() bool {
	return c.Value == ""
}

// Area is either an unresolved place name or a resolved Overpass area id.
type Area struct {
	place string
	id    int64
}

// PlaceArea returns an unresolved area for a free-text place name.
func PlaceArea(name string) Area {
	return Area{place: name}
}

// ResolvedArea returns an area bound to an Overpass area id.
func ResolvedArea(id int64) Area {
	return Area{id: id}
}

// Resolved reports whether the area carries an id.
func (a Area) Resolved() bool {
	return a.place == "" && a.id != 0
}

// Empty reports whether neither a place nor an id is set.
func (a Area) Empty() bool {
	return a.place == "" && a.id == 0
}

func (a Area) String() string {
	if a.place != "" {
		return "place:" + a.place
	}
	return fmt.Sprintf("area:%d", a.id)
}

// DisplayOptions are the meta options consumed by the renderer.
type DisplayOptions struct {
	ShowNames bool
	IconName  string
	BasemapID string
	WMSURL    string `validate:"omitempty,url"`
	WMSLayers string `validate:"required_with=WMSURL"`
}

// Model is an immutable description of one map query.
type Model struct {
	criteria    []Criterion
	elementType ElementType
	area        Area
	display     DisplayOptions
}

// New builds a model. Duplicate keys overwrite the earlier value in place.
func New(criteria []Criterion, elementType ElementType, area Area, display DisplayOptions) Model {
	if elementType == "" {
		elementType = DefaultElementType
	}
	return Model{
		criteria:    dedupe(criteria),
		elementType: elementType,
		area:        area,
		display:     display,
	}
}

func dedupe(in []Criterion) []Criterion {
	out := make([]Criterion, 0, len(in))
	pos := make(map[string]int, len(in))
	for _, c := range in {
		if i, ok := pos[c.Key]; ok {
			out[i].Value = c.Value
			continue
		}
		pos[c.Key] = len(out)
		out = append(out, c)
	}
	return out
}

// Criteria returns a copy of the criteria in order.
func (m Model) Criteria() []Criterion {
	out := make([]Criterion, len(m.criteria))
	copy(out, m.criteria)
	return out
}

// ElementType returns the element type keyword.
func (m Model) ElementType() ElementType {
	return m.elementType
}

// Area returns the place or area id the model is scoped to.
func (m Model) Area() Area {
	return m.area
}

// Display returns the display options.
func (m Model) Display() DisplayOptions {
	return m.display
}

// AreaID returns the resolved area id, if any.
func (m Model) AreaID() (int64, bool) {
	if !m.area.Resolved() {
		return 0, false
	}
	return m.area.id, true
}

// Place returns the unresolved place name, if any.
func (m Model) Place() (string, bool) {
	if m.area.place == "" {
		return "", false
	}
	return m.area.place, true
}

// WithArea returns a copy of m bound to a resolved area id.
func (m Model) WithArea(id int64) Model {
	m.criteria = m.Criteria()
	m.area = ResolvedArea(id)
	return m
}
