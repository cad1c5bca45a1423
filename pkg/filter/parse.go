package filter

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/NERVsystems/overpassmap/pkg/core"
)

// MetaPrefix marks query keys that configure the map instead of filtering.
const MetaPrefix = "_"

// Recognized meta keys
const (
	MetaType      = "_type"
	MetaPlace     = "_place"
	MetaArea      = "_area"
	MetaNames     = "_names"
	MetaIcon      = "_icon"
	MetaBasemap   = "_basemap"
	MetaWMS       = "_wms"
	MetaWMSURL    = "_wms_url"
	MetaWMSLayers = "_wms_layers"
)

// ParseQuery parses a raw query string, keeping criteria in the order they appear.
func ParseQuery(raw string) (Model, error) {
	raw = strings.TrimPrefix(raw, "?")
	var pairs [][2]string
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return Model{}, core.NewValidationError("malformed query key " + strconv.Quote(k)).WithCause(err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return Model{}, core.NewValidationError("malformed value for " + strconv.Quote(key)).WithCause(err)
		}
		pairs = append(pairs, [2]string{key, value})
	}
	return fromPairs(pairs)
}

// Parse builds a model from decoded query values. url.Values loses the
// original key order, so criteria are sorted by key.
func Parse(values url.Values) (Model, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var pairs [][2]string
	for _, k := range keys {
		for _, v := range values[k] {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	return fromPairs(pairs)
}

func fromPairs(pairs [][2]string) (Model, error) {
	var criteria []Criterion
	meta := make(map[string]string)
	namesSet := false

	for _, p := range pairs {
		key, value := p[0], p[1]
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, MetaPrefix) {
			meta[key] = value
			if key == MetaNames {
				namesSet = true
			}
			continue
		}
		criteria = append(criteria, Criterion{Key: key, Value: value})
	}

	elementType, err := ParseElementType(meta[MetaType])
	if err != nil {
		return Model{}, core.NewValidationError(err.Error())
	}

	// A place is resolved and replaces any _area given alongside it.
	var area Area
	if place := strings.TrimSpace(meta[MetaPlace]); place != "" {
		area = PlaceArea(place)
	} else if raw := meta[MetaArea]; raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return Model{}, core.NewValidationError("_area must be a positive integer, got " + strconv.Quote(raw))
		}
		area = ResolvedArea(id)
	}

	wmsURL := meta[MetaWMSURL]
	if wmsURL == "" {
		wmsURL = meta[MetaWMS]
	}

	display := DisplayOptions{
		ShowNames: namesSet,
		IconName:  meta[MetaIcon],
		BasemapID: meta[MetaBasemap],
		WMSURL:    wmsURL,
		WMSLayers: meta[MetaWMSLayers],
	}

	return New(criteria, elementType, area, display), nil
}

// Encode renders the model back into a query string.
func (m Model) Encode() string {
	var parts []string
	for _, c := range m.criteria {
		parts = append(parts, url.QueryEscape(c.Key)+"="+url.QueryEscape(c.Value))
	}
	add := func(k, v string) {
		parts = append(parts, k+"="+url.QueryEscape(v))
	}
	add(MetaType, string(m.elementType))
	if id, ok := m.AreaID(); ok {
		add(MetaArea, strconv.FormatInt(id, 10))
	} else if place, ok := m.Place(); ok {
		add(MetaPlace, place)
	}
	d := m.display
	if d.ShowNames {
		parts = append(parts, MetaNames)
	}
	if d.IconName != "" {
		add(MetaIcon, d.IconName)
	}
	if d.BasemapID != "" {
		add(MetaBasemap, d.BasemapID)
	}
	if d.WMSURL != "" {
		add(MetaWMSURL, d.WMSURL)
	}
	if d.WMSLayers != "" {
		add(MetaWMSLayers, d.WMSLayers)
	}
	return strings.Join(parts, "&")
}
