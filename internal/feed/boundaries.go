package feed

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
)

// boundaryNameKeys are the property keys that carry a district's name in the
// county GIS layers, in order of preference.
var boundaryNameKeys = []string{"TELNAME", "District", "DEPT", "TOWNSHIP_N", "CORPORATIO", "COMPNAME", "NAME"}

type boundaryFeature struct {
	Geometry   *geo.Geometry  `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// ParseBoundaries reads a GeoJSON FeatureCollection of district polygons for
// one category. MultiPolygon features become one boundary per member polygon,
// all sharing the feature's name and properties. Features with no usable name
// or geometry are skipped and counted.
func ParseBoundaries(r io.Reader, category string) (bs []domain.Boundary, skipped int, err error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, 0, fmt.Errorf("%w: boundary category is required", domain.ErrConfig)
	}

	var fc struct {
		Type     string            `json:"type"`
		Features []boundaryFeature `json:"features"`
	}
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, 0, fmt.Errorf("%w: boundary collection: %w", domain.ErrParse, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, 0, fmt.Errorf("%w: expected FeatureCollection, got %q", domain.ErrParse, fc.Type)
	}

	for _, f := range fc.Features {
		name := boundaryName(f.Properties)
		if name == "" || f.Geometry == nil {
			skipped++
			continue
		}
		rings, err := f.Geometry.OuterRings()
		if err != nil {
			skipped++
			continue
		}
		added := 0
		for _, positions := range rings {
			ring, ok, err := geo.ParseGeoJSONPolygon(positions)
			if err != nil || !ok {
				continue
			}
			bs = append(bs, domain.Boundary{Name: name, Category: category, Ring: ring, Properties: f.Properties})
			added++
		}
		if added == 0 {
			skipped++
		}
	}
	return bs, skipped, nil
}

func boundaryName(props map[string]any) string {
	for _, key := range boundaryNameKeys {
		v, ok := props[key]
		if !ok || v == nil {
			continue
		}
		var s string
		if str, isStr := v.(string); isStr {
			s = str
		} else {
			s = fmt.Sprint(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
