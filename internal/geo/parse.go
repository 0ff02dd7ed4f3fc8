package geo

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	kmPerDegreeLat = 111.32
	// circleSegments is the vertex count used when approximating a CAP
	// circle as a polygon.
	circleSegments = 32
)

// ParseCAPPolygon parses a CAP <polygon> value: space-separated "lat,lon"
// pairs. Points are reordered to lon/lat and closed with CloseRing. The
// returned ok flag is CloseRing's validity result.
func ParseCAPPolygon(text string) (ring Ring, ok bool, err error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil, false, fmt.Errorf("cap polygon: %w: empty", ErrMalformed)
	}

	points := make([]Point, 0, len(fields))
	for _, pair := range fields {
		p, err := parseLatLon(pair)
		if err != nil {
			return nil, false, fmt.Errorf("cap polygon: %w", err)
		}
		points = append(points, p)
	}

	ring, ok = CloseRing(points)
	return ring, ok, nil
}

// parseLatLon parses a CAP "lat,lon" pair.
func parseLatLon(pair string) (Point, error) {
	latStr, lonStr, found := strings.Cut(pair, ",")
	if !found {
		return Point{}, fmt.Errorf("%w: pair %q", ErrMalformed, pair)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: latitude %q", ErrMalformed, latStr)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return Point{}, fmt.Errorf("%w: longitude %q", ErrMalformed, lonStr)
	}
	if !ValidCoordinate(lon, lat) {
		return Point{}, fmt.Errorf("%w: lon=%g lat=%g", ErrInvalidCoordinate, lon, lat)
	}
	return Point{Lon: lon, Lat: lat}, nil
}

// ParseGeoJSONPolygon validates a GeoJSON linear ring (positions already in
// [lon, lat] order) and closes it.
func ParseGeoJSONPolygon(positions [][]float64) (ring Ring, ok bool, err error) {
	if len(positions) == 0 {
		return nil, false, fmt.Errorf("geojson polygon: %w: empty ring", ErrMalformed)
	}
	points := make([]Point, 0, len(positions))
	for i, pos := range positions {
		if len(pos) < 2 {
			return nil, false, fmt.Errorf("geojson polygon: %w: position %d has %d values", ErrMalformed, i, len(pos))
		}
		lon, lat := pos[0], pos[1]
		if !ValidCoordinate(lon, lat) {
			return nil, false, fmt.Errorf("geojson polygon: %w: lon=%g lat=%g", ErrInvalidCoordinate, lon, lat)
		}
		points = append(points, Point{Lon: lon, Lat: lat})
	}
	ring, ok = CloseRing(points)
	return ring, ok, nil
}

// Circle is a CAP circle: a center point and a radius in kilometres.
type Circle struct {
	Center   Point   `json:"center"`
	RadiusKm float64 `json:"radius_km"`
}

// ParseCAPCircle parses a CAP <circle> value: "lat,lon radius".
func ParseCAPCircle(text string) (Circle, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return Circle{}, fmt.Errorf("cap circle: %w: %q", ErrMalformed, text)
	}
	center, err := parseLatLon(fields[0])
	if err != nil {
		return Circle{}, fmt.Errorf("cap circle: %w", err)
	}
	radius, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || radius < 0 || math.IsNaN(radius) {
		return Circle{}, fmt.Errorf("cap circle: %w: radius %q", ErrMalformed, fields[1])
	}
	return Circle{Center: center, RadiusKm: radius}, nil
}

// Ring approximates the circle with a closed regular polygon. Longitude
// degrees are scaled by cos(latitude); this is a planar approximation.
func (c Circle) Ring() (Ring, bool) {
	if c.RadiusKm <= 0 {
		return nil, false
	}
	dLat := c.RadiusKm / kmPerDegreeLat
	cosLat := math.Cos(c.Center.Lat * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLon := c.RadiusKm / (kmPerDegreeLat * cosLat)

	points := make([]Point, 0, circleSegments)
	for i := 0; i < circleSegments; i++ {
		theta := 2 * math.Pi * float64(i) / circleSegments
		points = append(points, Point{
			Lon: clamp(c.Center.Lon+dLon*math.Cos(theta), -180, 180),
			Lat: clamp(c.Center.Lat+dLat*math.Sin(theta), -90, 90),
		})
	}
	return CloseRing(points)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Geometry is a GeoJSON geometry object with undecoded coordinates.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// OuterRings returns the outer ring positions of a Polygon or every member
// of a MultiPolygon. Holes are ignored.
func (g Geometry) OuterRings() ([][][]float64, error) {
	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil, fmt.Errorf("decode polygon: %w: %w", ErrMalformed, err)
		}
		if len(rings) == 0 {
			return nil, nil
		}
		return rings[:1], nil
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil {
			return nil, fmt.Errorf("decode multipolygon: %w: %w", ErrMalformed, err)
		}
		out := make([][][]float64, 0, len(polys))
		for _, p := range polys {
			if len(p) > 0 {
				out = append(out, p[0])
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry type %q", ErrMalformed, g.Type)
	}
}

// ToGeoJSON returns r as a GeoJSON Polygon geometry.
func ToGeoJSON(r Ring) Geometry {
	coords := make([][]float64, len(r))
	for i, p := range r {
		coords[i] = []float64{p.Lon, p.Lat}
	}
	raw, _ := json.Marshal([][][]float64{coords}) //nolint:errcheck // float slices always marshal
	return Geometry{Type: "Polygon", Coordinates: raw}
}
