// Package geo is the planar geometry kernel used for alert polygons and
// district boundaries.
//
// All coordinates are WGS-84 degrees held as float64 and treated as planar
// x/y values (x = longitude, y = latitude). There is no re-projection and no
// geodesic math; at county scale the error is well below the precision of the
// NWS polygons themselves.
package geo

import (
	"errors"
	"math"
)

var (
	// ErrInvalidCoordinate is returned when a longitude or latitude falls
	// outside the WGS-84 range.
	ErrInvalidCoordinate = errors.New("coordinate out of range")
	// ErrMalformed is returned when geometry text cannot be parsed.
	ErrMalformed = errors.New("malformed geometry")
)

// Point is a longitude/latitude pair.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Ring is an ordered list of points describing a polygon boundary. A valid
// ring has at least four points and its first point equals its last.
type Ring []Point

// ValidCoordinate reports whether lon is within [-180, 180] and lat within
// [-90, 90].
func ValidCoordinate(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// CloseRing returns a closed copy of points and whether it forms a valid ring.
//
// The first point is appended when the last point differs from it. Inputs
// with fewer than three distinct points cannot enclose an area; they are
// returned unchanged (copied, not closed) with ok=false so callers can keep
// them for diagnostics.
func CloseRing(points []Point) (ring Ring, ok bool) {
	ring = make(Ring, len(points), len(points)+1)
	copy(ring, points)

	if distinctPoints(points) < 3 {
		return ring, false
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring, true
}

// Closed reports whether r has at least four points and first == last.
func (r Ring) Closed() bool {
	return len(r) >= 4 && r[0] == r[len(r)-1]
}

func distinctPoints(points []Point) int {
	seen := make(map[Point]struct{}, len(points))
	for _, p := range points {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// PointInRing reports whether p lies inside r using the even-odd ray-casting
// rule. The result does not depend on winding direction. Points exactly on an
// edge or vertex may be reported either way; callers must not rely on
// boundary behavior.
func PointInRing(p Point, r Ring) bool {
	inside := false
	n := len(r)
	if n < 3 {
		return false
	}
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r[i], r[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) &&
			p.Lon < (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lon {
			inside = !inside
		}
	}
	return inside
}

// RingsIntersect reports whether two rings overlap or touch. It checks vertex
// containment in both directions and then every edge pair for a crossing.
// This is a simplified test for small simple polygons, not a general
// clipping algorithm.
func RingsIntersect(a, b Ring) bool {
	if len(a) < 3 || len(b) < 3 {
		return false
	}
	if !a.Bounds().Overlaps(b.Bounds()) {
		return false
	}
	for _, p := range a {
		if PointInRing(p, b) {
			return true
		}
	}
	for _, p := range b {
		if PointInRing(p, a) {
			return true
		}
	}
	for i := 0; i+1 < len(a); i++ {
		for j := 0; j+1 < len(b); j++ {
			if segmentsIntersect(a[i], a[i+1], b[j], b[j+1]) {
				return true
			}
		}
	}
	return false
}

// Area returns the planar area of r in square degrees (shoelace formula).
func Area(r Ring) float64 {
	if len(r) < 3 {
		return 0
	}
	var sum float64
	for i := range r {
		j := (i + 1) % len(r)
		sum += r[i].Lon*r[j].Lat - r[j].Lon*r[i].Lat
	}
	return math.Abs(sum) / 2
}

// BBox is an axis-aligned bounding box.
type BBox struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// Bounds returns the bounding box of r.
func (r Ring) Bounds() BBox {
	if len(r) == 0 {
		return BBox{}
	}
	b := BBox{MinLon: r[0].Lon, MaxLon: r[0].Lon, MinLat: r[0].Lat, MaxLat: r[0].Lat}
	for _, p := range r[1:] {
		b.MinLon = math.Min(b.MinLon, p.Lon)
		b.MaxLon = math.Max(b.MaxLon, p.Lon)
		b.MinLat = math.Min(b.MinLat, p.Lat)
		b.MaxLat = math.Max(b.MaxLat, p.Lat)
	}
	return b
}

// Overlaps reports whether two boxes share any point, edges included.
func (b BBox) Overlaps(o BBox) bool {
	return b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon &&
		b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat
}

// cross is the z component of (b-a) x (c-a).
func cross(a, b, c Point) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

// onSegment reports whether c, known to be collinear with a-b, lies within
// the segment's bounding box.
func onSegment(a, b, c Point) bool {
	return math.Min(a.Lon, b.Lon) <= c.Lon && c.Lon <= math.Max(a.Lon, b.Lon) &&
		math.Min(a.Lat, b.Lat) <= c.Lat && c.Lat <= math.Max(a.Lat, b.Lat)
}

func segmentsIntersect(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(q1, q2, p1):
		return true
	case d2 == 0 && onSegment(q1, q2, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, q1):
		return true
	case d4 == 0 && onSegment(p1, p2, q2):
		return true
	}
	return false
}
