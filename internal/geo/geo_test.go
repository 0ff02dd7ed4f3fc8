package geo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitSquare is counter-clockwise; reversed() gives the clockwise variant.
var unitSquare = Ring{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}

func reversed(r Ring) Ring {
	out := make(Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}

func TestValidCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		lon, lat float64
		expected bool
	}{
		{"putnam county", -84.1, 41.0, true},
		{"lon too large", 181, 41.0, false},
		{"lat too large", -84.1, 91, false},
		{"lon too small", -180.5, 0, false},
		{"edges inclusive", 180, -90, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ValidCoordinate(tt.lon, tt.lat))
		})
	}
}

func TestCloseRing(t *testing.T) {
	t.Run("open ring gets closed", func(t *testing.T) {
		in := []Point{{0, 0}, {0, 1}, {1, 1}}
		ring, ok := CloseRing(in)

		require.True(t, ok)
		assert.Len(t, ring, len(in)+1)
		assert.Equal(t, ring[0], ring[len(ring)-1])
		assert.True(t, ring.Closed())
	})

	t.Run("closed ring unchanged", func(t *testing.T) {
		ring, ok := CloseRing(unitSquare)

		require.True(t, ok)
		assert.Equal(t, unitSquare, ring)
	})

	t.Run("input not aliased", func(t *testing.T) {
		in := []Point{{0, 0}, {0, 1}, {1, 1}}
		ring, _ := CloseRing(in)
		ring[0] = Point{9, 9}
		assert.Equal(t, Point{0, 0}, in[0])
	})

	t.Run("too few distinct points", func(t *testing.T) {
		in := []Point{{0, 0}, {1, 1}, {0, 0}}
		ring, ok := CloseRing(in)

		assert.False(t, ok)
		assert.Equal(t, Ring(in), ring)
	})

	t.Run("empty", func(t *testing.T) {
		ring, ok := CloseRing(nil)
		assert.False(t, ok)
		assert.Empty(t, ring)
	})
}

func TestPointInRing(t *testing.T) {
	for name, ring := range map[string]Ring{"ccw": unitSquare, "cw": reversed(unitSquare)} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, PointInRing(Point{0.5, 0.5}, ring))
			assert.False(t, PointInRing(Point{2, 2}, ring))
			assert.False(t, PointInRing(Point{-0.5, 0.5}, ring))
		})
	}

	t.Run("concave", func(t *testing.T) {
		// U shape opening upward.
		u := Ring{{0, 0}, {3, 0}, {3, 3}, {2, 3}, {2, 1}, {1, 1}, {1, 3}, {0, 3}, {0, 0}}
		assert.True(t, PointInRing(Point{0.5, 2}, u))
		assert.False(t, PointInRing(Point{1.5, 2}, u))
	})

	t.Run("degenerate ring", func(t *testing.T) {
		assert.False(t, PointInRing(Point{0, 0}, Ring{{0, 0}, {1, 1}}))
	})
}

func TestRingsIntersect(t *testing.T) {
	square := func(x, y, size float64) Ring {
		return Ring{{x, y}, {x, y + size}, {x + size, y + size}, {x + size, y}, {x, y}}
	}

	tests := []struct {
		name     string
		a, b     Ring
		expected bool
	}{
		{"overlapping corners", square(0, 0, 2), square(1, 1, 2), true},
		{"a contains b", square(0, 0, 10), square(4, 4, 1), true},
		{"b contains a", square(4, 4, 1), square(0, 0, 10), true},
		{"disjoint", square(0, 0, 1), square(5, 5, 1), false},
		{"cross without contained vertices", Ring{{0, 1}, {3, 1}, {3, 2}, {0, 2}, {0, 1}}, Ring{{1, 0}, {2, 0}, {2, 3}, {1, 3}, {1, 0}}, true},
		{"shared edge", square(0, 0, 1), square(1, 0, 1), true},
		{"bbox overlap only", Ring{{0, 0}, {2, 0}, {0, 2}, {0, 0}}, Ring{{1.9, 1.9}, {2, 1.9}, {2, 2}, {1.9, 1.9}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RingsIntersect(tt.a, tt.b))
			assert.Equal(t, tt.expected, RingsIntersect(tt.b, tt.a), "symmetry")
		})
	}
}

func TestArea(t *testing.T) {
	assert.InDelta(t, 1.0, Area(unitSquare), 1e-12)
	assert.InDelta(t, 1.0, Area(reversed(unitSquare)), 1e-12)
	assert.Zero(t, Area(Ring{{0, 0}, {1, 1}}))
}

func TestParseCAPPolygon(t *testing.T) {
	t.Run("reorders and closes", func(t *testing.T) {
		ring, ok, err := ParseCAPPolygon("41.0,-84.1 41.1,-84.1 41.1,-84.0")
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, Ring{{-84.1, 41.0}, {-84.1, 41.1}, {-84.0, 41.1}, {-84.1, 41.0}}, ring)
	})

	t.Run("already closed", func(t *testing.T) {
		ring, ok, err := ParseCAPPolygon("41.0,-84.1 41.1,-84.1 41.1,-84.0 41.0,-84.1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, ring, 4)
	})

	t.Run("too few points", func(t *testing.T) {
		ring, ok, err := ParseCAPPolygon("41.0,-84.1 41.1,-84.1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Len(t, ring, 2)
	})

	t.Run("out of range", func(t *testing.T) {
		_, _, err := ParseCAPPolygon("91.0,-84.1 41.1,-84.1 41.1,-84.0")
		require.ErrorIs(t, err, ErrInvalidCoordinate)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := ParseCAPPolygon("41.0;-84.1")
		require.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := ParseCAPPolygon("   ")
		require.ErrorIs(t, err, ErrMalformed)
	})
}

func TestParseGeoJSONPolygon(t *testing.T) {
	ring, ok, err := ParseGeoJSONPolygon([][]float64{{-84.1, 41.0}, {-84.1, 41.1}, {-84.0, 41.1}})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Point{-84.1, 41.0}, ring[0])
	assert.Equal(t, ring[0], ring[3])

	_, _, err = ParseGeoJSONPolygon([][]float64{{-184.1, 41.0}, {-84.1, 41.1}, {-84.0, 41.1}})
	require.ErrorIs(t, err, ErrInvalidCoordinate)

	_, _, err = ParseGeoJSONPolygon([][]float64{{-84.1}})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseCAPCircle(t *testing.T) {
	c, err := ParseCAPCircle("41.02,-84.13 10")
	require.NoError(t, err)
	assert.Equal(t, Circle{Center: Point{Lon: -84.13, Lat: 41.02}, RadiusKm: 10}, c)

	ring, ok := c.Ring()
	require.True(t, ok)
	assert.True(t, ring.Closed())
	assert.Len(t, ring, circleSegments+1)
	assert.True(t, PointInRing(c.Center, ring))
	assert.False(t, PointInRing(Point{Lon: -84.13, Lat: 41.2}, ring))

	_, err = ParseCAPCircle("41.02,-84.13")
	require.ErrorIs(t, err, ErrMalformed)

	_, ok = Circle{Center: c.Center}.Ring()
	assert.False(t, ok, "zero radius has no area")
}

func TestWKTRoundTrip(t *testing.T) {
	ring := Ring{{-84.1, 41.0}, {-84.1, 41.1}, {-84.0, 41.1}, {-84.1, 41.0}}

	wkt := ToWKT(ring)
	assert.Equal(t, "POLYGON((-84.1 41, -84.1 41.1, -84 41.1, -84.1 41))", wkt)

	parsed, err := ParseWKT(wkt)
	require.NoError(t, err)
	assert.Equal(t, ring, parsed)
}

func TestParseWKT_PostGISOutput(t *testing.T) {
	ring, err := ParseWKT("POLYGON((0 0,0 1,1 1,1 0,0 0),(0.2 0.2,0.2 0.4,0.4 0.4,0.2 0.2))")
	require.NoError(t, err)
	assert.Equal(t, unitSquare, ring)

	_, err = ParseWKT("POINT(1 2)")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestGeometry_OuterRings(t *testing.T) {
	poly := Geometry{Type: "Polygon", Coordinates: json.RawMessage(`[[[0,0],[0,1],[1,1],[0,0]],[[0.1,0.1],[0.1,0.2],[0.2,0.2],[0.1,0.1]]]`)}
	rings, err := poly.OuterRings()
	require.NoError(t, err)
	assert.Len(t, rings, 1)

	multi := Geometry{Type: "MultiPolygon", Coordinates: json.RawMessage(`[[[[0,0],[0,1],[1,1],[0,0]]],[[[5,5],[5,6],[6,6],[5,5]]]]`)}
	rings, err = multi.OuterRings()
	require.NoError(t, err)
	assert.Len(t, rings, 2)

	_, err = Geometry{Type: "Point", Coordinates: json.RawMessage(`[0,0]`)}.OuterRings()
	require.ErrorIs(t, err, ErrMalformed)
}

func TestToGeoJSON(t *testing.T) {
	g := ToGeoJSON(unitSquare)
	assert.Equal(t, "Polygon", g.Type)
	assert.JSONEq(t, `[[[0,0],[0,1],[1,1],[1,0],[0,0]]]`, string(g.Coordinates))
}
