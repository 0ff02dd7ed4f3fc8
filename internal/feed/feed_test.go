package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func TestNew(t *testing.T) {
	f, err := New("CAP")
	require.NoError(t, err)
	assert.Equal(t, FormatCAP, f.Name())

	f, err = New("geojson")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoJSON, f.Name())

	_, err = New("rss")
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestCAPFormat_ParseIndex(t *testing.T) {
	entries, err := CAPFormat{}.ParseIndex(readFixture(t, "index.atom"))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "urn:oid:2.49.0.1.840.0.a1.001.1", entries[0].ID)
	assert.Equal(t, "https://api.weather.gov/alerts/urn:oid:2.49.0.1.840.0.a1.001.1.cap", entries[0].DetailURL)
	assert.True(t, strings.HasPrefix(entries[0].Title, "Tornado Warning"))
	assert.Equal(t, "https://api.weather.gov/alerts/urn:oid:2.49.0.1.840.0.a1.002.1.cap", entries[1].DetailURL)
}

func TestCAPFormat_ParseIndex_Malformed(t *testing.T) {
	_, err := CAPFormat{}.ParseIndex([]byte("<feed><entry>"))
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestCAPFormat_Normalize_Polygon(t *testing.T) {
	entry := Entry{ID: "urn:oid:2.49.0.1.840.0.a1.001.1", Title: "Tornado Warning"}
	alert, err := CAPFormat{}.Normalize(entry, readFixture(t, "tornado.cap.xml"))
	require.NoError(t, err)

	assert.Equal(t, "urn:oid:2.49.0.1.840.0.a1.001.1", alert.ExternalID)
	assert.Equal(t, "Tornado Warning", alert.EventType)
	assert.Equal(t, domain.CategorySevere, alert.Category)
	assert.Equal(t, "Extreme", alert.Severity)
	assert.Equal(t, "Immediate", alert.Urgency)
	assert.Equal(t, "Observed", alert.Certainty)
	assert.Equal(t, "Alert", alert.MessageType)
	assert.Equal(t, "Shelter", alert.ResponseType)
	assert.Equal(t, domain.StatusActive, alert.Status)
	assert.Contains(t, alert.Description, "confirmed tornado")

	assert.Equal(t, time.Date(2024, 4, 26, 19, 10, 0, 0, time.UTC), alert.EffectiveAt)
	assert.Equal(t, time.Date(2024, 4, 26, 19, 45, 0, 0, time.UTC), alert.ExpiresAt)
	assert.True(t, alert.EndsAt.IsZero())
	assert.Equal(t, alert.ExpiresAt, alert.EffectiveEnd())

	wantGeocodes := []domain.Geocode{
		{Scheme: domain.SchemeJurisdiction, Value: "039137"},
		{Scheme: domain.SchemeZone, Value: "OHC137"},
	}
	if diff := cmp.Diff(wantGeocodes, alert.Geocodes); diff != "" {
		t.Errorf("geocodes mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, domain.GeometryPolygon, alert.Geometry.Kind)
	assert.True(t, alert.GeometryValid)
	assert.False(t, alert.IsCountyWide)
	require.Len(t, alert.Geometry.Ring, 5)
	assert.Equal(t, geo.Point{Lon: -84.25, Lat: 41.02}, alert.Geometry.Ring[0])
}

func TestCAPFormat_Normalize_CountyWide(t *testing.T) {
	alert, err := CAPFormat{}.Normalize(Entry{}, readFixture(t, "countywide.cap.xml"))
	require.NoError(t, err)

	assert.Equal(t, domain.CategoryWind, alert.Category)
	assert.Equal(t, domain.GeometryNone, alert.Geometry.Kind)
	assert.False(t, alert.GeometryValid)
	assert.True(t, alert.IsCountyWide)
	// No <effective>: falls back to <sent>.
	assert.Equal(t, time.Date(2024, 4, 26, 18, 0, 0, 0, time.UTC), alert.EffectiveAt)
	assert.Equal(t, time.Date(2024, 4, 27, 6, 0, 0, 0, time.UTC), alert.EndsAt)
	assert.Len(t, alert.Geocodes, 3)
	assert.True(t, domain.InScope(alert, "039137"))
	assert.True(t, domain.InScope(alert, "039069"))
}

func capDocument(id, msgType, expires, area string) []byte {
	return []byte(`<alert xmlns="urn:oasis:names:tc:emergency:cap:1.2">
  <identifier>` + id + `</identifier>
  <sent>2024-04-26T15:10:00-04:00</sent>
  <msgType>` + msgType + `</msgType>
  <info>
    <event>Flood Warning</event>
    <expires>` + expires + `</expires>
    <headline>Flood Warning</headline>
    <area>` + area + `<geocode><valueName>SAME</valueName><value>039137</value></geocode></area>
  </info>
</alert>`)
}

func TestCAPFormat_Normalize_Errors(t *testing.T) {
	const validExpires = "2024-04-26T18:00:00-04:00"

	tests := []struct {
		name    string
		detail  []byte
		wantErr error
	}{
		{"malformed timestamp", capDocument("a", "Alert", "tomorrow-ish", ""), domain.ErrNormalize},
		{"missing expires", capDocument("a", "Alert", "", ""), domain.ErrNormalize},
		{"bad polygon", capDocument("a", "Alert", validExpires, "<polygon>41.0,-84.1 95.0,-84.0 41.1,-84.0</polygon>"), domain.ErrGeometry},
		{"bad circle", capDocument("a", "Alert", validExpires, "<circle>41.0,-84.1</circle>"), domain.ErrGeometry},
		{"not xml", []byte("<<<"), domain.ErrParse},
		{"no info", []byte("<alert><identifier>a</identifier></alert>"), domain.ErrNormalize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CAPFormat{}.Normalize(Entry{ID: "a"}, tt.detail)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCAPFormat_Normalize_Geometry(t *testing.T) {
	const expires = "2024-04-26T18:00:00-04:00"

	t.Run("degenerate polygon kept but invalid", func(t *testing.T) {
		alert, err := CAPFormat{}.Normalize(Entry{}, capDocument("a", "Alert", expires, "<polygon>41.0,-84.1 41.1,-84.1</polygon>"))
		require.NoError(t, err)
		assert.Equal(t, domain.GeometryPolygon, alert.Geometry.Kind)
		assert.False(t, alert.GeometryValid)
		assert.Len(t, alert.Geometry.Ring, 2)
		assert.False(t, alert.IsCountyWide)
	})

	t.Run("circle", func(t *testing.T) {
		alert, err := CAPFormat{}.Normalize(Entry{}, capDocument("a", "Alert", expires, "<circle>41.02,-84.13 8.5</circle>"))
		require.NoError(t, err)
		assert.Equal(t, domain.GeometryCircle, alert.Geometry.Kind)
		require.NotNil(t, alert.Geometry.Circle)
		assert.Equal(t, 8.5, alert.Geometry.Circle.RadiusKm)
		assert.True(t, alert.GeometryValid)
	})

	t.Run("cancel message", func(t *testing.T) {
		alert, err := CAPFormat{}.Normalize(Entry{}, capDocument("a", "Cancel", expires, ""))
		require.NoError(t, err)
		assert.Equal(t, domain.StatusCancelled, alert.Status)
	})

	t.Run("identifier falls back to entry id", func(t *testing.T) {
		alert, err := CAPFormat{}.Normalize(Entry{ID: "entry-7"}, capDocument("", "Alert", expires, ""))
		require.NoError(t, err)
		assert.Equal(t, "entry-7", alert.ExternalID)
	})
}

func TestGeoJSONFormat(t *testing.T) {
	format := GeoJSONFormat{}
	entries, err := format.ParseIndex(readFixture(t, "alerts.geojson"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "urn:oid:2.49.0.1.840.0.b1.001.1", entries[0].ID)
	assert.Empty(t, entries[0].DetailURL)
	assert.NotEmpty(t, entries[0].Payload)

	t.Run("polygon feature", func(t *testing.T) {
		alert, err := format.Normalize(entries[0], nil)
		require.NoError(t, err)

		assert.Equal(t, "urn:oid:2.49.0.1.840.0.b1.001.1", alert.ExternalID)
		assert.Equal(t, domain.CategorySevere, alert.Category)
		assert.Equal(t, "Shelter", alert.ResponseType)
		assert.Equal(t, domain.GeometryPolygon, alert.Geometry.Kind)
		assert.True(t, alert.GeometryValid)
		assert.True(t, alert.Geometry.Ring.Closed(), "open GeoJSON ring is closed")
		assert.Len(t, alert.Geometry.Ring, 5)
		assert.True(t, alert.EndsAt.IsZero())
		assert.False(t, alert.IsCountyWide)
	})

	t.Run("null geometry feature", func(t *testing.T) {
		alert, err := format.Normalize(entries[1], nil)
		require.NoError(t, err)

		assert.Equal(t, domain.CategoryFlood, alert.Category)
		assert.Equal(t, domain.GeometryNone, alert.Geometry.Kind)
		assert.True(t, alert.IsCountyWide)
		assert.Equal(t, time.Date(2024, 4, 27, 6, 0, 0, 0, time.UTC), alert.EndsAt)
		assert.Len(t, alert.Geocodes, 4)
	})
}

func TestGeoJSONFormat_ParseIndex_Errors(t *testing.T) {
	_, err := GeoJSONFormat{}.ParseIndex([]byte(`{"type":"Feature"}`))
	require.ErrorIs(t, err, domain.ErrParse)

	_, err = GeoJSONFormat{}.ParseIndex([]byte(`not json`))
	require.ErrorIs(t, err, domain.ErrParse)
}

func TestDedupe(t *testing.T) {
	entries := []Entry{{ID: "a"}, {ID: "b"}, {ID: "a", Title: "dup"}, {DetailURL: "u"}, {DetailURL: "u"}}
	got := Dedupe(entries)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Empty(t, got[0].Title)
	assert.Equal(t, "u", got[2].DetailURL)
}

func TestParseBoundaries(t *testing.T) {
	f, err := os.Open(filepath.Join("testdata", "fire_districts.geojson"))
	require.NoError(t, err)
	defer f.Close()

	bs, skipped, err := ParseBoundaries(f, " fire ")
	require.NoError(t, err)
	assert.Equal(t, 3, skipped, "unnamed, point geometry, and out-of-range coordinates")

	names := make([]string, len(bs))
	for i, b := range bs {
		names[i] = b.Name
		assert.Equal(t, "fire", b.Category)
		assert.True(t, b.Ring.Closed(), b.Name)
	}
	assert.Equal(t, []string{"Kalida FD", "Ottawa FD", "Ottawa FD", "12"}, names)
	assert.Len(t, bs[1].Ring, 5, "open multipolygon member is closed")
	assert.Equal(t, "Ottawa FD", bs[2].Properties["District"])
	assert.InDelta(t, 4, bs[0].Properties["OBJECTID"], 0)
}

func TestParseBoundaries_Errors(t *testing.T) {
	_, _, err := ParseBoundaries(strings.NewReader(`{"type":"FeatureCollection","features":[]}`), "")
	require.ErrorIs(t, err, domain.ErrConfig)

	_, _, err = ParseBoundaries(strings.NewReader(`{"type":"Feature"}`), "fire")
	require.ErrorIs(t, err, domain.ErrParse)

	_, _, err = ParseBoundaries(strings.NewReader(`{"type":`), "fire")
	require.ErrorIs(t, err, domain.ErrParse)
}
