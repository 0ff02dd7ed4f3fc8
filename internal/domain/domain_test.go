package domain

import (
	"testing"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/geo"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTargetCode = "039137"

func TestInScope(t *testing.T) {
	alert := Alert{Geocodes: []Geocode{
		{Scheme: SchemeZone, Value: "OHZ016"},
		{Scheme: SchemeJurisdiction, Value: testTargetCode},
	}}

	tests := []struct {
		name     string
		alert    Alert
		target   string
		expected bool
	}{
		{"matching SAME code", alert, testTargetCode, true},
		{"other county", alert, "039999", false},
		{"no geocodes", Alert{}, testTargetCode, false},
		{"UGC value ignored", Alert{Geocodes: []Geocode{{Scheme: SchemeZone, Value: testTargetCode}}}, testTargetCode, false},
		{"empty target", alert, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InScope(tt.alert, tt.target))
		})
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]string{
		"Tornado Warning":           CategorySevere,
		"flash flood warning":       CategorySevere,
		"Winter Weather Advisory":   CategoryWinter,
		"Flood Watch":               CategoryFlood,
		"Heat Advisory":             CategoryHeat,
		" Wind Advisory ":           CategoryWind,
		"Special Weather Statement": CategoryOther,
		"":                          CategoryOther,
	}
	for event, expected := range tests {
		t.Run(event, func(t *testing.T) {
			assert.Equal(t, expected, Classify(event))
		})
	}
}

func TestAlert_CurrentStatus(t *testing.T) {
	effective := time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)
	expires := effective.Add(2 * time.Hour)
	ends := effective.Add(4 * time.Hour)

	withEnds := Alert{Status: StatusActive, EffectiveAt: effective, ExpiresAt: expires, EndsAt: ends}
	noEnds := Alert{Status: StatusActive, EffectiveAt: effective, ExpiresAt: expires}

	tests := []struct {
		name     string
		alert    Alert
		now      time.Time
		expected AlertStatus
	}{
		{"before effective", withEnds, effective.Add(-time.Minute), StatusPending},
		{"at effective", withEnds, effective, StatusActive},
		{"after expires before ends", withEnds, expires.Add(time.Minute), StatusActive},
		{"at ends", withEnds, ends, StatusExpired},
		{"expires substitutes for ends", noEnds, expires, StatusExpired},
		{"stored expired but window open", Alert{Status: StatusExpired, EffectiveAt: effective, ExpiresAt: expires}, effective.Add(time.Minute), StatusActive},
		{"cancelled wins", Alert{Status: StatusCancelled, EffectiveAt: effective, ExpiresAt: expires}, effective.Add(time.Minute), StatusCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.alert.CurrentStatus(tt.now))
		})
	}
}

func TestAlert_WindowChanged(t *testing.T) {
	t1 := time.Date(2024, 4, 26, 15, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	stored := Alert{EffectiveAt: t1, EndsAt: t2, ExpiresAt: t2, Description: "old"}

	same := stored
	same.Description = "new wording"
	assert.False(t, same.WindowChanged(stored))

	extended := stored
	extended.EndsAt = t3
	assert.True(t, extended.WindowChanged(stored))

	// Same instant in a different location is not a change.
	shifted := stored
	shifted.EffectiveAt = t1.In(time.FixedZone("EDT", -4*3600))
	assert.False(t, shifted.WindowChanged(stored))
}

func TestGeometry_MatchRing(t *testing.T) {
	square := geo.Ring{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 1}, {Lon: 1, Lat: 1}, {Lon: 1, Lat: 0}, {Lon: 0, Lat: 0}}

	ring, ok := Geometry{Kind: GeometryPolygon, Ring: square}.MatchRing()
	require.True(t, ok)
	assert.Equal(t, square, ring)

	_, ok = Geometry{Kind: GeometryPolygon, Ring: square[:2]}.MatchRing()
	assert.False(t, ok)

	ring, ok = Geometry{Kind: GeometryCircle, Circle: &geo.Circle{Center: geo.Point{Lon: -84.1, Lat: 41}, RadiusKm: 5}}.MatchRing()
	require.True(t, ok)
	assert.True(t, ring.Closed())

	_, ok = Geometry{Kind: GeometryNone}.MatchRing()
	assert.False(t, ok)
}

func TestDistricts_Associations(t *testing.T) {
	d := Districts{
		"fire":     {"Kalida", "Ottawa"},
		"ems":      {"Putnam EMS"},
		"electric": nil,
	}

	got := d.Associations("urn:1")
	want := []DistrictAssociation{
		{ExternalID: "urn:1", Category: "ems", Name: "Putnam EMS"},
		{ExternalID: "urn:1", Category: "fire", Name: "Kalida"},
		{ExternalID: "urn:1", Category: "fire", Name: "Ottawa"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("associations mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, d.Count())

	grouped := GroupAssociations(got)
	assert.Equal(t, []string{"Kalida", "Ottawa"}, grouped["urn:1"]["fire"])
}

func TestQueryOptions(t *testing.T) {
	now := time.Date(2024, 4, 26, 16, 0, 0, 0, time.UTC)
	alert := Alert{
		Title:       "Tornado Warning issued April 26",
		Description: "A confirmed tornado near Ottawa.",
		Category:    CategorySevere,
		Severity:    "Extreme",
		EffectiveAt: now.Add(-time.Hour),
		ExpiresAt:   now.Add(time.Hour),
		Status:      StatusActive,
	}

	t.Run("defaults", func(t *testing.T) {
		assert.Equal(t, DefaultQueryLimit, QueryOptions{}.WithDefaults().Limit)
		assert.Equal(t, MaxQueryLimit, QueryOptions{Limit: 5000}.WithDefaults().Limit)
		assert.Equal(t, 10, QueryOptions{Limit: 10}.WithDefaults().Limit)
	})

	tests := []struct {
		name     string
		opts     QueryOptions
		expected bool
	}{
		{"no filters", QueryOptions{}, true},
		{"text in description", QueryOptions{Text: "OTTAWA"}, true},
		{"text missing", QueryOptions{Text: "blizzard"}, false},
		{"category", QueryOptions{Category: "severe"}, true},
		{"wrong severity", QueryOptions{Severity: "Minor"}, false},
		{"from after effective", QueryOptions{From: now}, false},
		{"to after effective", QueryOptions{To: now}, true},
		{"derived status", QueryOptions{Status: StatusActive}, true},
		{"derived status expired", QueryOptions{Status: StatusExpired}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.opts.WithDefaults().Matches(alert, now))
		})
	}
}

func TestEntryError(t *testing.T) {
	err := &EntryError{EntryID: "urn:3", Stage: StageNormalize, Err: ErrNormalize}
	assert.ErrorIs(t, err, ErrNormalize)
	assert.Contains(t, err.Error(), "urn:3")
	assert.Contains(t, err.Error(), "normalize")
}

func TestUpsertOutcome(t *testing.T) {
	assert.False(t, OutcomeUnchanged.NeedsMatch())
	assert.True(t, OutcomeInserted.NeedsMatch())
	assert.True(t, OutcomeUpdated.NeedsMatch())
	assert.True(t, OutcomeUnmatched.NeedsMatch())
	assert.Equal(t, "unchanged", OutcomeUnmatched.String())
}
