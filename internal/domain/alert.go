package domain

import (
	"sort"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/geo"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	StatusActive    AlertStatus = "Active"
	StatusExpired   AlertStatus = "Expired"
	StatusCancelled AlertStatus = "Cancelled"
	// StatusPending is derived only, never persisted: the alert's effective
	// time is still in the future.
	StatusPending AlertStatus = "Pending"
)

// Geocode schemes.
const (
	SchemeJurisdiction = "SAME"
	SchemeZone         = "UGC"
)

// Geocode identifies a jurisdiction or zone.
type Geocode struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

// GeometryKind tags the shape an alert carries.
type GeometryKind string

const (
	GeometryNone    GeometryKind = "NONE"
	GeometryPolygon GeometryKind = "POLYGON"
	GeometryCircle  GeometryKind = "CIRCLE"
)

// Geometry is the alert's affected area. Ring is set for polygons; Circle is
// set for circles.
type Geometry struct {
	Kind   GeometryKind `json:"kind"`
	Ring   geo.Ring     `json:"ring,omitempty"`
	Circle *geo.Circle  `json:"circle,omitempty"`
}

// MatchRing returns the polygon used for district matching. Circles are
// approximated by a closed polygon.
func (g Geometry) MatchRing() (geo.Ring, bool) {
	switch g.Kind {
	case GeometryPolygon:
		if !g.Ring.Closed() {
			return nil, false
		}
		return g.Ring, true
	case GeometryCircle:
		if g.Circle == nil {
			return nil, false
		}
		return g.Circle.Ring()
	default:
		return nil, false
	}
}

// Alert is the canonical hazard record.
type Alert struct {
	ID           int64  `json:"id,omitempty"`
	ExternalID   string `json:"external_id"`
	Title        string `json:"title"`
	EventType    string `json:"event_type"`
	Category     string `json:"category"`
	Severity     string `json:"severity,omitempty"`
	Urgency      string `json:"urgency,omitempty"`
	Certainty    string `json:"certainty,omitempty"`
	MessageType  string `json:"message_type,omitempty"`
	ResponseType string `json:"response_type,omitempty"`
	Description  string `json:"description,omitempty"`

	EffectiveAt time.Time `json:"effective_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	EndsAt      time.Time `json:"ends_at,omitzero"`

	Status        AlertStatus `json:"status"`
	Geocodes      []Geocode   `json:"geocodes,omitempty"`
	Geometry      Geometry    `json:"geometry"`
	GeometryValid bool        `json:"geometry_valid"`
	IsCountyWide  bool        `json:"is_county_wide"`

	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`

	// Districts is populated by reads that attach associations.
	Districts Districts `json:"districts,omitempty"`
}

// EffectiveEnd returns EndsAt, or ExpiresAt when EndsAt is absent.
func (a Alert) EffectiveEnd() time.Time {
	if a.EndsAt.IsZero() {
		return a.ExpiresAt
	}
	return a.EndsAt
}

// CurrentStatus derives the alert's status at now from its time window.
func (a Alert) CurrentStatus(now time.Time) AlertStatus {
	if a.Status == StatusCancelled {
		return StatusCancelled
	}
	if !a.EffectiveAt.IsZero() && now.Before(a.EffectiveAt) {
		return StatusPending
	}
	if end := a.EffectiveEnd(); !end.IsZero() && !now.Before(end) {
		return StatusExpired
	}
	return StatusActive
}

// ActiveAt reports whether the alert is current at now.
func (a Alert) ActiveAt(now time.Time) bool {
	return a.CurrentStatus(now) == StatusActive
}

// WindowChanged reports whether the fields used for change detection differ.
func (a Alert) WindowChanged(stored Alert) bool {
	return !a.EffectiveAt.Equal(stored.EffectiveAt) || !a.EffectiveEnd().Equal(stored.EffectiveEnd())
}

// Districts maps a boundary category to the sorted names of the districts an
// alert affects.
type Districts map[string][]string

// Associations flattens d into association rows ordered by category, then name.
func (d Districts) Associations(externalID string) []DistrictAssociation {
	cats := make([]string, 0, len(d))
	for c := range d {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var out []DistrictAssociation
	for _, c := range cats {
		for _, name := range d[c] {
			out = append(out, DistrictAssociation{ExternalID: externalID, Category: c, Name: name})
		}
	}
	return out
}

// Count returns the total number of district names across categories.
func (d Districts) Count() int {
	n := 0
	for _, names := range d {
		n += len(names)
	}
	return n
}

// DistrictAssociation links an alert to one affected district.
type DistrictAssociation struct {
	ExternalID string `json:"external_id"`
	Category   string `json:"category"`
	Name       string `json:"name"`
}

// GroupAssociations rebuilds per-alert Districts from association rows.
func GroupAssociations(rows []DistrictAssociation) map[string]Districts {
	out := make(map[string]Districts)
	for _, r := range rows {
		d, ok := out[r.ExternalID]
		if !ok {
			d = Districts{}
			out[r.ExternalID] = d
		}
		d[r.Category] = append(d[r.Category], r.Name)
	}
	for _, d := range out {
		for c := range d {
			sort.Strings(d[c])
		}
	}
	return out
}

// Boundary is a district polygon used for matching. Multi-ring districts are
// stored as several boundaries sharing a name.
type Boundary struct {
	ID         int64          `json:"id,omitempty"`
	Name       string         `json:"name"`
	Category   string         `json:"category"`
	Ring       geo.Ring       `json:"ring"`
	Properties map[string]any `json:"properties,omitempty"`
}

// BoundaryCategory configures one district category and the label used for
// county-wide alerts.
type BoundaryCategory struct {
	Name     string `yaml:"name" json:"name"`
	AllLabel string `yaml:"all_label" json:"all_label"`
}

// DefaultBoundaryCategories returns the fire, EMS and electric categories.
func DefaultBoundaryCategories() []BoundaryCategory {
	return []BoundaryCategory{
		{Name: "fire", AllLabel: "All Fire Districts"},
		{Name: "ems", AllLabel: "All EMS Districts"},
		{Name: "electric", AllLabel: "All Electric Providers"},
	}
}

// UpsertOutcome is the result of persisting one candidate alert.
type UpsertOutcome int

const (
	OutcomeUnchanged UpsertOutcome = iota
	OutcomeInserted
	OutcomeUpdated
	// OutcomeUnmatched is an unchanged alert whose districts were never
	// recorded, typically because matching failed on an earlier run.
	OutcomeUnmatched
)

// NeedsMatch reports whether district matching must run for the alert.
func (o UpsertOutcome) NeedsMatch() bool {
	return o != OutcomeUnchanged
}

// String returns the label used in logs and metrics. An unmatched alert is
// still unchanged content.
func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// SweepResult counts the rows touched by an expiry sweep.
type SweepResult struct {
	Expired int64 `json:"expired"`
	Deleted int64 `json:"deleted"`
}

// AlertChange is published when an upsert inserts or updates an alert.
type AlertChange struct {
	Change      string    `json:"change"`
	Alert       Alert     `json:"alert"`
	ProcessedAt time.Time `json:"processed_at"`
}

// SquareMilesPerSquareDegree converts planar square degrees to square miles
// (69.172 miles per degree, squared).
const SquareMilesPerSquareDegree = 69.172 * 69.172

// Coverage summarizes the boundaries of one category.
type Coverage struct {
	Category    string  `json:"category"`
	Boundaries  int     `json:"boundaries"`
	Districts   int     `json:"districts"`
	AreaSqMiles float64 `json:"area_sq_miles"`
}

// SummarizeCoverage groups bs by category, counting boundaries and distinct
// district names and summing planar areas. The result is ordered by category.
func SummarizeCoverage(bs []Boundary) []Coverage {
	byCategory := make(map[string]*Coverage)
	names := make(map[string]map[string]struct{})
	for _, b := range bs {
		c, ok := byCategory[b.Category]
		if !ok {
			c = &Coverage{Category: b.Category}
			byCategory[b.Category] = c
			names[b.Category] = make(map[string]struct{})
		}
		c.Boundaries++
		c.AreaSqMiles += geo.Area(b.Ring) * SquareMilesPerSquareDegree
		names[b.Category][b.Name] = struct{}{}
	}

	out := make([]Coverage, 0, len(byCategory))
	for cat, c := range byCategory {
		c.Districts = len(names[cat])
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}
