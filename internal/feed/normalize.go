package feed

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
)

// fields is the format-neutral view of one alert, filled by each Format.
type fields struct {
	externalID   string
	title        string
	eventType    string
	severity     string
	urgency      string
	certainty    string
	messageType  string
	responseType string
	description  string

	sent      string
	effective string
	expires   string
	ends      string

	geocodes []domain.Geocode

	// Geometry sources in order of preference.
	geojson    *geo.Geometry
	capPolygon string
	capCircle  string
}

// build converts fields into a candidate alert. Timestamp and geometry
// failures reject the whole entry.
func (f fields) build() (domain.Alert, error) {
	if f.externalID == "" {
		return domain.Alert{}, fmt.Errorf("%w: missing identifier", domain.ErrNormalize)
	}

	effective, err := parseTimestamp("effective", f.effective)
	if err != nil {
		return domain.Alert{}, err
	}
	if effective.IsZero() {
		if effective, err = parseTimestamp("sent", f.sent); err != nil {
			return domain.Alert{}, err
		}
	}
	if effective.IsZero() {
		return domain.Alert{}, fmt.Errorf("%w: missing effective time", domain.ErrNormalize)
	}
	expires, err := parseTimestamp("expires", f.expires)
	if err != nil {
		return domain.Alert{}, err
	}
	if expires.IsZero() {
		return domain.Alert{}, fmt.Errorf("%w: missing expires time", domain.ErrNormalize)
	}
	ends, err := parseTimestamp("ends", f.ends)
	if err != nil {
		return domain.Alert{}, err
	}

	geometry, valid, err := resolveGeometry(f.geojson, f.capPolygon, f.capCircle)
	if err != nil {
		return domain.Alert{}, err
	}

	status := domain.StatusActive
	if strings.EqualFold(f.messageType, "Cancel") {
		status = domain.StatusCancelled
	}

	title := strings.TrimSpace(f.title)
	if title == "" {
		title = strings.TrimSpace(f.eventType)
	}

	a := domain.Alert{
		ExternalID:    strings.TrimSpace(f.externalID),
		Title:         title,
		EventType:     strings.TrimSpace(f.eventType),
		Category:      domain.Classify(f.eventType),
		Severity:      strings.TrimSpace(f.severity),
		Urgency:       strings.TrimSpace(f.urgency),
		Certainty:     strings.TrimSpace(f.certainty),
		MessageType:   strings.TrimSpace(f.messageType),
		ResponseType:  strings.TrimSpace(f.responseType),
		Description:   strings.TrimSpace(f.description),
		EffectiveAt:   effective,
		ExpiresAt:     expires,
		EndsAt:        ends,
		Status:        status,
		Geocodes:      f.geocodes,
		Geometry:      geometry,
		GeometryValid: valid,
	}
	a.IsCountyWide = geometry.Kind == domain.GeometryNone && domain.HasJurisdiction(a)
	return a, nil
}

// parseTimestamp parses a feed timestamp into UTC. An empty value yields the
// zero time.
func parseTimestamp(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q: %w", domain.ErrNormalize, name, value, err)
	}
	return t.UTC(), nil
}

// resolveGeometry prefers GeoJSON geometry, then a CAP polygon, then a CAP
// circle. Rings with fewer than three distinct points are kept with
// valid=false; unparseable geometry is an error.
func resolveGeometry(gj *geo.Geometry, capPolygon, capCircle string) (domain.Geometry, bool, error) {
	switch {
	case gj != nil && gj.Type != "":
		rings, err := gj.OuterRings()
		if err != nil {
			return domain.Geometry{}, false, geometryErr(err)
		}
		if len(rings) == 0 {
			return domain.Geometry{Kind: domain.GeometryNone}, false, nil
		}
		ring, ok, err := geo.ParseGeoJSONPolygon(rings[0])
		if err != nil {
			return domain.Geometry{}, false, geometryErr(err)
		}
		return domain.Geometry{Kind: domain.GeometryPolygon, Ring: ring}, ok, nil

	case strings.TrimSpace(capPolygon) != "":
		ring, ok, err := geo.ParseCAPPolygon(capPolygon)
		if err != nil {
			return domain.Geometry{}, false, geometryErr(err)
		}
		return domain.Geometry{Kind: domain.GeometryPolygon, Ring: ring}, ok, nil

	case strings.TrimSpace(capCircle) != "":
		c, err := geo.ParseCAPCircle(capCircle)
		if err != nil {
			return domain.Geometry{}, false, geometryErr(err)
		}
		return domain.Geometry{Kind: domain.GeometryCircle, Circle: &c}, c.RadiusKm > 0, nil

	default:
		return domain.Geometry{Kind: domain.GeometryNone}, false, nil
	}
}

func geometryErr(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrGeometry, err)
}

// appendGeocodes appends one Geocode per value under scheme, skipping blanks
// and duplicates.
func appendGeocodes(dst []domain.Geocode, scheme string, values ...string) []domain.Geocode {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		gc := domain.Geocode{Scheme: scheme, Value: v}
		dup := false
		for _, existing := range dst {
			if existing == gc {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, gc)
		}
	}
	return dst
}
