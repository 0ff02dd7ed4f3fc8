package feed

import (
	"encoding/json"
	"fmt"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
	"github.com/couchcryptid/storm-data-alerts/internal/geo"
)

// GeoJSONFormat reads a FeatureCollection with alerts inline, as served by
// the api.weather.gov /alerts endpoints.
type GeoJSONFormat struct{}

func (GeoJSONFormat) Name() string { return FormatGeoJSON }

func (GeoJSONFormat) Accept() string { return "application/geo+json, application/json;q=0.9" }

type featureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

type feature struct {
	ID         string            `json:"id"`
	Geometry   *geo.Geometry     `json:"geometry"`
	Properties featureProperties `json:"properties"`
}

type featureProperties struct {
	ID          string         `json:"id"`
	Geocode     featureGeocode `json:"geocode"`
	Sent        string         `json:"sent"`
	Effective   string         `json:"effective"`
	Expires     string         `json:"expires"`
	Ends        string         `json:"ends"`
	MessageType string         `json:"messageType"`
	Severity    string         `json:"severity"`
	Certainty   string         `json:"certainty"`
	Urgency     string         `json:"urgency"`
	Event       string         `json:"event"`
	Headline    string         `json:"headline"`
	Description string         `json:"description"`
	Response    string         `json:"response"`
}

type featureGeocode struct {
	SAME []string `json:"SAME"`
	UGC  []string `json:"UGC"`
}

// ParseIndex splits the collection into one Entry per feature. Each entry's
// Payload is the raw feature.
func (GeoJSONFormat) ParseIndex(payload []byte) ([]Entry, error) {
	var fc featureCollection
	if err := json.Unmarshal(payload, &fc); err != nil {
		return nil, fmt.Errorf("%w: feature collection: %w", domain.ErrParse, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: expected FeatureCollection, got %q", domain.ErrParse, fc.Type)
	}

	entries := make([]Entry, 0, len(fc.Features))
	for i, raw := range fc.Features {
		var head struct {
			ID         string `json:"id"`
			Properties struct {
				ID       string `json:"id"`
				Headline string `json:"headline"`
			} `json:"properties"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("%w: feature %d: %w", domain.ErrParse, i, err)
		}
		entries = append(entries, Entry{
			ID:      firstNonEmpty(head.Properties.ID, head.ID),
			Title:   head.Properties.Headline,
			Payload: raw,
		})
	}
	return entries, nil
}

// Normalize decodes the inline feature held in entry.Payload; detail is
// ignored.
func (GeoJSONFormat) Normalize(entry Entry, _ []byte) (domain.Alert, error) {
	var ft feature
	if err := json.Unmarshal(entry.Payload, &ft); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: feature: %w", domain.ErrParse, err)
	}
	p := ft.Properties

	f := fields{
		externalID:   firstNonEmpty(p.ID, ft.ID, entry.ID),
		title:        firstNonEmpty(p.Headline, entry.Title),
		eventType:    p.Event,
		severity:     p.Severity,
		urgency:      p.Urgency,
		certainty:    p.Certainty,
		messageType:  p.MessageType,
		responseType: p.Response,
		description:  p.Description,
		sent:         p.Sent,
		effective:    p.Effective,
		expires:      p.Expires,
		ends:         p.Ends,
		geojson:      ft.Geometry,
	}
	f.geocodes = appendGeocodes(f.geocodes, domain.SchemeJurisdiction, p.Geocode.SAME...)
	f.geocodes = appendGeocodes(f.geocodes, domain.SchemeZone, p.Geocode.UGC...)

	return f.build()
}
