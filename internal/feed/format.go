// Package feed turns raw upstream feed documents into candidate alerts.
//
// Two feed generations are supported behind the [Format] interface:
//
//   - CAP: an ATOM index whose entries link to one CAP XML document per alert.
//   - GeoJSON: a single FeatureCollection with every alert inline.
//
// The format is chosen by configuration, never by sniffing content.
package feed

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
)

// Entry is one alert reference from an index or collection document.
type Entry struct {
	ID    string
	Title string
	// DetailURL is set for two-stage feeds; the detail document must be
	// fetched and passed to Normalize.
	DetailURL string
	// Payload holds the inline entry body for single-stage feeds.
	Payload []byte
}

// Format decodes one feed generation.
type Format interface {
	Name() string
	// Accept is the Accept header sent when fetching this format.
	Accept() string
	// ParseIndex extracts entries from the top-level document.
	ParseIndex(payload []byte) ([]Entry, error)
	// Normalize maps an entry (and its detail document, if any) to a
	// candidate alert.
	Normalize(entry Entry, detail []byte) (domain.Alert, error)
}

// Format names accepted by New.
const (
	FormatCAP     = "cap"
	FormatGeoJSON = "geojson"
)

// New returns the Format registered under name.
func New(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FormatCAP:
		return CAPFormat{}, nil
	case FormatGeoJSON:
		return GeoJSONFormat{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown feed format %q", domain.ErrConfig, name)
	}
}

// Dedupe drops entries whose ID was already seen, keeping the first.
func Dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		key := e.ID
		if key == "" {
			key = e.DetailURL
		}
		if _, dup := seen[key]; dup && key != "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}
