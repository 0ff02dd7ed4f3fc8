package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/couchcryptid/storm-data-alerts/internal/domain"
)

// CAPFormat reads an ATOM index whose entries link to CAP 1.2 documents.
type CAPFormat struct{}

func (CAPFormat) Name() string { return FormatCAP }

func (CAPFormat) Accept() string {
	return "application/atom+xml, application/cap+xml;q=0.9, application/xml;q=0.8"
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID    string     `xml:"id"`
	Title string     `xml:"title"`
	Links []atomLink `xml:"link"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

// ParseIndex returns one Entry per ATOM <entry>. The detail URL is the first
// alternate (or unlabelled) link, falling back to the entry id.
func (CAPFormat) ParseIndex(payload []byte) ([]Entry, error) {
	var doc atomFeed
	if err := xml.Unmarshal(bytes.TrimSpace(payload), &doc); err != nil {
		return nil, fmt.Errorf("%w: atom index: %w", domain.ErrParse, err)
	}

	entries := make([]Entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		id := strings.TrimSpace(e.ID)
		url := detailLink(e.Links)
		if url == "" {
			url = id
		}
		entries = append(entries, Entry{
			ID:        id,
			Title:     strings.TrimSpace(e.Title),
			DetailURL: url,
		})
	}
	return entries, nil
}

func detailLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "" || l.Rel == "alternate" {
			if href := strings.TrimSpace(l.Href); href != "" {
				return href
			}
		}
	}
	return ""
}

type capAlert struct {
	XMLName    xml.Name  `xml:"alert"`
	Identifier string    `xml:"identifier"`
	Sent       string    `xml:"sent"`
	MsgType    string    `xml:"msgType"`
	Info       []capInfo `xml:"info"`
}

type capInfo struct {
	Event        string    `xml:"event"`
	ResponseType string    `xml:"responseType"`
	Urgency      string    `xml:"urgency"`
	Severity     string    `xml:"severity"`
	Certainty    string    `xml:"certainty"`
	Effective    string    `xml:"effective"`
	Expires      string    `xml:"expires"`
	Ends         string    `xml:"ends"`
	Headline     string    `xml:"headline"`
	Description  string    `xml:"description"`
	Areas        []capArea `xml:"area"`
}

type capArea struct {
	Polygons []string  `xml:"polygon"`
	Circles  []string  `xml:"circle"`
	Geocodes []capPair `xml:"geocode"`
}

type capPair struct {
	ValueName string `xml:"valueName"`
	Value     string `xml:"value"`
}

// Normalize decodes the CAP detail document for entry. The CAP identifier is
// the external ID; the ATOM entry id is used when it is absent.
func (CAPFormat) Normalize(entry Entry, detail []byte) (domain.Alert, error) {
	var doc capAlert
	if err := xml.Unmarshal(bytes.TrimSpace(detail), &doc); err != nil {
		return domain.Alert{}, fmt.Errorf("%w: cap document: %w", domain.ErrParse, err)
	}
	if len(doc.Info) == 0 {
		return domain.Alert{}, fmt.Errorf("%w: cap document has no <info>", domain.ErrNormalize)
	}
	info := doc.Info[0]

	f := fields{
		externalID:   firstNonEmpty(doc.Identifier, entry.ID),
		title:        firstNonEmpty(info.Headline, entry.Title),
		eventType:    info.Event,
		severity:     info.Severity,
		urgency:      info.Urgency,
		certainty:    info.Certainty,
		messageType:  doc.MsgType,
		responseType: info.ResponseType,
		description:  info.Description,
		sent:         doc.Sent,
		effective:    info.Effective,
		expires:      info.Expires,
		ends:         info.Ends,
	}

	for _, area := range info.Areas {
		for _, gc := range area.Geocodes {
			f.geocodes = appendGeocodes(f.geocodes, strings.TrimSpace(gc.ValueName), gc.Value)
		}
		if f.capPolygon == "" {
			f.capPolygon = firstNonBlank(area.Polygons)
		}
		if f.capCircle == "" {
			f.capCircle = firstNonBlank(area.Circles)
		}
	}

	return f.build()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstNonBlank(values []string) string {
	return firstNonEmpty(values...)
}
