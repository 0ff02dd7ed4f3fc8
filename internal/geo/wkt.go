package geo

import (
	"fmt"
	"strconv"
	"strings"
)

// ToWKT renders r as a WKT POLYGON with a single outer ring. Coordinates use
// the shortest representation that round-trips.
func ToWKT(r Ring) string {
	var b strings.Builder
	b.WriteString("POLYGON((")
	for i, p := range r {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
		b.WriteByte(' ')
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
	}
	b.WriteString("))")
	return b.String()
}

// ParseWKT parses the outer ring of a WKT POLYGON. Inner rings are ignored.
// It accepts the output of ToWKT and of PostGIS ST_AsText.
func ParseWKT(s string) (Ring, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "POLYGON") {
		return nil, fmt.Errorf("wkt: %w: expected POLYGON, got %.20q", ErrMalformed, s)
	}
	body := strings.TrimSpace(s[len("POLYGON"):])
	if !strings.HasPrefix(body, "((") {
		return nil, fmt.Errorf("wkt: %w: missing ring", ErrMalformed)
	}
	end := strings.Index(body, ")")
	if end < 0 {
		return nil, fmt.Errorf("wkt: %w: unterminated ring", ErrMalformed)
	}

	var ring Ring
	for _, pos := range strings.Split(body[2:end], ",") {
		fields := strings.Fields(pos)
		if len(fields) < 2 {
			return nil, fmt.Errorf("wkt: %w: position %q", ErrMalformed, pos)
		}
		lon, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("wkt: %w: %q", ErrMalformed, fields[0])
		}
		lat, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("wkt: %w: %q", ErrMalformed, fields[1])
		}
		ring = append(ring, Point{Lon: lon, Lat: lat})
	}
	return ring, nil
}
