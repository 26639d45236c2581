package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is the value carried by FieldTypePoint fields: a lon/lat pair.
type Point struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// WKT renders the point in well-known-text form.
func (p Point) WKT() string {
	return fmt.Sprintf("POINT (%s %s)",
		strconv.FormatFloat(p.Lon, 'f', -1, 64),
		strconv.FormatFloat(p.Lat, 'f', -1, 64))
}

// String implements fmt.Stringer.
func (p Point) String() string {
	return p.WKT()
}

// ParsePoint parses well-known-text point syntax, e.g. "POINT (10 20)".
func ParsePoint(s string) (Point, error) {
	trimmed := strings.TrimSpace(s)
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "POINT") {
		return Point{}, fmt.Errorf("not a WKT point: %q", s)
	}

	open := strings.IndexByte(trimmed, '(')
	close := strings.LastIndexByte(trimmed, ')')
	if open == -1 || close == -1 || close <= open {
		return Point{}, fmt.Errorf("malformed WKT point: %q", s)
	}

	coords := strings.Fields(trimmed[open+1 : close])
	if len(coords) != 2 {
		return Point{}, fmt.Errorf("WKT point needs two coordinates: %q", s)
	}

	lon, err := strconv.ParseFloat(coords[0], 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude %q: %w", coords[0], err)
	}
	lat, err := strconv.ParseFloat(coords[1], 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude %q: %w", coords[1], err)
	}

	return Point{Lon: lon, Lat: lat}, nil
}
