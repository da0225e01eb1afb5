// Package normalize turns raw SIGAE payloads into canonical entity records.
// Every function here is pure: no I/O, no clock, no globals.
package normalize

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/incident-sync/internal/adapter"
	"github.com/incident-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Text trims and NFC-normalizes s. Blank input yields nil so the stored
// value survives the merge.
func Text(s string) *string {
	s = strings.TrimSpace(norm.NFC.String(s))
	if s == "" {
		return nil
	}
	return &s
}

// TextPtr is Text for optional upstream strings
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return Text(*s)
}

// ID maps the upstream's "0 means none" convention to nil
func ID(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// Float parses an upstream number. Anything unparseable or non-finite is nil.
func Float(n adapter.Number) *float64 {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return nil
	}
	// some endpoints use a decimal comma
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Coordinate is Float with 0 treated as unknown. The upstream reports 0 for
// incidents that have not been geolocated yet.
func Coordinate(n adapter.Number) *float64 {
	v := Float(n)
	if v == nil || *v == 0 {
		return nil
	}
	return v
}

// Bool returns a pointer to b
func Bool(b bool) *bool {
	return &b
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

// Timestamp parses an upstream timestamp. Values without an offset are
// interpreted in loc. The 0001-01-01 placeholder is preserved as
// models.NotYetTimestamp.
func Timestamp(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if t.Year() <= 1 {
			sentinel := models.NotYetTimestamp
			return &sentinel
		}
		return &t
	}
	return nil
}

// CombineDateTime joins the date part of date with the time part of clock,
// both upstream ISO strings, e.g. "2024-03-05T00:00:00" and
// "1900-01-01T14:22:10".
func CombineDateTime(date, clock string, loc *time.Location) *time.Time {
	d := strings.TrimSpace(date)
	if i := strings.IndexAny(d, "T "); i >= 0 {
		d = d[:i]
	}
	c := strings.TrimSpace(clock)
	if i := strings.IndexAny(c, "T "); i >= 0 {
		c = c[i+1:]
	}
	if d == "" || c == "" {
		return nil
	}
	return Timestamp(d+"T"+c, loc)
}

// IncidentCode strips one trailing '.' that the upstream appends to some codes.
func IncidentCode(code string) string {
	code = strings.TrimSpace(code)
	return strings.TrimSuffix(code, ".")
}
