package recurrence

import (
	"fmt"
	"strings"
	"time"
)

// ResolveInstant returns the UTC instant at which the wall clock in loc
// reads date at t. Wall times skipped by a DST transition are shifted
// forward by the size of the gap, as time.Date does.
func ResolveInstant(date DateKey, t ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year, date.Month, date.Day, t.Hour, t.Minute, 0, 0, loc).UTC()
}

// TimezoneResolver turns an optional, user-supplied zone name into a usable
// location.
type TimezoneResolver interface {
	Resolve(name string) *time.Location
}

// FallbackResolver loads IANA zones and substitutes Default when the name
// is empty or unknown.
type FallbackResolver struct {
	Default *time.Location
}

// NewFallbackResolver creates a resolver whose default zone is named
// defaultZone. An unloadable default falls back to UTC.
func NewFallbackResolver(defaultZone string) *FallbackResolver {
	loc, err := time.LoadLocation(defaultZone)
	if err != nil || defaultZone == "" {
		loc = time.UTC
	}
	return &FallbackResolver{Default: loc}
}

func (r *FallbackResolver) Resolve(name string) *time.Location {
	def := r.Default
	if def == nil {
		def = time.UTC
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return def
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return def
	}
	return loc
}

// NormalizeDateKey accepts either a bare YYYY-MM-DD date, taken as already
// local to loc, or an RFC 3339 instant, converted to its date in loc.
func NormalizeDateKey(s string, loc *time.Location) (DateKey, error) {
	s = strings.TrimSpace(s)
	if k, err := ParseDateKey(s); err == nil {
		return k, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return DateKey{}, fmt.Errorf("date %q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	return LocalDateKey(t, loc), nil
}
