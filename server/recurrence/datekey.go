package recurrence

import (
	"fmt"
	"time"
)

// DateKeyLayout is the textual form of a DateKey.
const DateKeyLayout = "2006-01-02"

// DateKey is a timezone-local calendar date with no time-of-day.
// Arithmetic on it is civil: adding a day never crosses a DST boundary.
type DateKey struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDateKey normalizes the given components (day 32 of January becomes
// February 1st, the same way time.Date does).
func NewDateKey(year int, month time.Month, day int) DateKey {
	return dateKeyOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// ParseDateKey parses a YYYY-MM-DD string.
func ParseDateKey(s string) (DateKey, error) {
	t, err := time.Parse(DateKeyLayout, s)
	if err != nil {
		return DateKey{}, fmt.Errorf("invalid date key %q: %w", s, err)
	}
	return dateKeyOf(t), nil
}

// LocalDateKey returns the calendar date of instant t as seen in loc.
func LocalDateKey(t time.Time, loc *time.Location) DateKey {
	if loc == nil {
		loc = time.UTC
	}
	return dateKeyOf(t.In(loc))
}

func dateKeyOf(t time.Time) DateKey {
	y, m, d := t.Date()
	return DateKey{Year: y, Month: m, Day: d}
}

// midnight returns the key as midnight UTC, the representation all civil
// arithmetic is done on.
func (k DateKey) midnight() time.Time {
	return time.Date(k.Year, k.Month, k.Day, 0, 0, 0, 0, time.UTC)
}

func (k DateKey) String() string {
	return k.midnight().Format(DateKeyLayout)
}

func (k DateKey) IsZero() bool {
	return k.Year == 0 && k.Month == 0 && k.Day == 0
}

// AddDays returns the key n calendar days later (or earlier for n < 0).
func (k DateKey) AddDays(n int) DateKey {
	return dateKeyOf(k.midnight().AddDate(0, 0, n))
}

func (k DateKey) Weekday() time.Weekday {
	return k.midnight().Weekday()
}

// DaysSince returns the number of calendar days from other to k.
func (k DateKey) DaysSince(other DateKey) int {
	return int(k.midnight().Sub(other.midnight()).Hours() / 24)
}

// Compare returns -1, 0 or +1.
func (k DateKey) Compare(other DateKey) int {
	return k.midnight().Compare(other.midnight())
}

func (k DateKey) Before(other DateKey) bool { return k.Compare(other) < 0 }
func (k DateKey) After(other DateKey) bool  { return k.Compare(other) > 0 }

// DaysIn returns the length of the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// clampedDate builds year/month/day, pulling day back to the month's last
// day instead of rolling into the next month.
func clampedDate(year int, month time.Month, day int) DateKey {
	// normalize month overflow first (month 13 -> January next year)
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	y, m, _ := first.Date()
	if last := DaysIn(y, m); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return DateKey{Year: y, Month: m, Day: day}
}

func maxKey(a, b DateKey) DateKey {
	if a.After(b) {
		return a
	}
	return b
}

func minKey(a, b DateKey) DateKey {
	if a.Before(b) {
		return a
	}
	return b
}
