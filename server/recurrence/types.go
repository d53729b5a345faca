package recurrence

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Frequency is the calendar unit a rule repeats on.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// ParseFrequency maps a stored value onto a Frequency. Unknown values are
// returned as-is and expand like daily rules.
func ParseFrequency(s string) Frequency {
	return Frequency(strings.ToLower(strings.TrimSpace(s)))
}

// ClockTime is a wall-clock time of day with minute precision.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// TimesOfDay is the daily time list of a rule. It is one of ExplicitTimes,
// TimesCount or DefaultTimes.
type TimesOfDay interface {
	isTimesOfDay()
}

// ExplicitTimes lists the times verbatim, in the order they fire.
type ExplicitTimes []ClockTime

// TimesCount asks for n evenly spaced times per day.
type TimesCount int

// DefaultTimes fires once a day at the engine's default time.
type DefaultTimes struct{}

func (ExplicitTimes) isTimesOfDay() {}
func (TimesCount) isTimesOfDay()    {}
func (DefaultTimes) isTimesOfDay()  {}

// NewTimesOfDay picks the variant from the stored fields: explicit times win
// over a per-day count, and neither yields DefaultTimes. Explicit times are
// sorted and deduplicated so each day expands in chronological order.
func NewTimesOfDay(dailyTimes []string, timesPerDay *int) (TimesOfDay, error) {
	if len(dailyTimes) > 0 {
		times := make(ExplicitTimes, 0, len(dailyTimes))
		for _, s := range dailyTimes {
			ct, err := ParseClockTime(s)
			if err != nil {
				return nil, err
			}
			times = append(times, ct)
		}
		slices.SortFunc(times, func(a, b ClockTime) int {
			return (a.Hour*60 + a.Minute) - (b.Hour*60 + b.Minute)
		})
		return slices.Compact(times), nil
	}
	if timesPerDay != nil && *timesPerDay > 0 {
		return TimesCount(*timesPerDay), nil
	}
	return DefaultTimes{}, nil
}

// ExceptionSet is a set of excluded date keys.
type ExceptionSet map[DateKey]struct{}

// NewExceptionSet parses YYYY-MM-DD strings. Unparseable entries are
// skipped since they can never match an enumerated date.
func NewExceptionSet(keys []string) ExceptionSet {
	set := make(ExceptionSet, len(keys))
	for _, s := range keys {
		if k, err := ParseDateKey(s); err == nil {
			set[k] = struct{}{}
		}
	}
	return set
}

func (s ExceptionSet) Contains(k DateKey) bool {
	_, ok := s[k]
	return ok
}

// Rule is the cadence part of a recurrence rule, already resolved to a
// location and parsed time list.
type Rule struct {
	Frequency  Frequency
	Interval   int
	DaysOfWeek []time.Weekday
	// DayOfMonth is 0 when unset.
	DayOfMonth int
	Times      TimesOfDay
	Location   *time.Location
	StartDate  time.Time
	EndDate    *time.Time
	Exceptions ExceptionSet
}

func (r Rule) interval() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

func (r Rule) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Occurrence is one materialized date×time of a rule.
type Occurrence struct {
	Date  DateKey
	Time  ClockTime
	Start time.Time // UTC
}
