package recurrence

import (
	"iter"
)

// dailyTimes resolves the TimesOfDay variant into the ordered list of
// times one date expands to.
func (c EngineConfig) dailyTimes(times TimesOfDay) []ClockTime {
	switch t := times.(type) {
	case ExplicitTimes:
		if len(t) > 0 {
			return t
		}
	case TimesCount:
		return c.spread(int(t))
	}
	return []ClockTime{c.DefaultTime}
}

// spread labels n times evenly between FirstTime and LastTime inclusive.
// A single time lands on DefaultTime.
func (c EngineConfig) spread(n int) []ClockTime {
	n = min(n, c.MaxTimesPerDay)
	if n <= 1 {
		return []ClockTime{c.DefaultTime}
	}
	first := c.FirstTime.Hour*60 + c.FirstTime.Minute
	last := c.LastTime.Hour*60 + c.LastTime.Minute
	if last <= first {
		last = first + 12*60
	}
	step := (last - first) / (n - 1)

	out := make([]ClockTime, n)
	for i := range out {
		m := (first + i*step) % (24 * 60)
		out[i] = ClockTime{Hour: m / 60, Minute: m % 60}
	}
	return out
}

// Materialize resolves every (date, time) pair into an instant in the
// rule's zone until limit occurrences have been produced. The second
// return value is true when the limit cut the pass short, which may
// happen between two times of the same day.
func (c EngineConfig) Materialize(rule Rule, dates iter.Seq[DateKey], limit int) ([]Occurrence, bool) {
	times := c.dailyTimes(rule.Times)
	loc := rule.location()

	out := make([]Occurrence, 0, min(limit, 64))
	for d := range dates {
		for _, t := range times {
			if len(out) >= limit {
				return out, true
			}
			out = append(out, Occurrence{
				Date:  d,
				Time:  t,
				Start: ResolveInstant(d, t, loc),
			})
		}
	}
	return out, false
}
