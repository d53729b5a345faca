package recurrence

import (
	"iter"
	"time"
)

// Enumerate yields the dates in w on which rule fires, in ascending order.
// The sequence is re-derived from scratch on every range over it and stops
// as soon as the consumer stops pulling.
func Enumerate(rule Rule, w Window) iter.Seq[DateKey] {
	switch rule.Frequency {
	case FrequencyWeekly:
		return enumerateWeekly(rule, w)
	case FrequencyMonthly:
		return enumerateMonthly(rule, w)
	case FrequencyYearly:
		return enumerateYearly(rule, w)
	default:
		return enumerateDaily(rule, w)
	}
}

func enumerateDaily(rule Rule, w Window) iter.Seq[DateKey] {
	step := rule.interval()
	return func(yield func(DateKey) bool) {
		for d := w.Start; !d.After(w.End); d = d.AddDays(step) {
			if !yield(d) {
				return
			}
		}
	}
}

// enumerateWeekly walks day by day; week numbers count from the window
// start, so interval 2 fires in weeks 0, 2, 4, ... of the pass.
func enumerateWeekly(rule Rule, w Window) iter.Seq[DateKey] {
	interval := rule.interval()

	var selected [7]bool
	if len(rule.DaysOfWeek) == 0 {
		selected[w.Start.Weekday()] = true
	} else {
		for _, wd := range rule.DaysOfWeek {
			if wd >= time.Sunday && wd <= time.Saturday {
				selected[wd] = true
			}
		}
	}

	return func(yield func(DateKey) bool) {
		for d := w.Start; !d.After(w.End); d = d.AddDays(1) {
			week := d.DaysSince(w.Start) / 7
			if week%interval != 0 || !selected[d.Weekday()] {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}

func enumerateMonthly(rule Rule, w Window) iter.Seq[DateKey] {
	interval := rule.interval()
	targetDay := rule.DayOfMonth
	if targetDay == 0 {
		targetDay = w.Start.Day
	}
	targetDay = max(targetDay, 1)

	return func(yield func(DateKey) bool) {
		for i := 0; ; i += interval {
			candidate := clampedDate(w.Start.Year, w.Start.Month+time.Month(i), targetDay)
			// the first of the candidate month is past the window: done
			if NewDateKey(candidate.Year, candidate.Month, 1).After(w.End) {
				return
			}
			if !w.Contains(candidate) {
				continue
			}
			if !yield(candidate) {
				return
			}
		}
	}
}

// enumerateYearly repeats the window start's month/day. A February 29th
// anchor lands on February 28th in common years.
func enumerateYearly(rule Rule, w Window) iter.Seq[DateKey] {
	interval := rule.interval()
	month, day := w.Start.Month, w.Start.Day

	return func(yield func(DateKey) bool) {
		for year := w.Start.Year; year <= w.End.Year; year += interval {
			candidate := clampedDate(year, month, day)
			if !w.Contains(candidate) {
				continue
			}
			if !yield(candidate) {
				return
			}
		}
	}
}

// FilterExceptions drops the dates contained in exceptions.
func FilterExceptions(dates iter.Seq[DateKey], exceptions ExceptionSet) iter.Seq[DateKey] {
	return func(yield func(DateKey) bool) {
		for d := range dates {
			if exceptions.Contains(d) {
				continue
			}
			if !yield(d) {
				return
			}
		}
	}
}
