package recurrence

import "time"

// Window is the inclusive range of calendar dates one generation pass covers.
type Window struct {
	Start DateKey
	End   DateKey
}

// Contains reports whether k lies within [Start, End].
func (w Window) Contains(k DateKey) bool {
	return !k.Before(w.Start) && !k.After(w.End)
}

// ComputeWindow derives the generation window of rule at instant now.
//
// The window starts at the later of the rule's start date and today (both
// as dates in the rule's zone), so nothing is generated for past days. It
// ends horizonDays later, or earlier at the rule's end date, but never
// before it starts.
func ComputeWindow(rule Rule, now time.Time, horizonDays int) Window {
	loc := rule.location()
	today := LocalDateKey(now, loc)
	ruleStart := LocalDateKey(rule.StartDate, loc)

	start := maxKey(ruleStart, today)
	end := start.AddDays(horizonDays)
	if rule.EndDate != nil {
		end = minKey(LocalDateKey(*rule.EndDate, loc), end)
	}
	end = maxKey(end, start)

	return Window{Start: start, End: end}
}
