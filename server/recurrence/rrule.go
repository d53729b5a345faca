package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrNotExpressible is returned when a rule cannot be written as a single
// RRULE: daily times that are not a BYHOUR×BYMINUTE product, or several
// daily times combined with end-of-month clamping.
var ErrNotExpressible = errors.New("rule cannot be expressed as an RRULE")

var rruleWeekdays = [7]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// ToRRule describes the cadence of rule over window w as an RFC 5545
// recurrence rule anchored at the window start. Exceptions and the
// occurrence cap are not part of the result; see ToRRuleSet.
func (e *Engine) ToRRule(rule Rule, w Window) (*rrule.RRule, error) {
	loc := rule.location()
	times := e.config.dailyTimes(rule.Times)

	hours, minutes, ok := timeProduct(times)
	if !ok {
		return nil, ErrNotExpressible
	}

	opt := rrule.ROption{
		Interval: rule.interval(),
		Dtstart:  time.Date(w.Start.Year, w.Start.Month, w.Start.Day, times[0].Hour, times[0].Minute, 0, 0, loc),
		Until:    time.Date(w.End.Year, w.End.Month, w.End.Day, 23, 59, 59, 0, loc),
		Byhour:   hours,
		Byminute: minutes,
		Bysecond: []int{0},
	}

	switch rule.Frequency {
	case FrequencyWeekly:
		opt.Freq = rrule.WEEKLY
		// weeks are counted in 7-day blocks from the window start
		opt.Wkst = rruleWeekdays[w.Start.Weekday()]
		days := rule.DaysOfWeek
		if len(days) == 0 {
			days = []time.Weekday{w.Start.Weekday()}
		}
		for _, d := range days {
			if d >= time.Sunday && d <= time.Saturday {
				opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d])
			}
		}
	case FrequencyMonthly:
		opt.Freq = rrule.MONTHLY
		day := rule.DayOfMonth
		if day == 0 {
			day = w.Start.Day
		}
		opt.Bymonthday, opt.Bysetpos = clampedMonthDay(max(day, 1))
	case FrequencyYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{int(w.Start.Month)}
		opt.Bymonthday, opt.Bysetpos = clampedMonthDay(w.Start.Day)
	default:
		opt.Freq = rrule.DAILY
	}
	// BYSETPOS picks among all instances of a period, times included
	if len(opt.Bysetpos) > 0 && len(times) > 1 {
		return nil, ErrNotExpressible
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE: %w", err)
	}
	return r, nil
}

// ToRRuleSet is ToRRule plus one EXDATE per excepted date and daily time.
func (e *Engine) ToRRuleSet(rule Rule, w Window) (*rrule.Set, error) {
	r, err := e.ToRRule(rule, w)
	if err != nil {
		return nil, err
	}
	set := &rrule.Set{}
	set.RRule(r)

	loc := rule.location()
	for k := range rule.Exceptions {
		if !w.Contains(k) {
			continue
		}
		for _, t := range e.config.dailyTimes(rule.Times) {
			set.ExDate(time.Date(k.Year, k.Month, k.Day, t.Hour, t.Minute, 0, 0, loc))
		}
	}
	return set, nil
}

// RRuleString returns the RRULE value (without DTSTART) for rule as of now.
func (e *Engine) RRuleString(rule Rule, now time.Time) (string, error) {
	r, err := e.ToRRule(rule, ComputeWindow(rule, now, e.config.HorizonDays))
	if err != nil {
		return "", err
	}
	return r.OrigOptions.RRuleString(), nil
}

// clampedMonthDay expresses "day, or the month's last day if shorter".
// Days up to 28 exist in every month; later days take the last existing
// candidate from 28..day.
func clampedMonthDay(day int) (bymonthday, bysetpos []int) {
	if day <= 28 {
		return []int{day}, nil
	}
	for d := 28; d <= min(day, 31); d++ {
		bymonthday = append(bymonthday, d)
	}
	return bymonthday, []int{-1}
}

// timeProduct reports whether times is exactly the cross product of its
// distinct hours and minutes.
func timeProduct(times []ClockTime) (hours, minutes []int, ok bool) {
	seenH := map[int]bool{}
	seenM := map[int]bool{}
	seen := map[ClockTime]bool{}
	for _, t := range times {
		if !seenH[t.Hour] {
			seenH[t.Hour] = true
			hours = append(hours, t.Hour)
		}
		if !seenM[t.Minute] {
			seenM[t.Minute] = true
			minutes = append(minutes, t.Minute)
		}
		seen[t] = true
	}
	return hours, minutes, len(hours)*len(minutes) == len(seen)
}
