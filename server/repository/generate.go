package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/storage"
)

// ToEngineRule converts a stored rule into engine input. Weekdays outside
// 0..6 are ignored; malformed daily times are an ErrInvalidInput.
func ToEngineRule(rule *storage.RecurrenceRule, loc *time.Location) (recurrence.Rule, error) {
	times, err := recurrence.NewTimesOfDay(rule.DailyTimes, rule.TimesPerDay)
	if err != nil {
		return recurrence.Rule{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var days []time.Weekday
	for _, d := range rule.DaysOfWeek {
		if d >= 0 && d <= 6 {
			days = append(days, time.Weekday(d))
		}
	}
	dayOfMonth := 0
	if rule.DayOfMonth != nil {
		dayOfMonth = *rule.DayOfMonth
	}

	return recurrence.Rule{
		Frequency:  recurrence.ParseFrequency(rule.Frequency),
		Interval:   rule.Interval,
		DaysOfWeek: days,
		DayOfMonth: dayOfMonth,
		Times:      times,
		Location:   loc,
		StartDate:  rule.StartDate,
		EndDate:    rule.EndDate,
		Exceptions: recurrence.NewExceptionSet(rule.ExceptionDates),
	}, nil
}

// EngineRule resolves the rule's zone and converts it to engine input.
func (r *Repository) EngineRule(rule *storage.RecurrenceRule) (recurrence.Rule, error) {
	return ToEngineRule(rule, r.timezones.Resolve(rule.Timezone))
}

// plan is a generation pass that has not been written yet.
type plan struct {
	events    []*storage.Event
	window    recurrence.Window
	truncated bool
}

// generate runs the engine for rule as of now and builds the event rows.
func (r *Repository) generate(rule *storage.RecurrenceRule, now time.Time) (plan, error) {
	er, err := r.EngineRule(rule)
	if err != nil {
		return plan{}, err
	}

	start := time.Now()
	gen := r.engine.Generate(er, now)
	generationDuration.Observe(time.Since(start).Seconds())

	events := make([]*storage.Event, len(gen.Occurrences))
	for i, o := range gen.Occurrences {
		events[i] = &storage.Event{
			ID:               r.ids.NewID(),
			PetID:            rule.PetID,
			RecurrenceRuleID: rule.ID,
			SeriesIndex:      i,
			Title:            rule.Title,
			EventType:        rule.EventType,
			ReminderEnabled:  rule.ReminderEnabled,
			ReminderPreset:   rule.ReminderPreset,
			Details:          rule.Details,
			StartTime:        o.Start,
			Status:           storage.StatusUpcoming,
			CreatedAt:        now,
		}
	}

	if gen.Truncated {
		generationTruncated.Inc()
		r.logger.Debug("generation truncated",
			"rule_id", rule.ID,
			"max_occurrences", r.engine.Config().MaxOccurrences,
			"window_start", gen.Window.Start.String(),
			"window_end", gen.Window.End.String())
	}
	return plan{events: events, window: gen.Window, truncated: gen.Truncated}, nil
}

// replace swaps the rule's events for p's and returns the deleted count.
func (r *Repository) replace(ctx context.Context, ruleID string, p plan) (int, error) {
	deleted, err := r.store.ReplaceEvents(ctx, ruleID, p.events)
	if err != nil {
		return 0, fmt.Errorf("failed to store events of rule %s: %w", ruleID, err)
	}
	eventsGenerated.Add(float64(len(p.events)))
	eventsDeleted.Add(float64(deleted))
	return deleted, nil
}

// RRule renders the rule's cadence as an RRULE value as of now. Rules with
// no RRULE form yield recurrence.ErrNotExpressible.
func (r *Repository) RRule(rule *storage.RecurrenceRule) (string, error) {
	er, err := r.EngineRule(rule)
	if err != nil {
		return "", err
	}
	return r.engine.RRuleString(er, r.now())
}
