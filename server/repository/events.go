package repository

import (
	"context"
	"fmt"

	"github.com/cyp0633/recurra/server/notify"
	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/storage"
)

// EventQuery narrows GetEventsByRuleID. By default only events starting
// at or after now are returned; Limit > 0 caps the result.
type EventQuery struct {
	IncludePast bool
	Limit       int
}

// ExceptionResult reports the effect of AddException.
type ExceptionResult struct {
	// DateKey is the normalized YYYY-MM-DD date in the rule's zone
	DateKey       string
	Added         bool
	EventsDeleted int
}

// NoOp reports whether the call changed nothing.
func (r ExceptionResult) NoOp() bool {
	return !r.Added && r.EventsDeleted == 0
}

// GetEventsByRuleID returns a rule's events in start order. An unknown
// rule id yields an empty list.
func (r *Repository) GetEventsByRuleID(ctx context.Context, id string, q EventQuery) ([]*storage.Event, error) {
	events, err := r.eventsOf(ctx, id)
	if err != nil {
		return nil, err
	}

	if !q.IncludePast {
		now := r.now()
		upcoming := events[:0]
		for _, e := range events {
			if !e.StartTime.Before(now) {
				upcoming = append(upcoming, e)
			}
		}
		events = upcoming
	}
	if q.Limit > 0 && len(events) > q.Limit {
		events = events[:q.Limit]
	}
	return events, nil
}

func (r *Repository) eventsOf(ctx context.Context, id string) ([]*storage.Event, error) {
	var gen uint64
	if r.cache != nil {
		// taken before the store read so a concurrent write wins
		gen = r.cache.Generation(id)
		if events, ok := r.cache.Get(id); ok {
			return events, nil
		}
	}
	events, err := r.store.ListEventsByRule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list events of rule %s: %w", id, err)
	}
	if r.cache != nil && !r.cache.SetIfCurrent(id, gen, events) {
		r.logger.Debug("stale event fill dropped", "rule_id", id)
	}
	return events, nil
}

// AddException excludes one date from the rule. date is either YYYY-MM-DD
// or an RFC 3339 instant, taken as a date in the rule's zone. Adding a
// date that is already excluded is not an error. Already generated events
// on that date are deleted; nothing is regenerated.
func (r *Repository) AddException(ctx context.Context, id, date string) (res ExceptionResult, err error) {
	defer func() { observe("add_exception", err) }()

	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return ExceptionResult{}, mapStoreErr(err, id)
	}

	loc := r.timezones.Resolve(rule.Timezone)
	key, err := recurrence.NormalizeDateKey(date, loc)
	if err != nil {
		return ExceptionResult{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	added, err := r.store.AddExceptionDate(ctx, id, key.String())
	if err != nil {
		return ExceptionResult{}, mapStoreErr(err, id)
	}

	events, err := r.store.ListEventsByRule(ctx, id)
	if err != nil {
		return ExceptionResult{}, fmt.Errorf("failed to list events of rule %s: %w", id, err)
	}
	var doomed []string
	for _, e := range events {
		if recurrence.LocalDateKey(e.StartTime, loc) == key {
			doomed = append(doomed, e.ID)
		}
	}
	deleted, err := r.store.DeleteEvents(ctx, doomed)
	if err != nil {
		return ExceptionResult{}, fmt.Errorf("failed to delete excepted events: %w", err)
	}
	eventsDeleted.Add(float64(deleted))

	res = ExceptionResult{DateKey: key.String(), Added: added, EventsDeleted: deleted}
	if res.NoOp() {
		r.logger.Debug("exception already present", "rule_id", id, "date", res.DateKey)
		return res, nil
	}

	r.logger.Info("exception added",
		"rule_id", id,
		"date", res.DateKey,
		"events_deleted", deleted)
	r.publish(id, notify.KindExceptionAdded, r.now())
	return res, nil
}
