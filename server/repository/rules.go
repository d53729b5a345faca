package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cyp0633/recurra/server/notify"
	"github.com/cyp0633/recurra/server/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// RuleDraft holds the caller-supplied fields of a new rule.
type RuleDraft struct {
	PetID           string
	Title           string
	EventType       string
	ReminderEnabled bool
	ReminderPreset  string
	Details         storage.Details

	Frequency   string
	Interval    int
	DaysOfWeek  []int
	DayOfMonth  *int
	TimesPerDay *int
	DailyTimes  []string
	Timezone    string

	StartDate      time.Time
	EndDate        *time.Time
	ExceptionDates []string
}

// RuleResult is returned by the operations that (re)generate events.
type RuleResult struct {
	Rule          *storage.RecurrenceRule
	EventsCreated int
	EventsDeleted int
	// Truncated is set when the occurrence cap cut the pass short
	Truncated bool
}

// RulePage is one page of GetRules.
type RulePage struct {
	Rules []*storage.RecurrenceRule
	Total int
	Page  int
	Limit int
}

// DeleteResult reports what DeleteRule removed.
type DeleteResult struct {
	EventsDeleted int
}

// CreateRule stores a new active rule and generates its events.
func (r *Repository) CreateRule(ctx context.Context, draft RuleDraft) (res RuleResult, err error) {
	defer func() { observe("create", err) }()

	now := r.now()
	rule := &storage.RecurrenceRule{
		ID:              r.ids.NewID(),
		PetID:           draft.PetID,
		Title:           draft.Title,
		EventType:       draft.EventType,
		ReminderEnabled: draft.ReminderEnabled,
		ReminderPreset:  draft.ReminderPreset,
		Details:         draft.Details,
		Frequency:       draft.Frequency,
		Interval:        draft.Interval,
		DaysOfWeek:      normalizeWeekdays(draft.DaysOfWeek),
		DayOfMonth:      draft.DayOfMonth,
		TimesPerDay:     draft.TimesPerDay,
		DailyTimes:      slices.Clone(draft.DailyTimes),
		Timezone:        draft.Timezone,
		StartDate:       draft.StartDate,
		EndDate:         draft.EndDate,
		ExceptionDates:  slices.Clone(draft.ExceptionDates),
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if rule.Interval < 1 {
		rule.Interval = 1
	}

	p, err := r.generate(rule, now)
	if err != nil {
		return RuleResult{}, err
	}
	rule.LastGeneratedDate = &now

	if err := r.store.CreateRule(ctx, rule); err != nil {
		return RuleResult{}, fmt.Errorf("failed to store rule: %w", err)
	}
	if _, err := r.replace(ctx, rule.ID, p); err != nil {
		// a failed create leaves nothing behind
		if derr := r.store.DeleteRule(ctx, rule.ID); derr != nil {
			r.logger.Error("failed to roll back rule", "rule_id", rule.ID, "error", derr)
		}
		return RuleResult{}, err
	}

	r.logger.Info("rule created",
		"rule_id", rule.ID,
		"pet_id", rule.PetID,
		"frequency", rule.Frequency,
		"events_created", len(p.events))
	r.publish(rule.ID, notify.KindCreated, now)

	return RuleResult{Rule: rule, EventsCreated: len(p.events), Truncated: p.truncated}, nil
}

// GetRuleByID fetches one rule.
func (r *Repository) GetRuleByID(ctx context.Context, id string) (*storage.RecurrenceRule, error) {
	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err, id)
	}
	return rule, nil
}

// GetRules lists rules page by page. Page defaults to 1 and Limit to 20.
func (r *Repository) GetRules(ctx context.Context, filter storage.RuleFilter) (RulePage, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	filter.Limit = min(filter.Limit, maxPageSize)

	rules, total, err := r.store.ListRules(ctx, filter)
	if err != nil {
		return RulePage{}, fmt.Errorf("failed to list rules: %w", err)
	}
	return RulePage{Rules: rules, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// UpdateRule merges patch into the rule, drops all of its events and, if
// the rule is still active, generates a fresh set.
func (r *Repository) UpdateRule(ctx context.Context, id string, patch RulePatch) (res RuleResult, err error) {
	defer func() { observe("update", err) }()

	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return RuleResult{}, mapStoreErr(err, id)
	}

	now := r.now()
	patch.Apply(rule)
	rule.DaysOfWeek = normalizeWeekdays(rule.DaysOfWeek)
	rule.UpdatedAt = now

	var p plan
	if rule.IsActive {
		if p, err = r.generate(rule, now); err != nil {
			return RuleResult{}, err
		}
		rule.LastGeneratedDate = &now
	}

	if err := r.store.UpdateRule(ctx, rule); err != nil {
		return RuleResult{}, mapStoreErr(err, id)
	}
	deleted, err := r.replace(ctx, id, p)
	if err != nil {
		return RuleResult{}, err
	}

	r.logger.Info("rule updated",
		"rule_id", id,
		"is_active", rule.IsActive,
		"events_deleted", deleted,
		"events_created", len(p.events))
	r.publish(id, notify.KindUpdated, now)

	return RuleResult{Rule: rule, EventsCreated: len(p.events), EventsDeleted: deleted, Truncated: p.truncated}, nil
}

// DeleteRule removes the rule's events and then the rule.
func (r *Repository) DeleteRule(ctx context.Context, id string) (res DeleteResult, err error) {
	defer func() { observe("delete", err) }()

	if _, err := r.store.GetRule(ctx, id); err != nil {
		return DeleteResult{}, mapStoreErr(err, id)
	}
	deleted, err := r.store.DeleteEventsByRule(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete events of rule %s: %w", id, err)
	}
	eventsDeleted.Add(float64(deleted))
	if err := r.store.DeleteRule(ctx, id); err != nil {
		return DeleteResult{}, mapStoreErr(err, id)
	}

	r.logger.Info("rule deleted", "rule_id", id, "events_deleted", deleted)
	r.publish(id, notify.KindDeleted, r.now())

	return DeleteResult{EventsDeleted: deleted}, nil
}

// RegenerateEvents replaces the rule's events with a fresh pass from now
// without changing its fields. Inactive rules end up with no events.
func (r *Repository) RegenerateEvents(ctx context.Context, id string) (res RuleResult, err error) {
	defer func() { observe("regenerate", err) }()

	rule, err := r.store.GetRule(ctx, id)
	if err != nil {
		return RuleResult{}, mapStoreErr(err, id)
	}

	now := r.now()
	var p plan
	if rule.IsActive {
		if p, err = r.generate(rule, now); err != nil {
			return RuleResult{}, err
		}
	}

	deleted, err := r.replace(ctx, id, p)
	if err != nil {
		return RuleResult{}, err
	}
	if rule.IsActive {
		if err := r.store.MarkGenerated(ctx, id, now); err != nil {
			return RuleResult{}, mapStoreErr(err, id)
		}
		rule.LastGeneratedDate = &now
	}

	r.logger.Info("rule regenerated",
		"rule_id", id,
		"events_deleted", deleted,
		"events_created", len(p.events))
	r.publish(id, notify.KindRegenerated, now)

	return RuleResult{Rule: rule, EventsCreated: len(p.events), EventsDeleted: deleted, Truncated: p.truncated}, nil
}

// normalizeWeekdays sorts and deduplicates weekday numbers.
func normalizeWeekdays(days []int) []int {
	if len(days) == 0 {
		return nil
	}
	out := slices.Clone(days)
	slices.Sort(out)
	return slices.Compact(out)
}
