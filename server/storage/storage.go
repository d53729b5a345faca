package storage

import (
	"context"
	"time"
)

// Storage persists recurrence rules and the events generated from them.
// Implementations return *Error values; a missing rule is reported with
// Type ErrNotFound.
type Storage interface {
	// CreateRule inserts a new rule. The ID must be set by the caller.
	CreateRule(ctx context.Context, rule *RecurrenceRule) error
	// GetRule fetches a rule by id.
	GetRule(ctx context.Context, id string) (*RecurrenceRule, error)
	// ListRules returns one page of rules ordered by creation time, plus the
	// total number of rules matching the filter.
	ListRules(ctx context.Context, filter RuleFilter) ([]*RecurrenceRule, int, error)
	// UpdateRule overwrites every field of an existing rule.
	UpdateRule(ctx context.Context, rule *RecurrenceRule) error
	// MarkGenerated sets only the rule's LastGeneratedDate. Other fields,
	// including exception dates added concurrently, are left alone.
	MarkGenerated(ctx context.Context, id string, at time.Time) error
	// DeleteRule removes the rule row. Events are not touched.
	DeleteRule(ctx context.Context, id string) error
	// AddExceptionDate adds dateKey to the rule's exception set. It reports
	// false when the date was already present.
	AddExceptionDate(ctx context.Context, ruleID, dateKey string) (bool, error)

	// ListEventsByRule returns a rule's events ordered by StartTime.
	ListEventsByRule(ctx context.Context, ruleID string) ([]*Event, error)
	// ReplaceEvents atomically deletes every event of the rule and inserts
	// events in its place. It returns the number of deleted events.
	ReplaceEvents(ctx context.Context, ruleID string, events []*Event) (int, error)
	// DeleteEventsByRule deletes every event of the rule.
	DeleteEventsByRule(ctx context.Context, ruleID string) (int, error)
	// DeleteEvents deletes events by id; unknown ids are ignored.
	DeleteEvents(ctx context.Context, ids []string) (int, error)
}
