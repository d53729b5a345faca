package storage

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Error types
type ErrorType string

const (
	ErrNotFound      ErrorType = "not_found"
	ErrAlreadyExists ErrorType = "already_exists"
	ErrInvalidInput  ErrorType = "invalid_input"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a storage error of type ErrNotFound.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == ErrNotFound
}

// EventStatus is the lifecycle state of an event. Generation always writes
// StatusUpcoming; other states are set by callers.
type EventStatus string

const (
	StatusUpcoming  EventStatus = "upcoming"
	StatusCompleted EventStatus = "completed"
	StatusMissed    EventStatus = "missed"
	StatusCancelled EventStatus = "cancelled"
)

// Details is the vaccine/medication payload a rule copies onto its events.
type Details struct {
	Notes          string `json:"notes,omitempty" yaml:"notes,omitempty"`
	VaccineName    string `json:"vaccine_name,omitempty" yaml:"vaccine_name,omitempty"`
	VaccineBatch   string `json:"vaccine_batch,omitempty" yaml:"vaccine_batch,omitempty"`
	MedicationName string `json:"medication_name,omitempty" yaml:"medication_name,omitempty"`
	Dosage         string `json:"dosage,omitempty" yaml:"dosage,omitempty"`
}

// RecurrenceRule is the persisted form of a rule.
type RecurrenceRule struct {
	ID              string  `json:"id"`
	PetID           string  `json:"pet_id"`
	Title           string  `json:"title"`
	EventType       string  `json:"event_type"`
	ReminderEnabled bool    `json:"reminder_enabled"`
	ReminderPreset  string  `json:"reminder_preset,omitempty"`
	Details         Details `json:"details"`

	Frequency string `json:"frequency"`
	Interval  int    `json:"interval"`
	// DaysOfWeek holds 0 (Sunday) to 6 (Saturday)
	DaysOfWeek  []int    `json:"days_of_week,omitempty"`
	DayOfMonth  *int     `json:"day_of_month,omitempty"`
	TimesPerDay *int     `json:"times_per_day,omitempty"`
	DailyTimes  []string `json:"daily_times,omitempty"`
	Timezone    string   `json:"timezone"`

	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	ExceptionDates []string   `json:"exception_dates,omitempty"`

	IsActive          bool       `json:"is_active"`
	LastGeneratedDate *time.Time `json:"last_generated_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of r.
func (r *RecurrenceRule) Clone() *RecurrenceRule {
	if r == nil {
		return nil
	}
	c := *r
	c.DaysOfWeek = slices.Clone(r.DaysOfWeek)
	c.DailyTimes = slices.Clone(r.DailyTimes)
	c.ExceptionDates = slices.Clone(r.ExceptionDates)
	c.DayOfMonth = clonePtr(r.DayOfMonth)
	c.TimesPerDay = clonePtr(r.TimesPerDay)
	c.EndDate = clonePtr(r.EndDate)
	c.LastGeneratedDate = clonePtr(r.LastGeneratedDate)
	return &c
}

// Event is one materialized occurrence of a rule.
type Event struct {
	ID    string `json:"id"`
	PetID string `json:"pet_id"`
	// RecurrenceRuleID is a weak reference; events never outlive their rule
	// in practice but nothing enforces it at read time.
	RecurrenceRuleID string `json:"recurrence_rule_id"`
	// SeriesIndex is the position within the generation that produced it.
	SeriesIndex int `json:"series_index"`

	Title           string  `json:"title"`
	EventType       string  `json:"event_type"`
	ReminderEnabled bool    `json:"reminder_enabled"`
	ReminderPreset  string  `json:"reminder_preset,omitempty"`
	Details         Details `json:"details"`

	StartTime time.Time   `json:"start_time"`
	Status    EventStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// RuleFilter selects a page of rules. Page is 1-based; Limit <= 0 returns
// every matching rule.
type RuleFilter struct {
	Page     int
	Limit    int
	IsActive *bool
	PetID    string
}

// Matches reports whether r passes the filter's predicates.
func (f RuleFilter) Matches(r *RecurrenceRule) bool {
	if f.IsActive != nil && r.IsActive != *f.IsActive {
		return false
	}
	if f.PetID != "" && r.PetID != f.PetID {
		return false
	}
	return true
}

// Offset returns the number of matching rules to skip.
func (f RuleFilter) Offset() int {
	if f.Limit <= 0 || f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
