package repository

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/cyp0633/recurra/server/storage"
	"github.com/samber/mo"
)

// Field is one tri-state patch value: absent (Present false), cleared
// (Present with no value) or set.
type Field[T any] struct {
	Present bool
	Value   mo.Option[T]
}

// Set returns a field carrying v.
func Set[T any](v T) Field[T] {
	return Field[T]{Present: true, Value: mo.Some(v)}
}

// Clear returns a field that resets its target.
func Clear[T any]() Field[T] {
	return Field[T]{Present: true, Value: mo.None[T]()}
}

// UnmarshalJSON marks the field present; null clears it. Keys missing from
// the document never reach this method and stay absent.
func (f *Field[T]) UnmarshalJSON(data []byte) error {
	f.Present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.Value = mo.None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	f.Value = mo.Some(v)
	return nil
}

// applyValue writes a set value into dst; clearing writes the zero value.
func applyValue[T any](f Field[T], dst *T) {
	if f.Present {
		*dst = f.Value.OrEmpty()
	}
}

// applyPtr writes a set value into dst; clearing writes nil.
func applyPtr[T any](f Field[T], dst **T) {
	if !f.Present {
		return
	}
	if v, ok := f.Value.Get(); ok {
		*dst = &v
		return
	}
	*dst = nil
}

// RulePatch is a partial update of a rule. Clearing a field that cannot be
// null resets it to its zero value.
type RulePatch struct {
	PetID           Field[string]          `json:"pet_id"`
	Title           Field[string]          `json:"title"`
	EventType       Field[string]          `json:"event_type"`
	ReminderEnabled Field[bool]            `json:"reminder_enabled"`
	ReminderPreset  Field[string]          `json:"reminder_preset"`
	Details         Field[storage.Details] `json:"details"`

	Frequency   Field[string]   `json:"frequency"`
	Interval    Field[int]      `json:"interval"`
	DaysOfWeek  Field[[]int]    `json:"days_of_week"`
	DayOfMonth  Field[int]      `json:"day_of_month"`
	TimesPerDay Field[int]      `json:"times_per_day"`
	DailyTimes  Field[[]string] `json:"daily_times"`
	Timezone    Field[string]   `json:"timezone"`

	StartDate      Field[time.Time] `json:"start_date"`
	EndDate        Field[time.Time] `json:"end_date"`
	ExceptionDates Field[[]string]  `json:"exception_dates"`
	IsActive       Field[bool]      `json:"is_active"`
}

// Apply merges the patch into rule.
func (p RulePatch) Apply(rule *storage.RecurrenceRule) {
	applyValue(p.PetID, &rule.PetID)
	applyValue(p.Title, &rule.Title)
	applyValue(p.EventType, &rule.EventType)
	applyValue(p.ReminderEnabled, &rule.ReminderEnabled)
	applyValue(p.ReminderPreset, &rule.ReminderPreset)
	applyValue(p.Details, &rule.Details)

	applyValue(p.Frequency, &rule.Frequency)
	applyValue(p.Interval, &rule.Interval)
	applyValue(p.DaysOfWeek, &rule.DaysOfWeek)
	applyPtr(p.DayOfMonth, &rule.DayOfMonth)
	applyPtr(p.TimesPerDay, &rule.TimesPerDay)
	applyValue(p.DailyTimes, &rule.DailyTimes)
	applyValue(p.Timezone, &rule.Timezone)

	applyValue(p.StartDate, &rule.StartDate)
	applyPtr(p.EndDate, &rule.EndDate)
	applyValue(p.ExceptionDates, &rule.ExceptionDates)
	applyValue(p.IsActive, &rule.IsActive)
}

// Empty reports whether no field is present.
func (p RulePatch) Empty() bool {
	return !(p.PetID.Present || p.Title.Present || p.EventType.Present ||
		p.ReminderEnabled.Present || p.ReminderPreset.Present || p.Details.Present ||
		p.Frequency.Present || p.Interval.Present || p.DaysOfWeek.Present ||
		p.DayOfMonth.Present || p.TimesPerDay.Present || p.DailyTimes.Present ||
		p.Timezone.Present || p.StartDate.Present || p.EndDate.Present ||
		p.ExceptionDates.Present || p.IsActive.Present)
}
