package sqlite

import (
	"time"

	"github.com/cyp0633/recurra/server/storage"
)

type DetailColumns struct {
	Notes          string `db:"notes"`
	VaccineName    string `db:"vaccine_name"`
	VaccineBatch   string `db:"vaccine_batch"`
	MedicationName string `db:"medication_name"`
	Dosage         string `db:"dosage"`
}

func fromDetails(d storage.Details) DetailColumns {
	return DetailColumns(d)
}

func (c DetailColumns) details() storage.Details {
	return storage.Details(c)
}

type ruleRow struct {
	ID              string `db:"id"`
	PetID           string `db:"pet_id"`
	Title           string `db:"title"`
	EventType       string `db:"event_type"`
	ReminderEnabled bool   `db:"reminder_enabled"`
	ReminderPreset  string `db:"reminder_preset"`
	DetailColumns

	Frequency   string `db:"frequency"`
	Interval    int    `db:"interval_count"`
	DayOfMonth  *int   `db:"day_of_month"`
	TimesPerDay *int   `db:"times_per_day"`
	Timezone    string `db:"timezone"`

	StartDate         time.Time  `db:"start_date"`
	EndDate           *time.Time `db:"end_date"`
	IsActive          bool       `db:"is_active"`
	LastGeneratedDate *time.Time `db:"last_generated_date"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

const ruleColumns = `id, pet_id, title, event_type, reminder_enabled, reminder_preset,
	notes, vaccine_name, vaccine_batch, medication_name, dosage,
	frequency, interval_count, day_of_month, times_per_day, timezone,
	start_date, end_date, is_active, last_generated_date, created_at, updated_at`

const insertRuleSQL = `INSERT INTO recurrence_rules (` + ruleColumns + `) VALUES (
	:id, :pet_id, :title, :event_type, :reminder_enabled, :reminder_preset,
	:notes, :vaccine_name, :vaccine_batch, :medication_name, :dosage,
	:frequency, :interval_count, :day_of_month, :times_per_day, :timezone,
	:start_date, :end_date, :is_active, :last_generated_date, :created_at, :updated_at)`

const updateRuleSQL = `UPDATE recurrence_rules SET
	pet_id = :pet_id, title = :title, event_type = :event_type,
	reminder_enabled = :reminder_enabled, reminder_preset = :reminder_preset,
	notes = :notes, vaccine_name = :vaccine_name, vaccine_batch = :vaccine_batch,
	medication_name = :medication_name, dosage = :dosage,
	frequency = :frequency, interval_count = :interval_count,
	day_of_month = :day_of_month, times_per_day = :times_per_day, timezone = :timezone,
	start_date = :start_date, end_date = :end_date, is_active = :is_active,
	last_generated_date = :last_generated_date, updated_at = :updated_at
	WHERE id = :id`

func toRuleRow(r *storage.RecurrenceRule) ruleRow {
	return ruleRow{
		ID:                r.ID,
		PetID:             r.PetID,
		Title:             r.Title,
		EventType:         r.EventType,
		ReminderEnabled:   r.ReminderEnabled,
		ReminderPreset:    r.ReminderPreset,
		DetailColumns:     fromDetails(r.Details),
		Frequency:         r.Frequency,
		Interval:          r.Interval,
		DayOfMonth:        r.DayOfMonth,
		TimesPerDay:       r.TimesPerDay,
		Timezone:          r.Timezone,
		StartDate:         r.StartDate.UTC(),
		EndDate:           utcPtr(r.EndDate),
		IsActive:          r.IsActive,
		LastGeneratedDate: utcPtr(r.LastGeneratedDate),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

func (row ruleRow) rule() *storage.RecurrenceRule {
	return &storage.RecurrenceRule{
		ID:                row.ID,
		PetID:             row.PetID,
		Title:             row.Title,
		EventType:         row.EventType,
		ReminderEnabled:   row.ReminderEnabled,
		ReminderPreset:    row.ReminderPreset,
		Details:           row.details(),
		Frequency:         row.Frequency,
		Interval:          row.Interval,
		DayOfMonth:        row.DayOfMonth,
		TimesPerDay:       row.TimesPerDay,
		Timezone:          row.Timezone,
		StartDate:         row.StartDate,
		EndDate:           row.EndDate,
		IsActive:          row.IsActive,
		LastGeneratedDate: row.LastGeneratedDate,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

type eventRow struct {
	ID               string `db:"id"`
	PetID            string `db:"pet_id"`
	RecurrenceRuleID string `db:"recurrence_rule_id"`
	SeriesIndex      int    `db:"series_index"`
	Title            string `db:"title"`
	EventType        string `db:"event_type"`
	ReminderEnabled  bool   `db:"reminder_enabled"`
	ReminderPreset   string `db:"reminder_preset"`
	DetailColumns

	StartTime time.Time `db:"start_time"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

const eventColumns = `id, pet_id, recurrence_rule_id, series_index, title, event_type,
	reminder_enabled, reminder_preset,
	notes, vaccine_name, vaccine_batch, medication_name, dosage,
	start_time, status, created_at`

const insertEventSQL = `INSERT INTO events (` + eventColumns + `) VALUES (
	:id, :pet_id, :recurrence_rule_id, :series_index, :title, :event_type,
	:reminder_enabled, :reminder_preset,
	:notes, :vaccine_name, :vaccine_batch, :medication_name, :dosage,
	:start_time, :status, :created_at)`

func toEventRow(e *storage.Event) eventRow {
	status := e.Status
	if status == "" {
		status = storage.StatusUpcoming
	}
	return eventRow{
		ID:               e.ID,
		PetID:            e.PetID,
		RecurrenceRuleID: e.RecurrenceRuleID,
		SeriesIndex:      e.SeriesIndex,
		Title:            e.Title,
		EventType:        e.EventType,
		ReminderEnabled:  e.ReminderEnabled,
		ReminderPreset:   e.ReminderPreset,
		DetailColumns:    fromDetails(e.Details),
		StartTime:        e.StartTime.UTC(),
		Status:           string(status),
		CreatedAt:        e.CreatedAt.UTC(),
	}
}

func (row eventRow) event() *storage.Event {
	return &storage.Event{
		ID:               row.ID,
		PetID:            row.PetID,
		RecurrenceRuleID: row.RecurrenceRuleID,
		SeriesIndex:      row.SeriesIndex,
		Title:            row.Title,
		EventType:        row.EventType,
		ReminderEnabled:  row.ReminderEnabled,
		ReminderPreset:   row.ReminderPreset,
		Details:          row.details(),
		StartTime:        row.StartTime,
		Status:           storage.EventStatus(row.Status),
		CreatedAt:        row.CreatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
