package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/repository"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/go-playground/validator/v10"
)

// validate is shared by all request types. It knows two extra tags:
// hhmm (24h "HH:MM") and datekey ("YYYY-MM-DD").
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := recurrence.ParseClockTime(fl.Field().String())
		return err == nil
	})
	_ = validate.RegisterValidation("datekey", func(fl validator.FieldLevel) bool {
		_, err := recurrence.ParseDateKey(fl.Field().String())
		return err == nil
	})
}

// CreateRuleRequest is the body of POST /rules.
type CreateRuleRequest struct {
	PetID           string          `json:"pet_id" validate:"required,max=64"`
	Title           string          `json:"title" validate:"required,max=200"`
	EventType       string          `json:"event_type" validate:"max=64"`
	ReminderEnabled bool            `json:"reminder_enabled"`
	ReminderPreset  string          `json:"reminder_preset" validate:"max=64"`
	Details         storage.Details `json:"details"`

	Frequency   string   `json:"frequency" validate:"required,oneof=daily weekly monthly yearly"`
	Interval    int      `json:"interval" validate:"gte=0,lte=366"`
	DaysOfWeek  []int    `json:"days_of_week" validate:"max=7,dive,gte=0,lte=6"`
	DayOfMonth  *int     `json:"day_of_month" validate:"omitempty,gte=1,lte=31"`
	TimesPerDay *int     `json:"times_per_day" validate:"omitempty,gte=1,lte=24"`
	DailyTimes  []string `json:"daily_times" validate:"max=24,dive,hhmm"`
	Timezone    string   `json:"timezone" validate:"omitempty,timezone"`

	StartDate      time.Time  `json:"start_date" validate:"required"`
	EndDate        *time.Time `json:"end_date"`
	ExceptionDates []string   `json:"exception_dates" validate:"dive,datekey"`
}

// Validate checks the request's structure. Cadence consistency is left to
// the engine, which falls back to defaults.
func (r *CreateRuleRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return fmt.Errorf("%w: end_date is before start_date", errBadRequest)
	}
	return nil
}

// Draft converts the request into repository input.
func (r *CreateRuleRequest) Draft() repository.RuleDraft {
	return repository.RuleDraft{
		PetID:           r.PetID,
		Title:           r.Title,
		EventType:       r.EventType,
		ReminderEnabled: r.ReminderEnabled,
		ReminderPreset:  r.ReminderPreset,
		Details:         r.Details,
		Frequency:       r.Frequency,
		Interval:        r.Interval,
		DaysOfWeek:      r.DaysOfWeek,
		DayOfMonth:      r.DayOfMonth,
		TimesPerDay:     r.TimesPerDay,
		DailyTimes:      r.DailyTimes,
		Timezone:        r.Timezone,
		StartDate:       r.StartDate,
		EndDate:         r.EndDate,
		ExceptionDates:  r.ExceptionDates,
	}
}

// ExceptionRequest is the body of POST /rules/{id}/exceptions. Date is a
// YYYY-MM-DD date or an RFC 3339 instant.
type ExceptionRequest struct {
	Date string `json:"date" validate:"required"`
}

func (r *ExceptionRequest) Validate() error {
	return validate.Struct(r)
}

// validatePatch checks the values a patch sets. Cleared and absent fields
// are always acceptable.
func validatePatch(p repository.RulePatch) error {
	checks := []struct {
		field string
		value any
		tag   string
		set   bool
	}{
		{"title", p.Title.Value.OrEmpty(), "required,max=200", p.Title.Value.IsPresent()},
		{"pet_id", p.PetID.Value.OrEmpty(), "required,max=64", p.PetID.Value.IsPresent()},
		{"frequency", p.Frequency.Value.OrEmpty(), "oneof=daily weekly monthly yearly", p.Frequency.Value.IsPresent()},
		{"interval", p.Interval.Value.OrEmpty(), "gte=0,lte=366", p.Interval.Value.IsPresent()},
		{"days_of_week", p.DaysOfWeek.Value.OrEmpty(), "max=7,dive,gte=0,lte=6", p.DaysOfWeek.Value.IsPresent()},
		{"day_of_month", p.DayOfMonth.Value.OrEmpty(), "gte=1,lte=31", p.DayOfMonth.Value.IsPresent()},
		{"times_per_day", p.TimesPerDay.Value.OrEmpty(), "gte=1,lte=24", p.TimesPerDay.Value.IsPresent()},
		{"daily_times", p.DailyTimes.Value.OrEmpty(), "max=24,dive,hhmm", p.DailyTimes.Value.IsPresent()},
		{"timezone", p.Timezone.Value.OrEmpty(), "omitempty,timezone", p.Timezone.Value.IsPresent()},
		{"exception_dates", p.ExceptionDates.Value.OrEmpty(), "dive,datekey", p.ExceptionDates.Value.IsPresent()},
	}
	var errs []error
	for _, c := range checks {
		if !c.set {
			continue
		}
		if err := validate.Var(c.value, c.tag); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.field, err))
		}
	}
	if p.StartDate.Present && p.StartDate.Value.IsAbsent() {
		errs = append(errs, errors.New("start_date: cannot be cleared"))
	}
	return errors.Join(errs...)
}
