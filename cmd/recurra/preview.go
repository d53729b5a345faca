package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cyp0633/recurra/server/recurrence"
	"github.com/cyp0633/recurra/server/repository"
	"github.com/cyp0633/recurra/server/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML shape accepted by preview.
type ruleFile struct {
	PetID     string          `yaml:"pet_id"`
	Title     string          `yaml:"title"`
	EventType string          `yaml:"event_type"`
	Details   storage.Details `yaml:"details"`

	Frequency   string   `yaml:"frequency"`
	Interval    int      `yaml:"interval"`
	DaysOfWeek  []int    `yaml:"days_of_week"`
	DayOfMonth  *int     `yaml:"day_of_month"`
	TimesPerDay *int     `yaml:"times_per_day"`
	DailyTimes  []string `yaml:"daily_times"`
	Timezone    string   `yaml:"timezone"`

	StartDate      time.Time  `yaml:"start_date"`
	EndDate        *time.Time `yaml:"end_date"`
	ExceptionDates []string   `yaml:"exception_dates"`
}

func (f ruleFile) rule() *storage.RecurrenceRule {
	return &storage.RecurrenceRule{
		ID:             "preview",
		PetID:          f.PetID,
		Title:          f.Title,
		EventType:      f.EventType,
		Details:        f.Details,
		Frequency:      f.Frequency,
		Interval:       max(f.Interval, 1),
		DaysOfWeek:     f.DaysOfWeek,
		DayOfMonth:     f.DayOfMonth,
		TimesPerDay:    f.TimesPerDay,
		DailyTimes:     f.DailyTimes,
		Timezone:       f.Timezone,
		StartDate:      f.StartDate,
		EndDate:        f.EndDate,
		ExceptionDates: f.ExceptionDates,
		IsActive:       true,
	}
}

func loadRuleFile(path string) (ruleFile, error) {
	var f ruleFile
	data, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.StartDate.IsZero() {
		return f, fmt.Errorf("%s: start_date is required", path)
	}
	return f, nil
}

func runPreview(cmd *cobra.Command, _ []string) error {
	f, err := loadRuleFile(rulePath)
	if err != nil {
		return err
	}
	now := time.Now()
	if previewNow != "" {
		if now, err = time.Parse(time.RFC3339, previewNow); err != nil {
			return fmt.Errorf("invalid --now: %w", err)
		}
	}
	return preview(cmd.OutOrStdout(), recurrence.NewEngine(), f, now, previewFormat)
}

// preview expands f as of now and writes it to w as text or ICS.
func preview(w io.Writer, engine *recurrence.Engine, f ruleFile, now time.Time, format string) error {
	rule := f.rule()
	loc := recurrence.NewFallbackResolver("UTC").Resolve(rule.Timezone)
	er, err := repository.ToEngineRule(rule, loc)
	if err != nil {
		return err
	}
	gen := engine.Generate(er, now)

	switch format {
	case "ics":
		events := make([]*storage.Event, len(gen.Occurrences))
		for i, o := range gen.Occurrences {
			events[i] = &storage.Event{
				ID:               fmt.Sprintf("preview-%d", i),
				PetID:            rule.PetID,
				RecurrenceRuleID: rule.ID,
				SeriesIndex:      i,
				Title:            rule.Title,
				EventType:        rule.EventType,
				Details:          rule.Details,
				StartTime:        o.Start,
				Status:           storage.StatusUpcoming,
			}
		}
		body, err := storage.EventsToICS(rule.Title, events, now)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, body)
		return err
	case "text", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	fmt.Fprintf(w, "rule:    %s (%s, every %d)\n", rule.Title, er.Frequency, rule.Interval)
	fmt.Fprintf(w, "zone:    %s\n", loc)
	fmt.Fprintf(w, "window:  %s .. %s\n", gen.Window.Start, gen.Window.End)
	rr, err := engine.RRuleString(er, now)
	switch {
	case err == nil:
		fmt.Fprintf(w, "rrule:   %s\n", rr)
	case errors.Is(err, recurrence.ErrNotExpressible):
		fmt.Fprintf(w, "rrule:   (not expressible)\n")
	default:
		return err
	}
	fmt.Fprintln(w)
	for i, o := range gen.Occurrences {
		fmt.Fprintf(w, "%4d  %s %s %s  %s\n", i, o.Date, o.Time, o.Date.Weekday().String()[:3], o.Start.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "\n%d occurrences", len(gen.Occurrences))
	if gen.Truncated {
		fmt.Fprintf(w, " (truncated at %d)", engine.Config().MaxOccurrences)
	}
	fmt.Fprintln(w)
	return nil
}
