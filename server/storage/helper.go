package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const icsProductID = "-//Recurra//Go Recurrence//EN"

// EventToIcal converts an event into a VEVENT component stamped at stamp.
func EventToIcal(e *Event, stamp time.Time) *ical.Event {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, e.ID)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
	ev.Props.SetText(ical.PropSummary, e.Title)
	if e.EventType != "" {
		ev.Props.SetText(ical.PropCategories, e.EventType)
	}
	if desc := describe(e.Details); desc != "" {
		ev.Props.SetText(ical.PropDescription, desc)
	}
	if e.RecurrenceRuleID != "" {
		ev.Props.SetText(ical.PropRelatedTo, e.RecurrenceRuleID)
	}
	if e.Status == StatusCancelled {
		ev.Props.SetText(ical.PropStatus, "CANCELLED")
	} else {
		ev.Props.SetText(ical.PropStatus, "CONFIRMED")
	}
	return ev
}

// EventsToICS renders events as a single VCALENDAR document named name.
func EventsToICS(name string, events []*Event, stamp time.Time) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icsProductID)
	if name != "" {
		cal.Props.SetText(ical.PropName, name)
		cal.Props.SetText("X-WR-CALNAME", name)
	}

	for _, e := range events {
		cal.Children = append(cal.Children, EventToIcal(e, stamp).Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

func describe(d Details) string {
	var lines []string
	add := func(label, v string) {
		if v != "" {
			lines = append(lines, label+": "+v)
		}
	}
	add("Vaccine", d.VaccineName)
	add("Batch", d.VaccineBatch)
	add("Medication", d.MedicationName)
	add("Dosage", d.Dosage)
	if d.Notes != "" {
		lines = append(lines, d.Notes)
	}
	return strings.Join(lines, "\n")
}
