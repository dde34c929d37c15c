// Package recurrence computes the next due time for recurring chores.
package recurrence

import (
	"time"

	"github.com/dukerupert/choreboard/internal/model"
)

// Next returns the due time that follows due under r. It returns the zero time
// for RecurrenceNone or an unknown value. The wall-clock time and location of
// due are preserved, so a daily 18:00 chore stays at 18:00 across DST.
func Next(r model.Recurrence, due time.Time) time.Time {
	return NextAnchored(r, due, due.Day())
}

// NextAnchored is Next for a series whose monthly occurrences fall on
// anchorDay, clamped to the length of each month. anchorDay is ignored for
// daily and weekly recurrences; values outside 1..31 mean due's own day.
func NextAnchored(r model.Recurrence, due time.Time, anchorDay int) time.Time {
	switch r {
	case model.RecurrenceDaily:
		return due.AddDate(0, 0, 1)
	case model.RecurrenceWeekly:
		return due.AddDate(0, 0, 7)
	case model.RecurrenceMonthly:
		if anchorDay < 1 || anchorDay > 31 {
			anchorDay = due.Day()
		}
		return addMonth(due, anchorDay)
	}
	return time.Time{}
}

// addMonth moves due to day of the following calendar month, clamping to its
// last day (31 becomes Feb 28 or 29).
func addMonth(due time.Time, day int) time.Time {
	year, month, _ := due.Date()
	month++
	if month > time.December {
		month = time.January
		year++
	}
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, due.Hour(), due.Minute(), due.Second(), due.Nanosecond(), due.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// WeekStart returns midnight of the first day of the week containing t, in t's
// location. first is the weekday a week begins on.
func WeekStart(t time.Time, first time.Weekday) time.Time {
	offset := int(t.Weekday()) - int(first)
	if offset < 0 {
		offset += 7
	}
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
