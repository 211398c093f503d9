// Package timeutil provides timezone utilities for the Berlin timezone, where
// the classrooms using the Klassenbuch live. School-day and school-week bounds
// drive the history queries and the daily reset job.
// No external dependencies - uses only standard library.
package timeutil

import (
	"time"
)

// BerlinTZ is the Europe/Berlin timezone (CET/CEST with DST).
// Falls back to a fixed UTC+1 zone if the tz database is unavailable.
var BerlinTZ = loadBerlin()

func loadBerlin() *time.Location {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		return time.FixedZone("Europe/Berlin", 1*60*60)
	}
	return loc
}

// Now returns the current time in Berlin timezone.
func Now() time.Time {
	return time.Now().In(BerlinTZ)
}

// ToBerlin converts a time to Berlin timezone.
func ToBerlin(t time.Time) time.Time {
	return t.In(BerlinTZ)
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Date creates a time in Berlin timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, BerlinTZ)
}

// StartOfDay returns the start of the school day (00:00:00) in Berlin timezone.
func StartOfDay(t time.Time) time.Time {
	local := ToBerlin(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, BerlinTZ)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in Berlin timezone.
func EndOfDay(t time.Time) time.Time {
	local := ToBerlin(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, BerlinTZ)
}

// StartOfWeek returns the start of the school week (Monday 00:00) containing t.
func StartOfWeek(t time.Time) time.Time {
	local := StartOfDay(t)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the preceding school week
	}
	return local.AddDate(0, 0, -(weekday - 1))
}

// SameDay reports whether two times fall on the same Berlin calendar day.
func SameDay(a, b time.Time) bool {
	la, lb := ToBerlin(a), ToBerlin(b)
	return la.Year() == lb.Year() && la.YearDay() == lb.YearDay()
}

// DaysBetween returns the number of whole calendar days between two times.
func DaysBetween(from, to time.Time) int {
	return int(StartOfDay(to).Sub(StartOfDay(from)).Hours() / 24)
}

// FormatDate formats a time as a date string (DD.MM.YYYY, German convention).
func FormatDate(t time.Time) string {
	return ToBerlin(t).Format("02.01.2006")
}

// FormatDateTime formats a time as a date-time string.
func FormatDateTime(t time.Time) string {
	return ToBerlin(t).Format("02.01.2006 15:04")
}
