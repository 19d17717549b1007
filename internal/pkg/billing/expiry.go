package billing

import (
	"time"

	"github.com/felimargom/ppss/app/models"
)

// Day truncates t to midnight of its calendar date in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// SameDay reports whether a and b fall on the same calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	return Day(a, loc).Equal(Day(b, loc))
}

// AddFrequency advances the calendar date d by interval units. Month and
// year steps clamp to the last day of the target month (Jan 31 + 1 month =
// Feb 29 in a leap year).
func AddFrequency(d time.Time, unit string, interval int) time.Time {
	if interval < 1 {
		interval = 1
	}
	switch models.NormalizeFrequencyUnit(unit) {
	case models.FrequencyDay:
		return d.AddDate(0, 0, interval)
	case models.FrequencyWeek:
		return d.AddDate(0, 0, 7*interval)
	case models.FrequencyYear:
		return addMonths(d, 12*interval)
	default:
		return addMonths(d, interval)
	}
}

func addMonths(d time.Time, months int) time.Time {
	y, m, day := d.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, d.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	hh, mm, ss := d.Clock()
	return time.Date(first.Year(), first.Month(), day, hh, mm, ss, d.Nanosecond(), d.Location())
}

func daysIn(firstOfMonth time.Time) int {
	return firstOfMonth.AddDate(0, 1, -1).Day()
}
