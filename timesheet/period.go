package timesheet

import (
	"time"

	"timesheets/apperr"
	"timesheets/models"
)

// MaxPeriodDays bounds the number of dates (and entries) in one timesheet.
const MaxPeriodDays = 62

// Date truncates t to its calendar date in loc, returned as UTC midnight.
// Dates are stored and compared in this form.
func Date(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return time.Time{}, apperr.Validation(field, field+" must be a YYYY-MM-DD date")
	}
	return t, nil
}

// PeriodFor returns the semi-monthly period containing t: the 1st to the
// 15th, or the 16th to the end of the month.
func PeriodFor(t time.Time, loc *time.Location) (start, end time.Time) {
	day := Date(t, loc)
	y, m, d := day.Date()
	if d <= 15 {
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC), time.Date(y, m, 15, 0, 0, 0, 0, time.UTC)
	}
	// Day 0 of the next month is the last day of this one.
	return time.Date(y, m, 16, 0, 0, 0, 0, time.UTC), time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// ValidatePeriod checks ordering and length of [start, end].
func ValidatePeriod(start, end time.Time) error {
	if end.Before(start) {
		return apperr.Validation("period_end", "period end must not be before period start")
	}
	if days := int(end.Sub(start).Hours()/24) + 1; days > MaxPeriodDays {
		return apperr.Validation("period_end", "period must not exceed 62 days")
	}
	return nil
}

// Dates lists every calendar date in [start, end].
func Dates(start, end time.Time) []time.Time {
	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
