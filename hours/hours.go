// Package hours converts in/out time pairs and manual adjustments into daily
// hour totals.
package hours

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"timesheets/apperr"
	"timesheets/models"
)

var secondsPerHour = decimal.NewFromInt(3600)

// MaxAdjustment is the largest manual credit for one day.
var MaxAdjustment = decimal.NewFromInt(24)

// Pair is one in/out span. Either end may be unset while the day is in progress.
type Pair struct {
	In  *time.Time
	Out *time.Time
}

// Complete reports whether both ends are set.
func (p Pair) Complete() bool {
	return p.In != nil && p.Out != nil
}

// Day is the calculator input for one entry.
type Day struct {
	Pairs      [3]Pair
	Adjustment decimal.Decimal
}

// FromEntry builds the calculator input for an entry.
func FromEntry(e *models.TimesheetEntry) Day {
	return Day{
		Pairs: [3]Pair{
			{In: e.In1, Out: e.Out1},
			{In: e.In2, Out: e.Out2},
			{In: e.In3, Out: e.Out3},
		},
		Adjustment: e.Adjustment,
	}
}

// Validate rejects reversed or empty pairs and adjustments that are negative,
// above MaxAdjustment or finer than hundredths.
func Validate(d Day) error {
	for i, p := range d.Pairs {
		if !p.Complete() {
			continue
		}
		if !p.Out.After(*p.In) {
			return apperr.Validation(fmt.Sprintf("out%d", i+1), fmt.Sprintf("out%d must be after in%d", i+1, i+1))
		}
	}
	switch {
	case d.Adjustment.IsNegative():
		return apperr.Validation("adjustment", "adjustment must not be negative")
	case d.Adjustment.GreaterThan(MaxAdjustment):
		return apperr.Validation("adjustment", fmt.Sprintf("adjustment must be at most %s hours", MaxAdjustment))
	case !d.Adjustment.Equal(d.Adjustment.Round(2)):
		return apperr.Validation("adjustment", "adjustment must have at most two decimal places")
	}
	return nil
}

// Calculate returns the unrounded total for a day. It is the write-path check:
// any invalid pair or a negative adjustment is an error.
func Calculate(d Day) (decimal.Decimal, error) {
	if err := Validate(d); err != nil {
		return decimal.Zero, err
	}
	return sum(d), nil
}

// Hours is the read-path total: invalid pairs contribute zero and a negative
// adjustment is ignored.
func Hours(d Day) decimal.Decimal {
	return sum(d)
}

func sum(d Day) decimal.Decimal {
	total := decimal.Zero
	for _, p := range d.Pairs {
		if !p.Complete() || !p.Out.After(*p.In) {
			continue
		}
		seconds := decimal.NewFromInt(int64(p.Out.Sub(*p.In) / time.Second))
		total = total.Add(seconds.Div(secondsPerHour))
	}
	if d.Adjustment.IsPositive() {
		total = total.Add(d.Adjustment)
	}
	return total
}

// Round rounds to the two fractional digits shown to users.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Summary aggregates a set of days. Regular is clock time only.
type Summary struct {
	Total      decimal.Decimal `json:"total"`
	Adjustment decimal.Decimal `json:"adjustment"`
	Regular    decimal.Decimal `json:"regular"`
}

// Summarize accumulates at full precision and rounds once at the end.
func Summarize(days []Day) Summary {
	total, adjustment := decimal.Zero, decimal.Zero
	for _, d := range days {
		total = total.Add(Hours(d))
		if d.Adjustment.IsPositive() {
			adjustment = adjustment.Add(d.Adjustment)
		}
	}
	return Summary{
		Total:      Round(total),
		Adjustment: Round(adjustment),
		Regular:    Round(total.Sub(adjustment)),
	}
}

// SummarizeEntries is Summarize over timesheet entries.
func SummarizeEntries(entries []models.TimesheetEntry) Summary {
	days := make([]Day, 0, len(entries))
	for i := range entries {
		days = append(days, FromEntry(&entries[i]))
	}
	return Summarize(days)
}

// ParseClock parses an "HH:MM" wall clock time into an offset from midnight.
func ParseClock(value string) (time.Duration, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", value)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// OnDate places an "HH:MM" clock time on the calendar date in loc.
func OnDate(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(offset), nil
}
