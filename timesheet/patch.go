package timesheet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"timesheets/apperr"
	"timesheets/hours"
	"timesheets/models"
)

// Optional is a merge-patch field: absent leaves the value untouched,
// null clears it and any other value replaces it.
type Optional[T any] struct {
	Set   bool
	Value *T
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a set Optional that clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// EntryPatch is the body of an entry update. Times are "HH:MM" on the
// entry's date or RFC 3339 timestamps.
type EntryPatch struct {
	In1        Optional[string]          `json:"in1"`
	Out1       Optional[string]          `json:"out1"`
	In2        Optional[string]          `json:"in2"`
	Out2       Optional[string]          `json:"out2"`
	In3        Optional[string]          `json:"in3"`
	Out3       Optional[string]          `json:"out3"`
	Adjustment Optional[decimal.Decimal] `json:"adjustment"`
	Comments   Optional[string]          `json:"comments"`
}

var timeFields = [6]string{"in1", "out1", "in2", "out2", "in3", "out3"}

func (p EntryPatch) times() [6]Optional[string] {
	return [6]Optional[string]{p.In1, p.Out1, p.In2, p.Out2, p.In3, p.Out3}
}

// Apply merges the patch into e and validates the result.
func (p EntryPatch) Apply(e *models.TimesheetEntry, loc *time.Location) error {
	fields := e.Times()
	for i, opt := range p.times() {
		if !opt.Set {
			continue
		}
		if opt.Value == nil || strings.TrimSpace(*opt.Value) == "" {
			*fields[i] = nil
			continue
		}
		t, err := parseEntryTime(e.Date, *opt.Value, loc)
		if err != nil {
			return apperr.Validation(timeFields[i], err.Error())
		}
		*fields[i] = &t
	}
	if p.Adjustment.Set {
		if p.Adjustment.Value == nil {
			e.Adjustment = decimal.Zero
		} else {
			e.Adjustment = *p.Adjustment.Value
		}
	}
	if p.Comments.Set {
		e.Comments = ""
		if p.Comments.Value != nil {
			e.Comments = *p.Comments.Value
		}
	}
	_, err := hours.Calculate(hours.FromEntry(e))
	return err
}

func parseEntryTime(date time.Time, value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if len(value) <= len("15:04") {
		return hours.OnDate(date, value, loc)
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM or RFC 3339", value)
	}
	return t, nil
}
