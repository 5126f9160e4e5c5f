package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TimesheetState string

const (
	StatePendingStaff   TimesheetState = "PENDING_STAFF"
	StatePendingManager TimesheetState = "PENDING_MANAGER"
	StatePendingHR      TimesheetState = "PENDING_HR"
	StateApproved       TimesheetState = "APPROVED"
)

func (s TimesheetState) Valid() bool {
	switch s {
	case StatePendingStaff, StatePendingManager, StatePendingHR, StateApproved:
		return true
	}
	return false
}

// StaffEditable reports whether the owner may change entries in this state.
func (s TimesheetState) StaffEditable() bool {
	return s == StatePendingStaff
}

// DateLayout is the wire and storage layout for calendar dates.
const DateLayout = "2006-01-02"

type Timesheet struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	UserID      uint           `gorm:"not null;uniqueIndex:idx_timesheet_period" json:"user_id"`
	User        *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	PeriodStart time.Time      `gorm:"not null;type:date;uniqueIndex:idx_timesheet_period" json:"period_start"`
	PeriodEnd   time.Time      `gorm:"not null;type:date;uniqueIndex:idx_timesheet_period" json:"period_end"`
	State       TimesheetState `gorm:"not null;size:20;index" json:"state"`

	StaffSignature   string     `gorm:"type:text" json:"staff_signature,omitempty"`
	StaffSignedAt    *time.Time `json:"staff_signed_at"`
	ManagerSignature string     `gorm:"type:text" json:"manager_signature,omitempty"`
	ManagerSignedAt  *time.Time `json:"manager_signed_at"`
	ManagerSignerID  *uint      `json:"manager_signer_id"`
	HRSignature      string     `gorm:"column:hr_signature;type:text" json:"hr_signature,omitempty"`
	HRSignedAt       *time.Time `gorm:"column:hr_signed_at" json:"hr_signed_at"`
	HRSignerID       *uint      `gorm:"column:hr_signer_id" json:"hr_signer_id"`
	DenialNote       string     `gorm:"size:2000" json:"denial_note,omitempty"`

	Entries []TimesheetEntry `gorm:"foreignKey:TimesheetID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`
}

// PeriodLabel renders the period for titles and emails.
func (t *Timesheet) PeriodLabel() string {
	return t.PeriodStart.Format(DateLayout) + " to " + t.PeriodEnd.Format(DateLayout)
}

// Overlaps reports whether [start, end] intersects this timesheet's period.
func (t *Timesheet) Overlaps(start, end time.Time) bool {
	return !start.After(t.PeriodEnd) && !end.Before(t.PeriodStart)
}

// ClearSignatures drops every captured signature, as on denial.
func (t *Timesheet) ClearSignatures() {
	t.StaffSignature, t.StaffSignedAt = "", nil
	t.ManagerSignature, t.ManagerSignedAt, t.ManagerSignerID = "", nil, nil
	t.HRSignature, t.HRSignedAt, t.HRSignerID = "", nil, nil
}

// CheckSignatures verifies that the captured signatures match the state.
func (t *Timesheet) CheckSignatures() error {
	staff := t.StaffSignature != "" && t.StaffSignedAt != nil
	manager := t.ManagerSignature != "" && t.ManagerSignedAt != nil
	hr := t.HRSignature != "" && t.HRSignedAt != nil

	var want [3]bool
	switch t.State {
	case StatePendingStaff:
		want = [3]bool{false, false, false}
	case StatePendingManager:
		want = [3]bool{true, false, false}
	case StatePendingHR:
		want = [3]bool{true, true, false}
	case StateApproved:
		want = [3]bool{true, true, true}
	default:
		return fmt.Errorf("unknown timesheet state %q", t.State)
	}
	if got := [3]bool{staff, manager, hr}; got != want {
		return fmt.Errorf("timesheet %d in %s has signatures staff=%t manager=%t hr=%t", t.ID, t.State, staff, manager, hr)
	}
	return nil
}

type TimesheetEntry struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	TimesheetID uint            `gorm:"not null;uniqueIndex:idx_entry_date" json:"timesheet_id"`
	Date        time.Time       `gorm:"not null;type:date;uniqueIndex:idx_entry_date" json:"date"`
	In1         *time.Time      `json:"in1"`
	Out1        *time.Time      `json:"out1"`
	In2         *time.Time      `json:"in2"`
	Out2        *time.Time      `json:"out2"`
	In3         *time.Time      `json:"in3"`
	Out3        *time.Time      `json:"out3"`
	Adjustment  decimal.Decimal `gorm:"type:numeric(6,2);not null;default:0" json:"adjustment"`
	Comments    string          `gorm:"size:1000" json:"comments"`
}

// Times returns pointers to the six time fields in in1, out1, ... order.
func (e *TimesheetEntry) Times() [6]**time.Time {
	return [6]**time.Time{&e.In1, &e.Out1, &e.In2, &e.Out2, &e.In3, &e.Out3}
}
