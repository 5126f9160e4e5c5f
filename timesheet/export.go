package timesheet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"timesheets/access"
	"timesheets/apperr"
	"timesheets/hours"
	"timesheets/models"
	"timesheets/storage"
)

// PayrollRow is one approved timesheet in a payroll export.
type PayrollRow struct {
	TimesheetID uint
	Employee    string
	Username    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Summary     hours.Summary
	PayRate     decimal.Decimal
	// Gross is total hours times the owner's current pay rate.
	Gross      decimal.Decimal
	ApprovedAt *time.Time
}

// Payroll lists approved timesheets whose period intersects [from, to].
// Only HR and admins may export.
func (s *Service) Payroll(ctx context.Context, viewer *models.User, from, to time.Time) ([]PayrollRow, error) {
	if err := access.Check(access.CanHRReview, access.SubjectOf(viewer), access.Resource{}); err != nil {
		return nil, err
	}
	from, to = Date(from, nil), Date(to, nil)
	if to.Before(from) {
		return nil, apperr.Validation("to", "to must not be before from")
	}

	items, err := s.store.ListTimesheets(ctx, storage.TimesheetFilter{
		States:      []models.TimesheetState{models.StateApproved},
		From:        &from,
		To:          &to,
		WithEntries: true,
	})
	if err != nil {
		return nil, apperr.Internal("list timesheets", err)
	}

	rows := make([]PayrollRow, 0, len(items))
	for _, ts := range items {
		row := PayrollRow{
			TimesheetID: ts.ID,
			PeriodStart: ts.PeriodStart,
			PeriodEnd:   ts.PeriodEnd,
			Summary:     Summary(ts),
			ApprovedAt:  ts.HRSignedAt,
		}
		if ts.User != nil {
			row.Employee = ts.User.DisplayName()
			row.Username = ts.User.Username
			row.PayRate = ts.User.PayRate
		}
		row.Gross = row.Summary.Total.Mul(row.PayRate).Round(2)
		rows = append(rows, row)
	}
	return rows, nil
}
