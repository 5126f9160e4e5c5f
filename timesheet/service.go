// Package timesheet owns timesheet creation, entry edits, templates and the
// read paths. State transitions live in package workflow.
package timesheet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"timesheets/access"
	"timesheets/apperr"
	"timesheets/hours"
	"timesheets/models"
	"timesheets/notify"
	"timesheets/storage"
)

type Store interface {
	storage.TimesheetStore
	storage.TemplateStore
}

// Fulfiller clears notifications made obsolete by a read.
type Fulfiller interface {
	FulfillBestEffort(ctx context.Context, actorID, resourceID uint, action notify.Action)
}

type Service struct {
	store     Store
	fulfiller Fulfiller
	loc       *time.Location
	log       zerolog.Logger
	now       func() time.Time
}

// NewService builds the service. loc is the zone "HH:MM" entry times and
// "today" are interpreted in.
func NewService(store Store, fulfiller Fulfiller, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, fulfiller: fulfiller, loc: loc, log: log, now: time.Now}
}

func (s *Service) Location() *time.Location { return s.loc }

// GetOrCreateForPeriod returns the owner's timesheet for exactly
// [start, end], creating it with one empty entry per date when absent.
// created reports whether this call inserted it.
func (s *Service) GetOrCreateForPeriod(ctx context.Context, userID uint, start, end time.Time) (ts models.Timesheet, created bool, err error) {
	start, end = Date(start, nil), Date(end, nil)
	if err := ValidatePeriod(start, end); err != nil {
		return models.Timesheet{}, false, err
	}

	existing, err := s.store.FindTimesheetByPeriod(ctx, userID, start, end)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.Timesheet{}, false, apperr.Internal("find timesheet", err)
	}

	ts = models.Timesheet{
		UserID:      userID,
		PeriodStart: start,
		PeriodEnd:   end,
		State:       models.StatePendingStaff,
	}
	for _, d := range Dates(start, end) {
		ts.Entries = append(ts.Entries, models.TimesheetEntry{Date: d})
	}

	err = s.store.CreateTimesheet(ctx, &ts)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicate):
		// Lost a race with a concurrent create of the same period.
		existing, err := s.store.FindTimesheetByPeriod(ctx, userID, start, end)
		if err != nil {
			return models.Timesheet{}, false, apperr.Internal("find timesheet", err)
		}
		return existing, false, nil
	case errors.Is(err, storage.ErrConflict):
		return models.Timesheet{}, false, apperr.Conflict("period overlaps an existing timesheet")
	case errors.Is(err, storage.ErrNotFound):
		return models.Timesheet{}, false, apperr.NotFound("user not found")
	default:
		return models.Timesheet{}, false, apperr.Internal("create timesheet", err)
	}

	s.log.Info().
		Uint("timesheet_id", ts.ID).
		Uint("user_id", userID).
		Str("period", ts.PeriodLabel()).
		Msg("timesheet created")

	loaded, err := s.store.GetTimesheet(ctx, ts.ID, true)
	if err != nil {
		return models.Timesheet{}, false, apperr.Internal("load timesheet", err)
	}
	return loaded, true, nil
}

// Current returns the caller's timesheet for the semi-monthly period
// containing today, creating it if needed.
func (s *Service) Current(ctx context.Context, userID uint) (models.Timesheet, bool, error) {
	start, end := PeriodFor(s.now(), s.loc)
	return s.GetOrCreateForPeriod(ctx, userID, start, end)
}

func (s *Service) load(ctx context.Context, id uint, withEntries bool) (models.Timesheet, error) {
	ts, err := s.store.GetTimesheet(ctx, id, withEntries)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Timesheet{}, apperr.NotFound("timesheet not found")
	}
	if err != nil {
		return models.Timesheet{}, apperr.Internal("load timesheet", err)
	}
	if ts.User == nil {
		return models.Timesheet{}, apperr.Internal("load timesheet", fmt.Errorf("timesheet %d has no owner", id))
	}
	return ts, nil
}

// Get returns the timesheet with entries if the viewer may see it. Viewing
// fulfills the viewer's informational notifications for it.
func (s *Service) Get(ctx context.Context, viewer *models.User, id uint) (models.Timesheet, error) {
	ts, err := s.load(ctx, id, true)
	if err != nil {
		return models.Timesheet{}, err
	}
	if err := access.Check(access.CanView, access.SubjectOf(viewer), access.ResourceOf(ts.User)); err != nil {
		return models.Timesheet{}, err
	}
	if s.fulfiller != nil {
		s.fulfiller.FulfillBestEffort(ctx, viewer.ID, ts.ID, notify.ActionView)
	}
	return ts, nil
}

// Scope selects a timesheet listing.
type Scope string

const (
	// ScopeMine lists the caller's own timesheets.
	ScopeMine Scope = "mine"
	// ScopeTeam lists direct reports' timesheets awaiting manager review.
	ScopeTeam Scope = "team"
	// ScopeHR lists timesheets awaiting HR review.
	ScopeHR Scope = "hr"
)

func (s *Service) List(ctx context.Context, viewer *models.User, scope Scope) ([]models.Timesheet, error) {
	var filter storage.TimesheetFilter
	switch scope {
	case ScopeMine, "":
		filter.OwnerID = &viewer.ID
	case ScopeTeam:
		filter.ManagerID = &viewer.ID
		filter.States = []models.TimesheetState{models.StatePendingManager}
	case ScopeHR:
		if err := access.Check(access.CanHRReview, access.SubjectOf(viewer), access.Resource{}); err != nil {
			return nil, err
		}
		filter.States = []models.TimesheetState{models.StatePendingHR}
	default:
		return nil, apperr.Validation("scope", fmt.Sprintf("unknown scope %q", scope))
	}
	items, err := s.store.ListTimesheets(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("list timesheets", err)
	}
	return items, nil
}

// Summary totals the timesheet's entries.
func Summary(ts models.Timesheet) hours.Summary {
	return hours.SummarizeEntries(ts.Entries)
}

// UpdateEntry merge-patches one entry. Only the owner may edit, and only
// while the timesheet is PENDING_STAFF; both are checked again at write time.
func (s *Service) UpdateEntry(ctx context.Context, actor *models.User, timesheetID, entryID uint, patch EntryPatch) (models.TimesheetEntry, error) {
	ts, err := s.load(ctx, timesheetID, false)
	if err != nil {
		return models.TimesheetEntry{}, err
	}
	if err := checkEditable(actor, ts); err != nil {
		return models.TimesheetEntry{}, err
	}

	entries, err := s.store.MutateEntries(ctx, timesheetID, []uint{entryID}, func(locked models.Timesheet, entries []*models.TimesheetEntry) error {
		if err := checkEditable(actor, locked); err != nil {
			return err
		}
		return patch.Apply(entries[0], s.loc)
	})
	if err != nil {
		return models.TimesheetEntry{}, entryError(err, "entry not found")
	}
	return entries[0], nil
}

func checkEditable(actor *models.User, ts models.Timesheet) error {
	if err := access.Check(access.CanEditEntries, access.SubjectOf(actor), access.Resource{OwnerID: ts.UserID}); err != nil {
		return err
	}
	if !ts.State.StaffEditable() {
		return apperr.Forbidden(fmt.Sprintf("entries are locked while the timesheet is %s", ts.State))
	}
	return nil
}

func entryError(err error, notFound string) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(notFound)
	default:
		return apperr.Internal("update entries", err)
	}
}
