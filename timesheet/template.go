package timesheet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"timesheets/access"
	"timesheets/apperr"
	"timesheets/hours"
	"timesheets/models"
	"timesheets/storage"
)

// TemplateInput is the body of a template create.
type TemplateInput struct {
	Name     string                   `json:"name"`
	Patterns []models.TemplatePattern `json:"patterns"`
}

func (in TemplateInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation("name", "name is required")
	}
	seen := make(map[models.DayType]bool)
	for i, p := range in.Patterns {
		if !p.DayType.Valid() {
			return apperr.Validation(fmt.Sprintf("patterns[%d].day_type", i), "day_type must be WEEKDAY, SATURDAY or SUNDAY")
		}
		if seen[p.DayType] {
			return apperr.Validation(fmt.Sprintf("patterns[%d].day_type", i), "duplicate day_type "+string(p.DayType))
		}
		seen[p.DayType] = true

		clocks := p.Clocks()
		for pair := 0; pair < 3; pair++ {
			inClock, outClock := clocks[pair*2], clocks[pair*2+1]
			var inAt, outAt int64
			for j, c := range []*string{inClock, outClock} {
				if c == nil {
					continue
				}
				d, err := hours.ParseClock(*c)
				if err != nil {
					return apperr.Validation(fmt.Sprintf("patterns[%d].%s", i, timeFields[pair*2+j]), err.Error())
				}
				if j == 0 {
					inAt = int64(d)
				} else {
					outAt = int64(d)
				}
			}
			if inClock != nil && outClock != nil && outAt <= inAt {
				field := timeFields[pair*2+1]
				return apperr.Validation(fmt.Sprintf("patterns[%d].%s", i, field), fmt.Sprintf("%s must be after in%d", field, pair+1))
			}
		}
	}
	return nil
}

func (s *Service) CreateTemplate(ctx context.Context, owner *models.User, in TemplateInput) (models.TimesheetTemplate, error) {
	if err := in.validate(); err != nil {
		return models.TimesheetTemplate{}, err
	}
	tmpl := models.TimesheetTemplate{
		UserID:   owner.ID,
		Name:     strings.TrimSpace(in.Name),
		Patterns: make([]models.TemplatePattern, len(in.Patterns)),
	}
	for i, p := range in.Patterns {
		p.ID, p.TemplateID = 0, 0
		tmpl.Patterns[i] = p
	}
	if err := s.store.CreateTemplate(ctx, &tmpl); err != nil {
		return models.TimesheetTemplate{}, apperr.Internal("create template", err)
	}
	return tmpl, nil
}

func (s *Service) ListTemplates(ctx context.Context, owner *models.User) ([]models.TimesheetTemplate, error) {
	items, err := s.store.ListTemplates(ctx, owner.ID)
	if err != nil {
		return nil, apperr.Internal("list templates", err)
	}
	return items, nil
}

// ownedTemplate hides templates of other users behind NotFound.
func (s *Service) ownedTemplate(ctx context.Context, owner *models.User, id uint) (models.TimesheetTemplate, error) {
	tmpl, err := s.store.GetTemplate(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && tmpl.UserID != owner.ID) {
		return models.TimesheetTemplate{}, apperr.NotFound("template not found")
	}
	if err != nil {
		return models.TimesheetTemplate{}, apperr.Internal("load template", err)
	}
	return tmpl, nil
}

func (s *Service) DeleteTemplate(ctx context.Context, owner *models.User, id uint) error {
	if _, err := s.ownedTemplate(ctx, owner, id); err != nil {
		return err
	}
	if err := s.store.DeleteTemplate(ctx, id); err != nil {
		return entryError(err, "template not found")
	}
	return nil
}

// ApplyTemplate overwrites the six time fields and comments of every entry
// whose day type has a pattern. Adjustments are kept; days without a pattern
// are left alone.
func (s *Service) ApplyTemplate(ctx context.Context, actor *models.User, timesheetID, templateID uint) ([]models.TimesheetEntry, error) {
	ts, err := s.load(ctx, timesheetID, false)
	if err != nil {
		return nil, err
	}
	if err := access.Check(access.CanEditEntries, access.SubjectOf(actor), access.ResourceOf(ts.User)); err != nil {
		return nil, err
	}
	tmpl, err := s.ownedTemplate(ctx, actor, templateID)
	if err != nil {
		return nil, err
	}
	if !ts.State.StaffEditable() {
		return nil, notEditable(ts.State)
	}

	entries, err := s.store.MutateEntries(ctx, timesheetID, nil, func(locked models.Timesheet, entries []*models.TimesheetEntry) error {
		if !locked.State.StaffEditable() {
			return notEditable(locked.State)
		}
		for _, e := range entries {
			pattern, ok := tmpl.Pattern(models.DayTypeOf(e.Date))
			if !ok {
				continue
			}
			if err := s.applyPattern(e, pattern); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, entryError(err, "timesheet not found")
	}
	return entries, nil
}

func notEditable(state models.TimesheetState) error {
	return apperr.Validation("state", fmt.Sprintf("templates can only be applied while the timesheet is %s, it is %s", models.StatePendingStaff, state))
}

func (s *Service) applyPattern(e *models.TimesheetEntry, p models.TemplatePattern) error {
	fields := e.Times()
	for i, clock := range p.Clocks() {
		if clock == nil {
			*fields[i] = nil
			continue
		}
		t, err := hours.OnDate(e.Date, *clock, s.loc)
		if err != nil {
			return apperr.Validation(timeFields[i], err.Error())
		}
		*fields[i] = &t
	}
	e.Comments = p.Comments
	_, err := hours.Calculate(hours.FromEntry(e))
	return err
}
