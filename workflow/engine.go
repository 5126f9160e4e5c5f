// Package workflow moves timesheets through staff submission, manager review
// and HR review. Each transition commits the new state together with the
// notification side effects it implies.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"timesheets/access"
	"timesheets/apperr"
	"timesheets/metrics"
	"timesheets/models"
	"timesheets/notify"
	"timesheets/storage"
)

type Action string

const (
	ActionSubmit         Action = "submit"
	ActionManagerApprove Action = "manager_approve"
	ActionManagerDeny    Action = "manager_deny"
	ActionHRApprove      Action = "hr_approve"
	ActionHRDeny         Action = "hr_deny"
)

// Actions lists every workflow action.
var Actions = []Action{ActionSubmit, ActionManagerApprove, ActionManagerDeny, ActionHRApprove, ActionHRDeny}

// Rule is one row of the transition table.
type Rule struct {
	From  models.TimesheetState
	To    models.TimesheetState
	Guard access.Requirement
	// Input names the required free-text input: "signature" or "note".
	Input string
}

// RuleFor returns the transition rule for action.
func RuleFor(action Action) (Rule, bool) {
	switch action {
	case ActionSubmit:
		return Rule{models.StatePendingStaff, models.StatePendingManager, access.CanSubmit, "signature"}, true
	case ActionManagerApprove:
		return Rule{models.StatePendingManager, models.StatePendingHR, access.CanManagerReview, "signature"}, true
	case ActionManagerDeny:
		return Rule{models.StatePendingManager, models.StatePendingStaff, access.CanManagerReview, "note"}, true
	case ActionHRApprove:
		return Rule{models.StatePendingHR, models.StateApproved, access.CanHRReview, "signature"}, true
	case ActionHRDeny:
		return Rule{models.StatePendingHR, models.StatePendingStaff, access.CanHRReview, "note"}, true
	}
	return Rule{}, false
}

// Store is the persistence the engine needs.
type Store interface {
	GetTimesheet(ctx context.Context, id uint, withEntries bool) (models.Timesheet, error)
	MutateTimesheet(ctx context.Context, id uint, fn storage.TimesheetMutation) (models.Timesheet, error)
	ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error)
}

// Waker is poked after a commit so queued side effects run promptly.
type Waker interface {
	Wake()
}

type Engine struct {
	store  Store
	waker  Waker
	log    zerolog.Logger
	now    func() time.Time
	tracer trace.Tracer
}

func New(store Store, waker Waker, log zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		waker:  waker,
		log:    log,
		now:    time.Now,
		tracer: otel.Tracer("timesheets/workflow"),
	}
}

func (e *Engine) Submit(ctx context.Context, actor *models.User, id uint, signature string) (models.Timesheet, error) {
	return e.Apply(ctx, actor, id, ActionSubmit, signature)
}

func (e *Engine) ManagerApprove(ctx context.Context, actor *models.User, id uint, signature string) (models.Timesheet, error) {
	return e.Apply(ctx, actor, id, ActionManagerApprove, signature)
}

func (e *Engine) ManagerDeny(ctx context.Context, actor *models.User, id uint, note string) (models.Timesheet, error) {
	return e.Apply(ctx, actor, id, ActionManagerDeny, note)
}

func (e *Engine) HRApprove(ctx context.Context, actor *models.User, id uint, signature string) (models.Timesheet, error) {
	return e.Apply(ctx, actor, id, ActionHRApprove, signature)
}

func (e *Engine) HRDeny(ctx context.Context, actor *models.User, id uint, note string) (models.Timesheet, error) {
	return e.Apply(ctx, actor, id, ActionHRDeny, note)
}

// Apply runs action on the timesheet. Checks run in the order not found,
// forbidden, invalid state, validation. The state check is repeated under the
// row lock, so of two concurrent identical actions exactly one succeeds.
func (e *Engine) Apply(ctx context.Context, actor *models.User, id uint, action Action, input string) (result models.Timesheet, err error) {
	ctx, span := e.tracer.Start(ctx, "workflow."+string(action), trace.WithAttributes(
		attribute.Int64("timesheet.id", int64(id)),
		attribute.Int64("actor.id", int64(actor.ID)),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = apperr.KindOf(err).String()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.Transitions.WithLabelValues(string(action), outcome).Inc()
		span.End()
	}()

	rule, ok := RuleFor(action)
	if !ok {
		return models.Timesheet{}, apperr.Validation("action", fmt.Sprintf("unknown action %q", action))
	}

	ts, err := e.store.GetTimesheet(ctx, id, false)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Timesheet{}, apperr.NotFound("timesheet not found")
	}
	if err != nil {
		return models.Timesheet{}, apperr.Internal("load timesheet", err)
	}
	if ts.User == nil {
		return models.Timesheet{}, apperr.Internal("load timesheet", fmt.Errorf("timesheet %d has no owner", id))
	}
	owner := *ts.User
	subject := access.SubjectOf(actor)
	if err := access.Check(rule.Guard, subject, access.ResourceOf(&owner)); err != nil {
		return models.Timesheet{}, err
	}
	if ts.State != rule.From {
		return models.Timesheet{}, invalidState(ts.State, rule.From)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return models.Timesheet{}, apperr.Validation(rule.Input, rule.Input+" is required")
	}

	var reviewers []models.User
	if action == ActionManagerApprove {
		reviewers, err = e.store.ListUsers(ctx, models.RoleHR, models.RoleAdmin)
		if err != nil {
			return models.Timesheet{}, apperr.Internal("list hr reviewers", err)
		}
	}

	updated, err := e.store.MutateTimesheet(ctx, id, func(locked *models.Timesheet) ([]models.OutboxTask, error) {
		if locked.State != rule.From {
			return nil, invalidState(locked.State, rule.From)
		}
		now := e.now()
		transition(locked, action, actor.ID, input, now)
		locked.State = rule.To
		if err := locked.CheckSignatures(); err != nil {
			return nil, apperr.Internal("apply transition", err)
		}
		return effects(notify.NewBatch(now), action, locked, &owner, actor, reviewers).Tasks()
	})
	if err != nil {
		var appErr *apperr.Error
		switch {
		case errors.As(err, &appErr):
			return models.Timesheet{}, err
		case errors.Is(err, storage.ErrNotFound):
			return models.Timesheet{}, apperr.NotFound("timesheet not found")
		default:
			return models.Timesheet{}, apperr.Internal("commit transition", err)
		}
	}

	e.log.Info().
		Str("action", string(action)).
		Uint("timesheet_id", id).
		Uint("actor_id", actor.ID).
		Str("from", string(rule.From)).
		Str("to", string(updated.State)).
		Msg("timesheet transition")
	if e.waker != nil {
		e.waker.Wake()
	}
	updated.User = &owner
	return updated, nil
}

func invalidState(got, want models.TimesheetState) error {
	return apperr.InvalidState(fmt.Sprintf("timesheet is %s, action requires %s", got, want))
}

func transition(ts *models.Timesheet, action Action, actorID uint, input string, now time.Time) {
	switch action {
	case ActionSubmit:
		ts.StaffSignature = input
		ts.StaffSignedAt = &now
	case ActionManagerApprove:
		signer := actorID
		ts.ManagerSignature = input
		ts.ManagerSignedAt = &now
		ts.ManagerSignerID = &signer
	case ActionHRApprove:
		signer := actorID
		ts.HRSignature = input
		ts.HRSignedAt = &now
		ts.HRSignerID = &signer
	case ActionManagerDeny, ActionHRDeny:
		ts.ClearSignatures()
		ts.DenialNote = input
	}
}

// effects enqueues the notification work for a committed transition.
func effects(b *notify.Batch, action Action, ts *models.Timesheet, owner, actor *models.User, reviewers []models.User) *notify.Batch {
	period := ts.PeriodLabel()
	switch action {
	case ActionSubmit:
		b.Fulfill(actor.ID, ts.ID, notify.ActionSubmit).
			Create(owner.ID, models.NotificationSubmitted, ts.ID,
				"Timesheet submitted",
				fmt.Sprintf("Your timesheet for %s was submitted for approval.", period))
		if owner.ManagerID != nil {
			b.Create(*owner.ManagerID, models.NotificationApprovalNeeded, ts.ID,
				"Timesheet awaiting approval",
				fmt.Sprintf("%s submitted a timesheet for %s.", owner.DisplayName(), period))
		}
	case ActionManagerApprove:
		b.Fulfill(actor.ID, ts.ID, notify.ActionManagerApprove).
			Create(owner.ID, models.NotificationManagerApproved, ts.ID,
				"Timesheet approved by manager",
				fmt.Sprintf("Your timesheet for %s was approved by %s and sent to HR.", period, actor.DisplayName()))
		for _, reviewer := range reviewers {
			b.Create(reviewer.ID, models.NotificationHRApprovalNeeded, ts.ID,
				"Timesheet awaiting HR approval",
				fmt.Sprintf("%s's timesheet for %s is ready for HR review.", owner.DisplayName(), period))
		}
	case ActionManagerDeny:
		b.Fulfill(actor.ID, ts.ID, notify.ActionManagerDeny).
			Create(owner.ID, models.NotificationDenied, ts.ID,
				"Timesheet denied",
				fmt.Sprintf("Your timesheet for %s was denied by your manager: %s", period, ts.DenialNote))
	case ActionHRApprove:
		b.Fulfill(actor.ID, ts.ID, notify.ActionHRApprove).
			Create(owner.ID, models.NotificationApproved, ts.ID,
				"Timesheet approved",
				fmt.Sprintf("Your timesheet for %s received final approval.", period)).
			FinalApprovalEmail(ts.ID, actor.DisplayName())
	case ActionHRDeny:
		b.Fulfill(actor.ID, ts.ID, notify.ActionHRDeny).
			Create(owner.ID, models.NotificationDenied, ts.ID,
				"Timesheet denied",
				fmt.Sprintf("Your timesheet for %s was denied by HR: %s", period, ts.DenialNote))
	}
	return b
}
