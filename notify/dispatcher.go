// Package notify creates and fulfills in-app notifications and executes the
// side effects that timesheet transitions enqueue in the outbox.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"timesheets/apperr"
	"timesheets/metrics"
	"timesheets/models"
	"timesheets/storage"
)

// Action is a user action that may make earlier notifications obsolete.
type Action string

const (
	ActionView           Action = "view"
	ActionSubmit         Action = "submit"
	ActionManagerApprove Action = "manager_approve"
	ActionManagerDeny    Action = "manager_deny"
	ActionHRApprove      Action = "hr_approve"
	ActionHRDeny         Action = "hr_deny"
)

// Scope selects whose notifications a fulfillment clears.
type Scope int

const (
	// ScopeActor clears only the acting user's notifications.
	ScopeActor Scope = iota
	// ScopeResource clears the types for every recipient of the resource.
	ScopeResource
)

type fulfillment struct {
	scope Scope
	types []models.NotificationType
}

var fulfillments = map[Action]fulfillment{
	ActionView: {ScopeActor, []models.NotificationType{
		models.NotificationSubmitted,
		models.NotificationManagerApproved,
		models.NotificationDenied,
		models.NotificationApproved,
	}},
	ActionSubmit:         {ScopeActor, []models.NotificationType{models.NotificationDenied}},
	ActionManagerApprove: {ScopeResource, []models.NotificationType{models.NotificationApprovalNeeded}},
	ActionManagerDeny:    {ScopeResource, []models.NotificationType{models.NotificationApprovalNeeded}},
	ActionHRApprove:      {ScopeResource, []models.NotificationType{models.NotificationHRApprovalNeeded}},
	ActionHRDeny:         {ScopeResource, []models.NotificationType{models.NotificationHRApprovalNeeded}},
}

// Fulfills returns the notification types cleared by action and their scope.
func Fulfills(action Action) ([]models.NotificationType, Scope, bool) {
	f, ok := fulfillments[action]
	if !ok {
		return nil, 0, false
	}
	return append([]models.NotificationType(nil), f.types...), f.scope, true
}

// Event is the live push payload.
type Event struct {
	NotificationID uint                    `json:"notification_id"`
	Type           models.NotificationType `json:"type"`
	ResourceID     uint                    `json:"resource_id"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	CreatedAt      time.Time               `json:"created_at"`
}

type Dispatcher struct {
	store     storage.NotificationStore
	publisher Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewDispatcher(store storage.NotificationStore, publisher Publisher, log zerolog.Logger) *Dispatcher {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Dispatcher{store: store, publisher: publisher, log: log, now: time.Now}
}

// Create records a notification for recipientID, refreshing the existing
// unread one for the same resource and type instead of adding a second.
// The live push that follows is best-effort.
func (d *Dispatcher) Create(ctx context.Context, recipientID uint, typ models.NotificationType, resourceID uint, title, message string) (models.Notification, error) {
	if !typ.Valid() {
		return models.Notification{}, apperr.Validation("type", fmt.Sprintf("unknown notification type %q", typ))
	}
	if recipientID == 0 {
		return models.Notification{}, apperr.Validation("recipient_id", "recipient is required")
	}
	n := models.Notification{
		RecipientID: recipientID,
		Type:        typ,
		ResourceID:  resourceID,
		Title:       title,
		Message:     message,
	}
	created, err := d.store.UpsertUnreadNotification(ctx, &n)
	if err != nil {
		return models.Notification{}, apperr.Internal("store notification", err)
	}
	result := "refreshed"
	if created {
		result = "created"
	}
	metrics.NotificationsCreated.WithLabelValues(string(typ), result).Inc()

	d.push(ctx, n)
	return n, nil
}

func (d *Dispatcher) push(ctx context.Context, n models.Notification) {
	payload, err := json.Marshal(Event{
		NotificationID: n.ID,
		Type:           n.Type,
		ResourceID:     n.ResourceID,
		Title:          n.Title,
		Message:        n.Message,
		CreatedAt:      n.CreatedAt,
	})
	if err != nil {
		d.log.Warn().Err(err).Uint("notification_id", n.ID).Msg("notify: failed to marshal live event")
		return
	}
	if err := d.publisher.Publish(ctx, n.RecipientID, payload); err != nil {
		metrics.PushFailures.WithLabelValues(d.publisher.Name()).Inc()
		d.log.Warn().Err(err).
			Str("transport", d.publisher.Name()).
			Uint("recipient_id", n.RecipientID).
			Uint("notification_id", n.ID).
			Msg("notify: live push failed (non-fatal)")
	}
}

// Fulfill deletes the notifications made obsolete by action on resourceID.
func (d *Dispatcher) Fulfill(ctx context.Context, actorID, resourceID uint, action Action) (int64, error) {
	f, ok := fulfillments[action]
	if !ok {
		return 0, apperr.Validation("action", fmt.Sprintf("unknown action %q", action))
	}
	return d.remove(ctx, actorID, resourceID, action, f)
}

func (d *Dispatcher) remove(ctx context.Context, actorID, resourceID uint, action Action, f fulfillment) (int64, error) {
	if len(f.types) == 0 {
		return 0, nil
	}
	filter := storage.NotificationFilter{ResourceID: resourceID, Types: f.types}
	if f.scope == ScopeActor {
		actor := actorID
		filter.RecipientID = &actor
	}
	removed, err := d.store.DeleteNotifications(ctx, filter)
	if err != nil {
		return 0, apperr.Internal("fulfill notifications", err)
	}
	if removed > 0 {
		d.log.Debug().
			Str("action", string(action)).
			Uint("resource_id", resourceID).
			Int64("removed", removed).
			Msg("notify: notifications fulfilled")
	}
	return removed, nil
}

// FulfillBestEffort is Fulfill for read paths, where a failure must not fail
// the request.
func (d *Dispatcher) FulfillBestEffort(ctx context.Context, actorID, resourceID uint, action Action) {
	if _, err := d.Fulfill(ctx, actorID, resourceID, action); err != nil {
		d.log.Warn().Err(err).
			Str("action", string(action)).
			Uint("resource_id", resourceID).
			Msg("notify: fulfill failed (non-fatal)")
	}
}

func (d *Dispatcher) List(ctx context.Context, recipientID uint, unreadOnly bool) ([]models.Notification, error) {
	items, err := d.store.ListNotifications(ctx, recipientID, unreadOnly)
	if err != nil {
		return nil, apperr.Internal("list notifications", err)
	}
	return items, nil
}

func (d *Dispatcher) MarkRead(ctx context.Context, recipientID, id uint) (models.Notification, error) {
	n, err := d.store.MarkNotificationRead(ctx, recipientID, id, d.now())
	if errors.Is(err, storage.ErrNotFound) {
		return models.Notification{}, apperr.NotFound("notification not found")
	}
	if err != nil {
		return models.Notification{}, apperr.Internal("mark notification read", err)
	}
	return n, nil
}

// Dismiss deletes one of the recipient's notifications.
func (d *Dispatcher) Dismiss(ctx context.Context, recipientID, id uint) error {
	err := d.store.DeleteNotification(ctx, recipientID, id)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("notification not found")
	}
	if err != nil {
		return apperr.Internal("dismiss notification", err)
	}
	return nil
}
