package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"timesheets/models"
)

// Outbox task kinds.
const (
	KindCreate             = "notification.create"
	KindFulfill            = "notification.fulfill"
	KindFinalApprovalEmail = "email.final_approval"
)

// CreatePayload describes a notification to record. When State is set the
// notification is only recorded while timesheet ResourceID is still in it.
type CreatePayload struct {
	RecipientID uint                    `json:"recipient_id"`
	Type        models.NotificationType `json:"type"`
	ResourceID  uint                    `json:"resource_id"`
	Title       string                  `json:"title"`
	Message     string                  `json:"message"`
	State       models.TimesheetState   `json:"state,omitempty"`
}

// dueWhile maps the notices that can still be acted on to the timesheet
// state that makes them current. Any other state makes them stale.
var dueWhile = map[models.NotificationType]models.TimesheetState{
	models.NotificationApprovalNeeded:   models.StatePendingManager,
	models.NotificationHRApprovalNeeded: models.StatePendingHR,
	models.NotificationDenied:           models.StatePendingStaff,
}

// DueWhile returns the state a notice of type typ depends on.
func DueWhile(typ models.NotificationType) (models.TimesheetState, bool) {
	state, ok := dueWhile[typ]
	return state, ok
}

type FulfillPayload struct {
	ActorID    uint   `json:"actor_id"`
	ResourceID uint   `json:"resource_id"`
	Action     Action `json:"action"`
}

// FinalApprovalPayload carries only identifiers; the owner and the hour
// summary are loaded when the email is sent.
type FinalApprovalPayload struct {
	TimesheetID  uint   `json:"timesheet_id"`
	ApproverName string `json:"approver_name"`
}

func newTask(kind string, payload any, now time.Time) (models.OutboxTask, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.OutboxTask{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return models.NewOutboxTask(kind, string(data), now), nil
}

func CreateTask(p CreatePayload, now time.Time) (models.OutboxTask, error) {
	return newTask(KindCreate, p, now)
}

func FulfillTask(p FulfillPayload, now time.Time) (models.OutboxTask, error) {
	return newTask(KindFulfill, p, now)
}

func FinalApprovalTask(p FinalApprovalPayload, now time.Time) (models.OutboxTask, error) {
	return newTask(KindFinalApprovalEmail, p, now)
}

// Batch accumulates tasks, keeping the first encoding error.
type Batch struct {
	now   time.Time
	tasks []models.OutboxTask
	err   error
}

func NewBatch(now time.Time) *Batch {
	return &Batch{now: now}
}

func (b *Batch) add(task models.OutboxTask, err error) {
	if b.err != nil {
		return
	}
	if err != nil {
		b.err = err
		return
	}
	b.tasks = append(b.tasks, task)
}

func (b *Batch) Fulfill(actorID, resourceID uint, action Action) *Batch {
	b.add(FulfillTask(FulfillPayload{ActorID: actorID, ResourceID: resourceID, Action: action}, b.now))
	return b
}

func (b *Batch) Create(recipientID uint, typ models.NotificationType, resourceID uint, title, message string) *Batch {
	b.add(CreateTask(CreatePayload{
		RecipientID: recipientID,
		Type:        typ,
		ResourceID:  resourceID,
		Title:       title,
		Message:     message,
		State:       dueWhile[typ],
	}, b.now))
	return b
}

func (b *Batch) FinalApprovalEmail(timesheetID uint, approverName string) *Batch {
	b.add(FinalApprovalTask(FinalApprovalPayload{TimesheetID: timesheetID, ApproverName: approverName}, b.now))
	return b
}

func (b *Batch) Tasks() ([]models.OutboxTask, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.tasks, nil
}
