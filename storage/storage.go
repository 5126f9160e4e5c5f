// Package storage defines the persistence boundary used by the timesheet
// services. Implementations live in storage/postgres and storage/memory.
package storage

import (
	"context"
	"errors"
	"time"

	"timesheets/models"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a write conflicts with existing data, such as an
	// overlapping period or a taken username.
	ErrConflict = errors.New("record conflict")
	// ErrDuplicate indicates the exact record already exists.
	ErrDuplicate = errors.New("record already exists")
)

// TimesheetMutation runs while the timesheet row is locked. It mutates ts in
// place and returns the outbox tasks to commit with it. Returning an error
// aborts the transaction and leaves the row untouched.
type TimesheetMutation func(ts *models.Timesheet) ([]models.OutboxTask, error)

// EntryMutation runs while the parent timesheet is share-locked and the
// selected entries are locked for update. ts reflects the state at write time.
type EntryMutation func(ts models.Timesheet, entries []*models.TimesheetEntry) error

// TimesheetFilter narrows ListTimesheets. Zero fields do not filter.
type TimesheetFilter struct {
	OwnerID *uint
	// ManagerID selects timesheets whose owner reports to this user.
	ManagerID *uint
	States    []models.TimesheetState
	// From and To keep timesheets whose period intersects [From, To].
	From, To *time.Time
	// WithEntries preloads entries ordered by date.
	WithEntries bool
}

// NotificationFilter selects notifications for bulk deletion.
type NotificationFilter struct {
	ResourceID  uint
	RecipientID *uint
	Types       []models.NotificationType
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uint) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	// ListUsers returns users holding any of roles, or every user when roles is empty.
	ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error)

	CreateInvite(ctx context.Context, invite *models.Invite) error
	GetInvite(ctx context.Context, code string) (models.Invite, error)
	// RedeemInvite creates user and marks the invite used in one transaction.
	// It returns ErrNotFound when the code is unknown, used or expired.
	RedeemInvite(ctx context.Context, code string, user *models.User, now time.Time) error
}

type TimesheetStore interface {
	// CreateTimesheet inserts ts with its entries. It returns ErrDuplicate when
	// the exact period exists and ErrConflict when another period overlaps.
	CreateTimesheet(ctx context.Context, ts *models.Timesheet) error
	FindTimesheetByPeriod(ctx context.Context, userID uint, start, end time.Time) (models.Timesheet, error)
	// GetTimesheet loads the timesheet with its owner and, optionally, entries.
	GetTimesheet(ctx context.Context, id uint, withEntries bool) (models.Timesheet, error)
	ListTimesheets(ctx context.Context, filter TimesheetFilter) ([]models.Timesheet, error)
	MutateTimesheet(ctx context.Context, id uint, fn TimesheetMutation) (models.Timesheet, error)
	// MutateEntries locks the listed entries, or all entries when entryIDs is
	// empty, and persists them after fn returns nil.
	MutateEntries(ctx context.Context, timesheetID uint, entryIDs []uint, fn EntryMutation) ([]models.TimesheetEntry, error)
}

type TemplateStore interface {
	CreateTemplate(ctx context.Context, tmpl *models.TimesheetTemplate) error
	GetTemplate(ctx context.Context, id uint) (models.TimesheetTemplate, error)
	ListTemplates(ctx context.Context, userID uint) ([]models.TimesheetTemplate, error)
	DeleteTemplate(ctx context.Context, id uint) error
}

type NotificationStore interface {
	// UpsertUnreadNotification refreshes the unread notification with the same
	// recipient, resource and type, or inserts n when none exists.
	UpsertUnreadNotification(ctx context.Context, n *models.Notification) (created bool, err error)
	ListNotifications(ctx context.Context, recipientID uint, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, recipientID, id uint, at time.Time) (models.Notification, error)
	DeleteNotification(ctx context.Context, recipientID, id uint) error
	DeleteNotifications(ctx context.Context, filter NotificationFilter) (int64, error)
}

type OutboxStore interface {
	EnqueueOutbox(ctx context.Context, tasks ...models.OutboxTask) error
	// ClaimOutbox leases up to limit due tasks, oldest first.
	ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxTask, error)
	CompleteOutbox(ctx context.Context, id string) error
	RetryOutbox(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	BuryOutbox(ctx context.Context, id string, attempts int, lastErr string) error
	// PruneOutbox deletes done tasks last updated before the cutoff.
	PruneOutbox(ctx context.Context, before time.Time) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	UserStore
	TimesheetStore
	TemplateStore
	NotificationStore
	OutboxStore
}
