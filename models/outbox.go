package models

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxDone    OutboxStatus = "done"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxTask is a side effect committed together with a timesheet
// transition and executed later by the notification worker.
type OutboxTask struct {
	ID            string       `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Kind          string       `gorm:"not null;size:50" json:"kind"`
	Payload       string       `gorm:"type:text;not null" json:"payload"`
	Status        OutboxStatus `gorm:"not null;size:10;index:idx_outbox_due" json:"status"`
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt time.Time    `gorm:"not null;index:idx_outbox_due" json:"next_attempt_at"`
	LockedUntil   *time.Time   `json:"locked_until"`
	LastError     string       `gorm:"size:2000" json:"last_error"`
}

// NewOutboxTask returns a pending task due immediately. Ids are version 7
// UUIDs, so tasks created at the same instant still sort in creation order.
func NewOutboxTask(kind, payload string, now time.Time) OutboxTask {
	return OutboxTask{
		ID:            uuid.Must(uuid.NewV7()).String(),
		CreatedAt:     now,
		Kind:          kind,
		Payload:       payload,
		Status:        OutboxPending,
		NextAttemptAt: now,
	}
}
