package models

import "time"

type NotificationType string

const (
	// NotificationSubmitted is the owner's submission receipt.
	NotificationSubmitted NotificationType = "TIMESHEET_SUBMITTED"
	// NotificationApprovalNeeded asks the owner's manager to review.
	NotificationApprovalNeeded NotificationType = "TIMESHEET_APPROVAL_NEEDED"
	// NotificationManagerApproved tells the owner the manager signed off.
	NotificationManagerApproved NotificationType = "TIMESHEET_MANAGER_APPROVED"
	// NotificationHRApprovalNeeded asks HR and admins to review.
	NotificationHRApprovalNeeded NotificationType = "TIMESHEET_HR_APPROVAL_NEEDED"
	// NotificationDenied tells the owner the timesheet came back with a note.
	NotificationDenied NotificationType = "TIMESHEET_DENIED"
	// NotificationApproved is the final approval notice.
	NotificationApproved NotificationType = "TIMESHEET_APPROVED"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationSubmitted, NotificationApprovalNeeded, NotificationManagerApproved,
		NotificationHRApprovalNeeded, NotificationDenied, NotificationApproved:
		return true
	}
	return false
}

type Notification struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	RecipientID uint             `gorm:"not null;index:idx_notification_lookup" json:"recipient_id"`
	Type        NotificationType `gorm:"not null;size:40;index:idx_notification_lookup" json:"type"`
	ResourceID  uint             `gorm:"not null;index:idx_notification_lookup" json:"resource_id"`
	Title       string           `gorm:"not null;size:200" json:"title"`
	Message     string           `gorm:"size:2000" json:"message"`
	Read        bool             `gorm:"not null;default:false" json:"read"`
	ReadAt      *time.Time       `json:"read_at"`
}
