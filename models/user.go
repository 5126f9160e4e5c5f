package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Role string

const (
	RoleStaff   Role = "STAFF"
	RoleManager Role = "MANAGER"
	RoleHR      Role = "HR"
	RoleAdmin   Role = "ADMIN"
)

// Roles lists every role in privilege order.
var Roles = []Role{RoleStaff, RoleManager, RoleHR, RoleAdmin}

func (r Role) Valid() bool {
	switch r {
	case RoleStaff, RoleManager, RoleHR, RoleAdmin:
		return true
	}
	return false
}

// ParseRole accepts the upper-case role names used on the wire.
func ParseRole(value string) (Role, bool) {
	role := Role(value)
	return role, role.Valid()
}

type User struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	DeletedAt          gorm.DeletedAt  `gorm:"index" json:"-"`
	Username           string          `gorm:"uniqueIndex;not null;size:100" json:"username"`
	FullName           string          `gorm:"not null;size:200" json:"full_name"`
	Email              string          `gorm:"size:254" json:"email"`
	PasswordHash       string          `gorm:"not null" json:"-"`
	Role               Role            `gorm:"not null;size:20;index" json:"role"`
	ManagerID          *uint           `gorm:"index" json:"manager_id"`
	PayRate            decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"pay_rate"`
	MustChangePassword bool            `gorm:"default:true" json:"must_change_password"`
}

func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsHR() bool {
	return u.Role == RoleHR
}

func (u *User) IsManager() bool {
	return u.Role == RoleManager
}

// CanReviewAsHR reports whether the user may act on the HR stage.
func (u *User) CanReviewAsHR() bool {
	return u.IsAdmin() || u.IsHR()
}

// IsManagerOf reports whether u is the direct manager of other.
func (u *User) IsManagerOf(other *User) bool {
	return other != nil && other.ManagerID != nil && *other.ManagerID == u.ID
}

func (u *User) CanCreateInvites() bool {
	return u.IsAdmin()
}

func (u *User) CanManageUsers() bool {
	return u.IsAdmin()
}

func (u *User) CanListUsers() bool {
	return u.IsAdmin() || u.IsHR()
}
