// Package access decides whether a caller may act on a timesheet, based on
// the caller's role and relationship to the timesheet's owner.
package access

import (
	"fmt"
	"strings"

	"timesheets/apperr"
	"timesheets/models"
)

// Subject is the authenticated caller.
type Subject struct {
	UserID uint
	Role   models.Role
}

// SubjectOf builds a Subject from a loaded user.
func SubjectOf(u *models.User) Subject {
	return Subject{UserID: u.ID, Role: u.Role}
}

// Resource describes the timesheet owner as seen by the guard.
type Resource struct {
	OwnerID        uint
	OwnerManagerID *uint
}

// ResourceOf builds a Resource from the timesheet owner.
func ResourceOf(owner *models.User) Resource {
	return Resource{OwnerID: owner.ID, OwnerManagerID: owner.ManagerID}
}

// Requirement is one capability predicate.
type Requirement interface {
	Allows(Subject, Resource) bool
	String() string
}

type owner struct{}

func (owner) Allows(s Subject, r Resource) bool { return s.UserID != 0 && s.UserID == r.OwnerID }
func (owner) String() string                    { return "owner" }

type directManager struct{}

func (directManager) Allows(s Subject, r Resource) bool {
	return s.UserID != 0 && r.OwnerManagerID != nil && *r.OwnerManagerID == s.UserID
}
func (directManager) String() string { return "direct manager" }

type hasRole []models.Role

func (h hasRole) Allows(s Subject, _ Resource) bool {
	for _, role := range h {
		if s.Role == role {
			return true
		}
	}
	return false
}

func (h hasRole) String() string {
	names := make([]string, len(h))
	for i, role := range h {
		names[i] = string(role)
	}
	return "role " + strings.Join(names, "|")
}

type anyOf []Requirement

func (a anyOf) Allows(s Subject, r Resource) bool {
	for _, req := range a {
		if req.Allows(s, r) {
			return true
		}
	}
	return false
}

func (a anyOf) String() string {
	names := make([]string, len(a))
	for i, req := range a {
		names[i] = req.String()
	}
	return strings.Join(names, " or ")
}

var (
	Owner         Requirement = owner{}
	DirectManager Requirement = directManager{}
)

func HasRole(roles ...models.Role) Requirement { return hasRole(roles) }

func AnyOf(reqs ...Requirement) Requirement { return anyOf(reqs) }

// Requirements per operation.
var (
	CanEditEntries   = Owner
	CanSubmit        = Owner
	CanManagerReview = DirectManager
	CanHRReview      = HasRole(models.RoleHR, models.RoleAdmin)
	CanView          = AnyOf(Owner, DirectManager, HasRole(models.RoleHR, models.RoleAdmin))
)

// Check returns a Forbidden error when req denies the subject. Existence of the
// resource is not masked.
func Check(req Requirement, s Subject, r Resource) error {
	if req.Allows(s, r) {
		return nil
	}
	return apperr.Forbidden(fmt.Sprintf("requires %s", req))
}
