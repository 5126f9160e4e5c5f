package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"timesheets/apperr"
	"timesheets/models"
	"timesheets/storage"
	"timesheets/timesheet"
)

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

// ListUsers returns every user, or those holding ?role=.
func (h *AuthHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if !user.CanListUsers() {
		writeError(w, r, apperr.Forbidden("only HR and admins can list users"))
		return
	}

	var roles []models.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, ok := models.ParseRole(strings.ToUpper(raw))
		if !ok {
			writeError(w, r, apperr.Validation("role", "invalid role"))
			return
		}
		roles = append(roles, role)
	}

	users, err := h.users.ListUsers(r.Context(), roles...)
	if err != nil {
		writeError(w, r, apperr.Internal("list users", err))
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type updateUserRequest struct {
	FullName *string                  `json:"full_name"`
	Email    *string                  `json:"email"`
	Role     *string                  `json:"role"`
	PayRate  *decimal.Decimal         `json:"pay_rate"`
	Manager  timesheet.Optional[uint] `json:"manager_id"`
}

// UpdateUser changes profile, role, manager and pay rate. A null manager_id
// detaches the user from their manager.
func (h *AuthHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor := currentUser(r)
	if !actor.CanManageUsers() {
		writeError(w, r, apperr.Forbidden("only admins can edit users"))
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.users.GetUser(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, apperr.NotFound("user not found"))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Internal("load user", err))
		return
	}

	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		if name == "" {
			writeError(w, r, apperr.Validation("full_name", "full name is required"))
			return
		}
		user.FullName = name
	}
	if req.Email != nil {
		user.Email = strings.TrimSpace(*req.Email)
	}
	if req.Role != nil {
		role, ok := models.ParseRole(*req.Role)
		if !ok {
			writeError(w, r, apperr.Validation("role", "invalid role"))
			return
		}
		if user.ID == actor.ID && role != models.RoleAdmin {
			writeError(w, r, apperr.Validation("role", "admins cannot demote themselves"))
			return
		}
		user.Role = role
	}
	if req.PayRate != nil {
		if req.PayRate.IsNegative() {
			writeError(w, r, apperr.Validation("pay_rate", "pay rate must not be negative"))
			return
		}
		user.PayRate = req.PayRate.Round(2)
	}
	if req.Manager.Set {
		if req.Manager.Value != nil {
			if err := h.checkManager(r, *req.Manager.Value, user.ID); err != nil {
				writeError(w, r, err)
				return
			}
		}
		user.ManagerID = req.Manager.Value
	}

	if err := h.users.UpdateUser(r.Context(), &user); err != nil {
		writeError(w, r, apperr.Internal("update user", err))
		return
	}

	h.log.Info().Uint("user_id", user.ID).Uint("admin_id", actor.ID).Msg("user updated")
	writeJSON(w, http.StatusOK, user)
}
