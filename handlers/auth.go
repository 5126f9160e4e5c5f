package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"timesheets/apperr"
	"timesheets/middleware"
	"timesheets/models"
	"timesheets/storage"
)

const (
	minUsernameLength = 3
	minPasswordLength = 5
)

type AuthHandler struct {
	users            storage.UserStore
	tokens           *middleware.Tokens
	inviteExpiration time.Duration
	log              zerolog.Logger
	now              func() time.Time
}

func NewAuthHandler(users storage.UserStore, tokens *middleware.Tokens, inviteExpiration time.Duration, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		users:            users,
		tokens:           tokens,
		inviteExpiration: inviteExpiration,
		log:              log,
		now:              time.Now,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// startSession issues a token, mirrors it into the "token" cookie and writes
// the session body.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, err := h.tokens.Generate(user)
	if err != nil {
		writeError(w, r, apperr.Internal("generate token", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.Expiration().Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	writeJSON(w, status, sessionResponse{
		Token:     token,
		ExpiresAt: h.now().Add(h.tokens.Expiration()),
		User:      user,
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), strings.TrimSpace(req.Username))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, apperr.Unauthenticated("invalid credentials"))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Internal("load user", err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, r, apperr.Unauthenticated("invalid credentials"))
		return
	}

	h.log.Info().Uint("user_id", user.ID).Msg("user logged in")
	h.startSession(w, r, http.StatusOK, &user)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)); err != nil {
		writeError(w, r, apperr.Validation("current_password", "current password is incorrect"))
		return
	}
	if err := checkNewPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		writeError(w, r, err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, apperr.Internal("hash password", err))
		return
	}

	updated := *user
	updated.PasswordHash = string(hashedPassword)
	updated.MustChangePassword = false
	if err := h.users.UpdateUser(r.Context(), &updated); err != nil {
		writeError(w, r, apperr.Internal("update password", err))
		return
	}

	h.log.Info().Uint("user_id", updated.ID).Msg("password changed")
	h.startSession(w, r, http.StatusOK, &updated)
}

func checkNewPassword(password, confirm string) error {
	if password != confirm {
		return apperr.Validation("confirm_password", "passwords do not match")
	}
	if len(password) < minPasswordLength {
		return apperr.Validation("password", "password must be at least 5 characters")
	}
	return nil
}

type registerRequest struct {
	Code            string `json:"code"`
	Username        string `json:"username"`
	FullName        string `json:"full_name"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Register redeems an invite. Role, manager and email come from the invite;
// the user chose their own password so no change is forced.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	invite, err := h.users.GetInvite(r.Context(), req.Code)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !invite.IsValid(h.now())) {
		writeError(w, r, apperr.Validation("code", "invite has expired or already been used"))
		return
	}
	if err != nil {
		writeError(w, r, apperr.Internal("load invite", err))
		return
	}

	username := strings.TrimSpace(req.Username)
	if len(username) < minUsernameLength {
		writeError(w, r, apperr.Validation("username", "username must be at least 3 characters"))
		return
	}
	if err := checkNewPassword(req.Password, req.ConfirmPassword); err != nil {
		writeError(w, r, err)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, apperr.Internal("hash password", err))
		return
	}

	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = invite.FullName
	}
	user := models.User{
		Username:           username,
		FullName:           fullName,
		Email:              invite.Email,
		PasswordHash:       string(hashedPassword),
		Role:               invite.Role,
		ManagerID:          invite.ManagerID,
		MustChangePassword: false,
	}

	err = h.users.RedeemInvite(r.Context(), req.Code, &user, h.now())
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrConflict):
		writeError(w, r, apperr.Conflict("username already exists"))
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, apperr.Validation("code", "invite has expired or already been used"))
		return
	default:
		writeError(w, r, apperr.Internal("register user", err))
		return
	}

	h.log.Info().Uint("user_id", user.ID).Str("role", string(user.Role)).Msg("user registered")
	h.startSession(w, r, http.StatusCreated, &user)
}

type inviteRequest struct {
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	ManagerID *uint  `json:"manager_id"`
}

func (h *AuthHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	if !user.CanCreateInvites() {
		writeError(w, r, apperr.Forbidden("only admins can create invites"))
		return
	}

	var req inviteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	role, ok := models.ParseRole(req.Role)
	if !ok {
		writeError(w, r, apperr.Validation("role", "invalid role"))
		return
	}
	if strings.TrimSpace(req.FullName) == "" {
		writeError(w, r, apperr.Validation("full_name", "full name is required"))
		return
	}
	if req.ManagerID != nil {
		if err := h.checkManager(r, *req.ManagerID, 0); err != nil {
			writeError(w, r, err)
			return
		}
	}

	code, err := models.GenerateInviteCode()
	if err != nil {
		writeError(w, r, apperr.Internal("generate invite code", err))
		return
	}

	invite := models.Invite{
		Code:      code,
		FullName:  strings.TrimSpace(req.FullName),
		Email:     strings.TrimSpace(req.Email),
		Role:      role,
		ManagerID: req.ManagerID,
		CreatedBy: user.ID,
		ExpiresAt: h.now().Add(h.inviteExpiration),
	}
	if err := h.users.CreateInvite(r.Context(), &invite); err != nil {
		writeError(w, r, apperr.Internal("create invite", err))
		return
	}

	h.log.Info().Uint("invite_id", invite.ID).Str("role", string(role)).Msg("invite created")
	writeJSON(w, http.StatusCreated, invite)
}

// checkManager verifies managerID names an existing user other than self.
func (h *AuthHandler) checkManager(r *http.Request, managerID, self uint) error {
	if managerID == self {
		return apperr.Validation("manager_id", "a user cannot manage themselves")
	}
	if _, err := h.users.GetUser(r.Context(), managerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.Validation("manager_id", "manager not found")
		}
		return apperr.Internal("load manager", err)
	}
	return nil
}
