package handlers

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"timesheets/hours"
	"timesheets/middleware"
	"timesheets/models"
	"timesheets/notify"
	"timesheets/storage/memory"
	"timesheets/timesheet"
	"timesheets/workflow"
)

type testServer struct {
	t       *testing.T
	ctx     context.Context
	store   *memory.Store
	tokens  *middleware.Tokens
	worker  *notify.Worker
	handler http.Handler

	admin, manager, hr, staff models.User
}

func newTestServer(t *testing.T, health HealthCheck) *testServer {
	t.Helper()
	ctx := context.Background()
	log := zerolog.New(io.Discard)
	store := memory.New()
	s := &testServer{t: t, ctx: ctx, store: store, tokens: middleware.NewTokens("test-secret", time.Hour)}

	s.admin = s.createUser(models.User{Username: "root", Role: models.RoleAdmin}, "rootpass")
	s.manager = s.createUser(models.User{Username: "maria", FullName: "Maria Lopez", Role: models.RoleManager}, "mariapass")
	s.hr = s.createUser(models.User{Username: "hana", FullName: "Hana Ito", Role: models.RoleHR}, "hanapass")
	s.staff = s.createUser(models.User{Username: "sam", FullName: "Sam Reyes", Role: models.RoleStaff, ManagerID: &s.manager.ID}, "sampass")

	dispatcher := notify.NewDispatcher(store, nil, log)
	s.worker = notify.NewWorker(store, dispatcher, notify.NewLogMailer(log), notify.WorkerConfig{}, log)
	engine := workflow.New(store, s.worker, log)
	service := timesheet.NewService(store, dispatcher, time.UTC, log)

	s.handler = NewRouter(RouterConfig{
		Auth:          NewAuthHandler(store, s.tokens, 72*time.Hour, log),
		Timesheets:    NewTimesheetHandler(service, engine),
		Templates:     NewTemplateHandler(service),
		Notifications: NewNotificationHandler(dispatcher),
		Tokens:        s.tokens,
		Users:         store,
		Health:        health,
		Log:           log,
	})
	return s
}

func (s *testServer) createUser(u models.User, password string) models.User {
	s.t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		s.t.Fatalf("hash: %v", err)
	}
	u.PasswordHash = string(hash)
	if err := s.store.CreateUser(s.ctx, &u); err != nil {
		s.t.Fatalf("create user %s: %v", u.Username, err)
	}
	return u
}

func (s *testServer) token(u models.User) string {
	s.t.Helper()
	token, err := s.tokens.Generate(&u)
	if err != nil {
		s.t.Fatalf("token: %v", err)
	}
	return token
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) drain() {
	s.t.Helper()
	if _, err := s.worker.ProcessPending(s.ctx); err != nil {
		s.t.Fatalf("process outbox: %v", err)
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code, field string) {
	t.Helper()
	expectStatus(t, rec, status)
	body := decode[middleware.ErrorBody](t, rec)
	if body.Error != code || body.Field != field {
		t.Fatalf("expected %s on %q, got %+v", code, field, body)
	}
}

type sheetBody struct {
	ID      uint                    `json:"id"`
	State   models.TimesheetState   `json:"state"`
	Entries []models.TimesheetEntry `json:"entries"`
	Summary hours.Summary           `json:"summary"`
}

func TestLoginAndPasswordChangeGate(t *testing.T) {
	s := newTestServer(t, nil)
	fresh := s.createUser(models.User{Username: "fresh", Role: models.RoleStaff, MustChangePassword: true}, "secret")

	expectError(t, s.do(http.MethodPost, "/login", "", loginRequest{Username: "fresh", Password: "wrong"}), http.StatusUnauthorized, "unauthenticated", "")
	expectError(t, s.do(http.MethodPost, "/login", "", loginRequest{Username: "nobody", Password: "secret"}), http.StatusUnauthorized, "unauthenticated", "")

	rec := s.do(http.MethodPost, "/login", "", loginRequest{Username: "fresh", Password: "secret"})
	expectStatus(t, rec, http.StatusOK)
	session := decode[sessionResponse](t, rec)
	if session.Token == "" || session.User == nil || session.User.ID != fresh.ID {
		t.Fatalf("unexpected session %+v", session)
	}
	if cookie := rec.Result().Cookies(); len(cookie) != 1 || cookie[0].Name != "token" {
		t.Fatalf("expected token cookie, got %+v", cookie)
	}

	expectError(t, s.do(http.MethodGet, "/timesheets", session.Token, nil), http.StatusForbidden, "forbidden", "")

	mismatch := changePasswordRequest{CurrentPassword: "secret", NewPassword: "better", ConfirmPassword: "other"}
	expectError(t, s.do(http.MethodPost, "/change-password", session.Token, mismatch), http.StatusBadRequest, "validation_error", "confirm_password")
	wrong := changePasswordRequest{CurrentPassword: "nope", NewPassword: "better", ConfirmPassword: "better"}
	expectError(t, s.do(http.MethodPost, "/change-password", session.Token, wrong), http.StatusBadRequest, "validation_error", "current_password")

	ok := changePasswordRequest{CurrentPassword: "secret", NewPassword: "better", ConfirmPassword: "better"}
	expectStatus(t, s.do(http.MethodPost, "/change-password", session.Token, ok), http.StatusOK)
	expectStatus(t, s.do(http.MethodGet, "/timesheets", session.Token, nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodPost, "/login", "", loginRequest{Username: "fresh", Password: "better"}), http.StatusOK)

	expectError(t, s.do(http.MethodGet, "/me", "", nil), http.StatusUnauthorized, "unauthenticated", "")
}

func TestInviteRegistration(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.token(s.admin)

	expectError(t, s.do(http.MethodPost, "/invites", s.token(s.staff), inviteRequest{FullName: "X", Role: "STAFF"}), http.StatusForbidden, "forbidden", "")
	expectError(t, s.do(http.MethodPost, "/invites", admin, inviteRequest{FullName: "X", Role: "BOSS"}), http.StatusBadRequest, "validation_error", "role")
	missing := uint(999)
	expectError(t, s.do(http.MethodPost, "/invites", admin, inviteRequest{FullName: "X", Role: "STAFF", ManagerID: &missing}), http.StatusBadRequest, "validation_error", "manager_id")

	rec := s.do(http.MethodPost, "/invites", admin, inviteRequest{FullName: "New Hire", Email: "new@example.com", Role: "STAFF", ManagerID: &s.manager.ID})
	expectStatus(t, rec, http.StatusCreated)
	invite := decode[models.Invite](t, rec)

	short := registerRequest{Code: invite.Code, Username: "nh", Password: "hunter2", ConfirmPassword: "hunter2"}
	expectError(t, s.do(http.MethodPost, "/register", "", short), http.StatusBadRequest, "validation_error", "username")
	taken := registerRequest{Code: invite.Code, Username: "sam", Password: "hunter2", ConfirmPassword: "hunter2"}
	expectError(t, s.do(http.MethodPost, "/register", "", taken), http.StatusConflict, "conflict", "")

	req := registerRequest{Code: invite.Code, Username: "newbie", Password: "hunter2", ConfirmPassword: "hunter2"}
	rec = s.do(http.MethodPost, "/register", "", req)
	expectStatus(t, rec, http.StatusCreated)
	session := decode[sessionResponse](t, rec)
	user := session.User
	if user.Role != models.RoleStaff || user.ManagerID == nil || *user.ManagerID != s.manager.ID || user.FullName != "New Hire" || user.MustChangePassword {
		t.Fatalf("registered user does not carry the invite: %+v", user)
	}

	req.Username = "again"
	expectError(t, s.do(http.MethodPost, "/register", "", req), http.StatusBadRequest, "validation_error", "code")
}

func TestUserAdministration(t *testing.T) {
	s := newTestServer(t, nil)
	admin := s.token(s.admin)

	rec := s.do(http.MethodGet, "/users?role=manager", s.token(s.hr), nil)
	expectStatus(t, rec, http.StatusOK)
	if users := decode[[]models.User](t, rec); len(users) != 1 || users[0].ID != s.manager.ID {
		t.Fatalf("expected only the manager, got %+v", users)
	}
	expectError(t, s.do(http.MethodGet, "/users", s.token(s.manager), nil), http.StatusForbidden, "forbidden", "")
	expectError(t, s.do(http.MethodPatch, fmt.Sprintf("/users/%d", s.staff.ID), s.token(s.hr), `{"role":"HR"}`), http.StatusForbidden, "forbidden", "")

	path := fmt.Sprintf("/users/%d", s.staff.ID)
	rec = s.do(http.MethodPatch, path, admin, `{"pay_rate":"31.5","email":"sam@example.com","role":"MANAGER"}`)
	expectStatus(t, rec, http.StatusOK)
	updated := decode[models.User](t, rec)
	if !updated.PayRate.Equal(decimal.RequireFromString("31.50")) || updated.Role != models.RoleManager || updated.ManagerID == nil {
		t.Fatalf("unexpected update %+v", updated)
	}

	rec = s.do(http.MethodPatch, path, admin, `{"manager_id":null}`)
	expectStatus(t, rec, http.StatusOK)
	if decode[models.User](t, rec).ManagerID != nil {
		t.Fatalf("expected manager to be cleared")
	}

	expectError(t, s.do(http.MethodPatch, path, admin, fmt.Sprintf(`{"manager_id":%d}`, s.staff.ID)), http.StatusBadRequest, "validation_error", "manager_id")
	expectError(t, s.do(http.MethodPatch, path, admin, `{"pay_rate":"-1"}`), http.StatusBadRequest, "validation_error", "pay_rate")
	expectError(t, s.do(http.MethodPatch, path, admin, `{"shoe_size":44}`), http.StatusBadRequest, "validation_error", "")
	expectError(t, s.do(http.MethodPatch, "/users/999", admin, `{}`), http.StatusNotFound, "not_found", "")
}

func TestTimesheetFlow(t *testing.T) {
	s := newTestServer(t, nil)
	staff, manager, hr := s.token(s.staff), s.token(s.manager), s.token(s.hr)

	period := createTimesheetRequest{PeriodStart: "2026-03-01", PeriodEnd: "2026-03-15"}
	rec := s.do(http.MethodPost, "/timesheets", staff, period)
	expectStatus(t, rec, http.StatusCreated)
	sheet := decode[sheetBody](t, rec)
	if sheet.State != models.StatePendingStaff || len(sheet.Entries) != 15 {
		t.Fatalf("unexpected timesheet %+v", sheet)
	}
	expectStatus(t, s.do(http.MethodPost, "/timesheets", staff, period), http.StatusOK)
	expectError(t, s.do(http.MethodPost, "/timesheets", staff, createTimesheetRequest{PeriodStart: "2026-03-10", PeriodEnd: "2026-03-20"}), http.StatusConflict, "conflict", "")
	expectError(t, s.do(http.MethodPost, "/timesheets", staff, createTimesheetRequest{PeriodStart: "March", PeriodEnd: "2026-03-20"}), http.StatusBadRequest, "validation_error", "period_start")

	base := fmt.Sprintf("/timesheets/%d", sheet.ID)
	entry := fmt.Sprintf("%s/entries/%d", base, sheet.Entries[1].ID)
	expectStatus(t, s.do(http.MethodPatch, entry, staff, `{"in1":"09:00","out1":"17:00"}`), http.StatusOK)
	expectError(t, s.do(http.MethodPatch, entry, staff, `{"out1":"08:00"}`), http.StatusBadRequest, "validation_error", "out1")
	expectError(t, s.do(http.MethodPatch, entry, manager, `{"comments":"x"}`), http.StatusForbidden, "forbidden", "")
	expectError(t, s.do(http.MethodPatch, base+"/entries/abc", staff, `{}`), http.StatusBadRequest, "validation_error", "entryID")

	rec = s.do(http.MethodGet, base, manager, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decode[sheetBody](t, rec).Summary.Total; !got.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected 8 hours, got %s", got)
	}
	expectError(t, s.do(http.MethodGet, "/timesheets/999", staff, nil), http.StatusNotFound, "not_found", "")

	expectError(t, s.do(http.MethodPost, base+"/submit", manager, transitionRequest{Signature: "Maria"}), http.StatusForbidden, "forbidden", "")
	expectError(t, s.do(http.MethodPost, base+"/submit", staff, transitionRequest{Signature: "  "}), http.StatusBadRequest, "validation_error", "signature")
	rec = s.do(http.MethodPost, base+"/submit", staff, transitionRequest{Signature: "Sam Reyes"})
	expectStatus(t, rec, http.StatusOK)
	if state := decode[sheetBody](t, rec).State; state != models.StatePendingManager {
		t.Fatalf("expected PENDING_MANAGER, got %s", state)
	}
	expectError(t, s.do(http.MethodPost, base+"/submit", staff, transitionRequest{Signature: "Sam Reyes"}), http.StatusConflict, "invalid_state", "")
	expectError(t, s.do(http.MethodPatch, entry, staff, `{"comments":"late"}`), http.StatusForbidden, "forbidden", "")

	rec = s.do(http.MethodGet, "/timesheets?scope=team", manager, nil)
	expectStatus(t, rec, http.StatusOK)
	if queue := decode[[]models.Timesheet](t, rec); len(queue) != 1 || queue[0].ID != sheet.ID {
		t.Fatalf("expected the timesheet in the team queue, got %+v", queue)
	}

	expectStatus(t, s.do(http.MethodPost, base+"/approve", manager, transitionRequest{Signature: "Maria Lopez"}), http.StatusOK)
	s.drain()

	rec = s.do(http.MethodGet, "/notifications?unread=true", hr, nil)
	expectStatus(t, rec, http.StatusOK)
	inbox := decode[[]models.Notification](t, rec)
	if len(inbox) != 1 || inbox[0].Type != models.NotificationHRApprovalNeeded || inbox[0].ResourceID != sheet.ID {
		t.Fatalf("expected an HR approval notice, got %+v", inbox)
	}

	expectError(t, s.do(http.MethodGet, "/timesheets?scope=hr", staff, nil), http.StatusForbidden, "forbidden", "")
	expectError(t, s.do(http.MethodGet, "/timesheets?scope=everyone", staff, nil), http.StatusBadRequest, "validation_error", "scope")

	rec = s.do(http.MethodPost, base+"/hr-approve", hr, transitionRequest{Signature: "Hana Ito"})
	expectStatus(t, rec, http.StatusOK)
	if state := decode[sheetBody](t, rec).State; state != models.StateApproved {
		t.Fatalf("expected APPROVED, got %s", state)
	}
	s.drain()

	rec = s.do(http.MethodGet, "/notifications?unread=true", hr, nil)
	if inbox := decode[[]models.Notification](t, rec); len(inbox) != 0 {
		t.Fatalf("expected the HR notice to be fulfilled, got %+v", inbox)
	}

	expectError(t, s.do(http.MethodGet, "/timesheets/export.csv?from=2026-03-01&to=2026-03-31", staff, nil), http.StatusForbidden, "forbidden", "")
	rec = s.do(http.MethodGet, "/timesheets/export.csv?from=2026-03-01&to=2026-03-31", hr, nil)
	expectStatus(t, rec, http.StatusOK)
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("unexpected content type %q", ct)
	}
	records, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 || records[1][2] != "sam" || records[1][7] != "8.00" {
		t.Fatalf("unexpected export %v", records)
	}
}

func TestDenyRequiresNote(t *testing.T) {
	s := newTestServer(t, nil)
	staff, manager := s.token(s.staff), s.token(s.manager)

	rec := s.do(http.MethodPost, "/timesheets", staff, createTimesheetRequest{PeriodStart: "2026-03-16", PeriodEnd: "2026-03-31"})
	base := fmt.Sprintf("/timesheets/%d", decode[sheetBody](t, rec).ID)
	expectStatus(t, s.do(http.MethodPost, base+"/submit", staff, transitionRequest{Signature: "Sam"}), http.StatusOK)

	expectError(t, s.do(http.MethodPost, base+"/deny", manager, transitionRequest{Signature: "Maria"}), http.StatusBadRequest, "validation_error", "note")
	rec = s.do(http.MethodPost, base+"/deny", manager, transitionRequest{Note: "Missing Friday"})
	expectStatus(t, rec, http.StatusOK)
	denied := decode[models.Timesheet](t, rec)
	if denied.State != models.StatePendingStaff || denied.DenialNote != "Missing Friday" || denied.StaffSignature != "" {
		t.Fatalf("unexpected denial result %+v", denied)
	}
}

func TestTemplatesEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	staff := s.token(s.staff)

	expectError(t, s.do(http.MethodPost, "/templates", staff, `{"name":"","patterns":[]}`), http.StatusBadRequest, "validation_error", "name")

	rec := s.do(http.MethodPost, "/templates", staff, `{"name":"Office","patterns":[{"day_type":"WEEKDAY","in1":"09:00","out1":"17:00"}]}`)
	expectStatus(t, rec, http.StatusCreated)
	tmpl := decode[models.TimesheetTemplate](t, rec)

	rec = s.do(http.MethodGet, "/templates", staff, nil)
	if list := decode[[]models.TimesheetTemplate](t, rec); len(list) != 1 || list[0].ID != tmpl.ID {
		t.Fatalf("unexpected templates %+v", list)
	}
	rec = s.do(http.MethodGet, "/templates", s.token(s.manager), nil)
	if list := decode[[]models.TimesheetTemplate](t, rec); len(list) != 0 {
		t.Fatalf("templates must be private, got %+v", list)
	}

	// 2026-03-02 to 2026-03-08 is Monday to Sunday.
	rec = s.do(http.MethodPost, "/timesheets", staff, createTimesheetRequest{PeriodStart: "2026-03-02", PeriodEnd: "2026-03-08"})
	base := fmt.Sprintf("/timesheets/%d", decode[sheetBody](t, rec).ID)

	expectError(t, s.do(http.MethodPost, base+"/apply-template", staff, `{}`), http.StatusBadRequest, "validation_error", "template_id")
	expectError(t, s.do(http.MethodPost, base+"/apply-template", staff, `{"template_id":999}`), http.StatusNotFound, "not_found", "")

	rec = s.do(http.MethodPost, base+"/apply-template", staff, fmt.Sprintf(`{"template_id":%d}`, tmpl.ID))
	expectStatus(t, rec, http.StatusOK)
	applied := decode[struct {
		Summary hours.Summary `json:"summary"`
	}](t, rec)
	if !applied.Summary.Total.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected five 8 hour weekdays, got %s", applied.Summary.Total)
	}

	del := fmt.Sprintf("/templates/%d", tmpl.ID)
	expectError(t, s.do(http.MethodDelete, del, s.token(s.manager), nil), http.StatusNotFound, "not_found", "")
	expectStatus(t, s.do(http.MethodDelete, del, staff, nil), http.StatusNoContent)
	expectError(t, s.do(http.MethodDelete, del, staff, nil), http.StatusNotFound, "not_found", "")
}

func TestNotificationInbox(t *testing.T) {
	s := newTestServer(t, nil)
	staff, manager := s.token(s.staff), s.token(s.manager)

	rec := s.do(http.MethodPost, "/timesheets", staff, createTimesheetRequest{PeriodStart: "2026-04-01", PeriodEnd: "2026-04-15"})
	base := fmt.Sprintf("/timesheets/%d", decode[sheetBody](t, rec).ID)
	expectStatus(t, s.do(http.MethodPost, base+"/submit", staff, transitionRequest{Signature: "Sam"}), http.StatusOK)
	s.drain()

	rec = s.do(http.MethodGet, "/notifications", manager, nil)
	inbox := decode[[]models.Notification](t, rec)
	if len(inbox) != 1 || inbox[0].Type != models.NotificationApprovalNeeded {
		t.Fatalf("expected an approval request, got %+v", inbox)
	}
	path := fmt.Sprintf("/notifications/%d", inbox[0].ID)

	expectError(t, s.do(http.MethodPost, path+"/read", staff, nil), http.StatusNotFound, "not_found", "")
	expectError(t, s.do(http.MethodGet, "/notifications?unread=maybe", manager, nil), http.StatusBadRequest, "validation_error", "unread")

	rec = s.do(http.MethodPost, path+"/read", manager, nil)
	expectStatus(t, rec, http.StatusOK)
	if n := decode[models.Notification](t, rec); !n.Read || n.ReadAt == nil {
		t.Fatalf("expected read notification, got %+v", n)
	}
	rec = s.do(http.MethodGet, "/notifications?unread=true", manager, nil)
	if unread := decode[[]models.Notification](t, rec); len(unread) != 0 {
		t.Fatalf("expected empty unread inbox, got %+v", unread)
	}

	expectStatus(t, s.do(http.MethodDelete, path, manager, nil), http.StatusNoContent)
	expectError(t, s.do(http.MethodDelete, path, manager, nil), http.StatusNotFound, "not_found", "")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	expectStatus(t, s.do(http.MethodGet, "/health", "", nil), http.StatusOK)
	expectStatus(t, s.do(http.MethodGet, "/metrics", "", nil), http.StatusOK)

	down := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
	rec := down.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("health body leaks the cause: %s", rec.Body.String())
	}
}

func TestCamelCaseRequestKeys(t *testing.T) {
	s := newTestServer(t, nil)
	staff := s.token(s.staff)

	rec := s.do(http.MethodPost, "/timesheets", staff, `{"periodStart":"2026-03-02","periodEnd":"2026-03-08"}`)
	expectStatus(t, rec, http.StatusCreated)
	sheet := decode[sheetBody](t, rec)
	if len(sheet.Entries) != 7 {
		t.Fatalf("expected seven entries, got %d", len(sheet.Entries))
	}
	expectStatus(t, s.do(http.MethodPost, "/timesheets", staff, `{"periodStart":"2026-03-02","periodEnd":"2026-03-08"}`), http.StatusOK)
	expectError(t, s.do(http.MethodPost, "/timesheets", staff, `{"periodStart":"soon","periodEnd":"2026-03-08"}`), http.StatusBadRequest, "validation_error", "periodStart")

	rec = s.do(http.MethodPost, "/templates", staff, `{"name":"Office","patterns":[{"day_type":"WEEKDAY","in1":"09:00","out1":"17:00"}]}`)
	tmpl := decode[models.TimesheetTemplate](t, rec)
	path := fmt.Sprintf("/timesheets/%d/apply-template", sheet.ID)
	rec = s.do(http.MethodPost, path, staff, fmt.Sprintf(`{"templateId":%d}`, tmpl.ID))
	expectStatus(t, rec, http.StatusOK)
	applied := decode[struct {
		Summary hours.Summary `json:"summary"`
	}](t, rec)
	if !applied.Summary.Total.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected 40 hours, got %s", applied.Summary.Total)
	}
}

func TestCurrentIsAlwaysOK(t *testing.T) {
	s := newTestServer(t, nil)
	staff := s.token(s.staff)

	rec := s.do(http.MethodGet, "/timesheets/current", staff, nil)
	expectStatus(t, rec, http.StatusOK)
	first := decode[sheetBody](t, rec)
	rec = s.do(http.MethodGet, "/timesheets/current", staff, nil)
	expectStatus(t, rec, http.StatusOK)
	if again := decode[sheetBody](t, rec); again.ID != first.ID {
		t.Fatalf("expected the same timesheet, got %d and %d", first.ID, again.ID)
	}
}
