package timesheet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"timesheets/apperr"
	"timesheets/models"
	"timesheets/notify"
	"timesheets/storage/memory"
)

type recordingFulfiller struct {
	mu    sync.Mutex
	calls []notify.Action
}

func (f *recordingFulfiller) FulfillBestEffort(_ context.Context, _, _ uint, action notify.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, action)
}

type env struct {
	ctx       context.Context
	store     *memory.Store
	svc       *Service
	fulfiller *recordingFulfiller
	staff     models.User
	manager   models.User
	hr        models.User
	stranger  models.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	e := &env{ctx: ctx, store: store, fulfiller: &recordingFulfiller{}}
	create := func(u models.User) models.User {
		if err := store.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		return u
	}
	e.manager = create(models.User{Username: "maria", Role: models.RoleManager})
	e.hr = create(models.User{Username: "hana", Role: models.RoleHR})
	e.stranger = create(models.User{Username: "otto", Role: models.RoleStaff})
	e.staff = create(models.User{Username: "sam", Role: models.RoleStaff, ManagerID: &e.manager.ID})
	e.svc = NewService(store, e.fulfiller, time.UTC, zerolog.New(io.Discard))
	return e
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodFor(t *testing.T) {
	cases := []struct {
		at         time.Time
		start, end time.Time
	}{
		{day(2026, 3, 1), day(2026, 3, 1), day(2026, 3, 15)},
		{day(2026, 3, 15), day(2026, 3, 1), day(2026, 3, 15)},
		{day(2026, 3, 16), day(2026, 3, 16), day(2026, 3, 31)},
		{day(2026, 2, 20), day(2026, 2, 16), day(2026, 2, 28)},
		{day(2028, 2, 29), day(2028, 2, 16), day(2028, 2, 29)},
		{day(2026, 12, 31), day(2026, 12, 16), day(2026, 12, 31)},
	}
	for _, tc := range cases {
		start, end := PeriodFor(tc.at, time.UTC)
		if !start.Equal(tc.start) || !end.Equal(tc.end) {
			t.Fatalf("%s: expected %s..%s, got %s..%s", tc.at.Format(models.DateLayout), tc.start, tc.end, start, end)
		}
	}
}

func TestPeriodForUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 02:00 UTC on the 16th is still the 15th in UTC-5.
	start, end := PeriodFor(time.Date(2026, 3, 16, 2, 0, 0, 0, time.UTC), loc)
	if !start.Equal(day(2026, 3, 1)) || !end.Equal(day(2026, 3, 15)) {
		t.Fatalf("unexpected period %s..%s", start, end)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ts, created, err := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created || ts.State != models.StatePendingStaff || len(ts.Entries) != 15 {
		t.Fatalf("unexpected timesheet: created=%t state=%s entries=%d", created, ts.State, len(ts.Entries))
	}
	if ts.User == nil || ts.User.ID != e.staff.ID {
		t.Fatalf("expected owner to be loaded")
	}

	again, created, err := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15))
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if created || again.ID != ts.ID {
		t.Fatalf("expected the existing timesheet, got created=%t id=%d", created, again.ID)
	}

	// Another user may hold the same period.
	if _, created, err := e.svc.GetOrCreateForPeriod(e.ctx, e.stranger.ID, day(2026, 3, 1), day(2026, 3, 15)); err != nil || !created {
		t.Fatalf("expected another user's period to be created, got created=%t err=%v", created, err)
	}
}

func TestGetOrCreateRejects(t *testing.T) {
	e := newEnv(t)
	if _, _, err := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15)); err != nil {
		t.Fatalf("create: %v", err)
	}
	cases := []struct {
		name       string
		start, end time.Time
		want       *apperr.Error
	}{
		{"overlap", day(2026, 3, 10), day(2026, 3, 20), apperr.ErrConflict},
		{"contained", day(2026, 3, 2), day(2026, 3, 3), apperr.ErrConflict},
		{"reversed", day(2026, 4, 10), day(2026, 4, 1), apperr.ErrValidation},
		{"too long", day(2026, 5, 1), day(2026, 7, 2), apperr.ErrValidation},
	}
	for _, tc := range cases {
		_, _, err := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, tc.start, tc.end)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, _, err := e.svc.GetOrCreateForPeriod(e.ctx, 4242, day(2026, 3, 1), day(2026, 3, 15)); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected unknown user to be not found, got %v", err)
	}
}

func TestConcurrentGetOrCreateCreatesOnce(t *testing.T) {
	e := newEnv(t)
	var wg sync.WaitGroup
	ids := make(chan uint, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts, _, err := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 16), day(2026, 3, 31))
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			ids <- ts.ID
		}()
	}
	wg.Wait()
	close(ids)
	var first uint
	for id := range ids {
		if first == 0 {
			first = id
		}
		if id != first {
			t.Fatalf("expected a single timesheet, got ids %d and %d", first, id)
		}
	}
}

func TestGetChecksAccessAndFulfillsView(t *testing.T) {
	e := newEnv(t)
	ts, _, err := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, viewer := range []models.User{e.staff, e.manager, e.hr} {
		if _, err := e.svc.Get(e.ctx, &viewer, ts.ID); err != nil {
			t.Fatalf("%s should view: %v", viewer.Username, err)
		}
	}
	if _, err := e.svc.Get(e.ctx, &e.stranger, ts.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
	if _, err := e.svc.Get(e.ctx, &e.staff, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(e.fulfiller.calls) != 3 || e.fulfiller.calls[0] != notify.ActionView {
		t.Fatalf("expected a view fulfillment per successful read, got %v", e.fulfiller.calls)
	}
}

func TestListScopes(t *testing.T) {
	e := newEnv(t)
	mine, _, _ := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15))
	if _, err := e.store.MutateTimesheet(e.ctx, mine.ID, func(ts *models.Timesheet) ([]models.OutboxTask, error) {
		now := time.Now()
		ts.State = models.StatePendingManager
		ts.StaffSignature, ts.StaffSignedAt = "sig", &now
		return nil, nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	items, err := e.svc.List(e.ctx, &e.staff, ScopeMine)
	if err != nil || len(items) != 1 {
		t.Fatalf("mine: expected 1, got %d (%v)", len(items), err)
	}
	items, err = e.svc.List(e.ctx, &e.manager, ScopeTeam)
	if err != nil || len(items) != 1 || items[0].ID != mine.ID {
		t.Fatalf("team: expected the report's timesheet, got %d (%v)", len(items), err)
	}
	items, err = e.svc.List(e.ctx, &e.hr, ScopeHR)
	if err != nil || len(items) != 0 {
		t.Fatalf("hr: expected nothing awaiting hr, got %d (%v)", len(items), err)
	}
	if _, err := e.svc.List(e.ctx, &e.staff, ScopeHR); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected staff to be forbidden from the hr queue, got %v", err)
	}
	if _, err := e.svc.List(e.ctx, &e.staff, Scope("all")); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected unknown scope to be rejected, got %v", err)
	}
}

func TestEntryPatchDecoding(t *testing.T) {
	var patch EntryPatch
	if err := json.Unmarshal([]byte(`{"in1":"09:00","out1":null,"adjustment":"1.25"}`), &patch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !patch.In1.Set || patch.In1.Value == nil || *patch.In1.Value != "09:00" {
		t.Fatalf("expected in1 set, got %+v", patch.In1)
	}
	if !patch.Out1.Set || patch.Out1.Value != nil {
		t.Fatalf("expected out1 explicitly cleared, got %+v", patch.Out1)
	}
	if patch.In2.Set {
		t.Fatalf("expected in2 absent")
	}
	if !patch.Adjustment.Set || !patch.Adjustment.Value.Equal(decimal.RequireFromString("1.25")) {
		t.Fatalf("unexpected adjustment %+v", patch.Adjustment)
	}
}

func TestUpdateEntry(t *testing.T) {
	e := newEnv(t)
	ts, _, _ := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15))
	entryID := ts.Entries[1].ID

	entry, err := e.svc.UpdateEntry(e.ctx, &e.staff, ts.ID, entryID, EntryPatch{
		In1:      Some("09:00"),
		Out1:     Some("12:30"),
		Comments: Some("site visit"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if entry.In1 == nil || !entry.In1.Equal(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected in1 %v", entry.In1)
	}

	// Absent fields are untouched; null clears.
	entry, err = e.svc.UpdateEntry(e.ctx, &e.staff, ts.ID, entryID, EntryPatch{Out1: Null[string](), Adjustment: Some(decimal.RequireFromString("2"))})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if entry.In1 == nil || entry.Out1 != nil || entry.Comments != "site visit" || !entry.Adjustment.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected merge result %+v", entry)
	}

	cases := []struct {
		name  string
		actor models.User
		entry uint
		patch EntryPatch
		want  *apperr.Error
		field string
	}{
		{"reversed pair", e.staff, entryID, EntryPatch{Out1: Some("08:00")}, apperr.ErrValidation, "out1"},
		{"negative adjustment", e.staff, entryID, EntryPatch{Adjustment: Some(decimal.NewFromInt(-1))}, apperr.ErrValidation, "adjustment"},
		{"oversized adjustment", e.staff, entryID, EntryPatch{Adjustment: Some(decimal.NewFromInt(10000))}, apperr.ErrValidation, "adjustment"},
		{"adjustment below hundredths", e.staff, entryID, EntryPatch{Adjustment: Some(decimal.RequireFromString("0.125"))}, apperr.ErrValidation, "adjustment"},
		{"bad clock", e.staff, entryID, EntryPatch{In2: Some("9am")}, apperr.ErrValidation, "in2"},
		{"not owner", e.manager, entryID, EntryPatch{Comments: Some("x")}, apperr.ErrForbidden, ""},
		{"missing entry", e.staff, 9999, EntryPatch{Comments: Some("x")}, apperr.ErrNotFound, ""},
	}
	for _, tc := range cases {
		_, err := e.svc.UpdateEntry(e.ctx, &tc.actor, ts.ID, tc.entry, tc.patch)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		var appErr *apperr.Error
		if tc.field != "" && (!errors.As(err, &appErr) || appErr.Field != tc.field) {
			t.Fatalf("%s: expected field %s, got %v", tc.name, tc.field, err)
		}
	}

	stored, _ := e.store.GetTimesheet(e.ctx, ts.ID, true)
	if stored.Entries[1].Out1 != nil || !stored.Entries[1].Adjustment.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("rejected patches must not be persisted: %+v", stored.Entries[1])
	}
}

func TestUpdateEntryLockedAfterSubmit(t *testing.T) {
	e := newEnv(t)
	ts, _, _ := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 15))
	if _, err := e.store.MutateTimesheet(e.ctx, ts.ID, func(locked *models.Timesheet) ([]models.OutboxTask, error) {
		locked.State = models.StatePendingManager
		return nil, nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	_, err := e.svc.UpdateEntry(e.ctx, &e.staff, ts.ID, ts.Entries[0].ID, EntryPatch{Comments: Some("late")})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden once submitted, got %v", err)
	}
}

func TestApplyTemplate(t *testing.T) {
	e := newEnv(t)
	// 2026-03-01 is a Sunday, 2026-03-07 a Saturday.
	ts, _, _ := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 7))
	monday := ts.Entries[1]
	if _, err := e.svc.UpdateEntry(e.ctx, &e.staff, ts.ID, monday.ID, EntryPatch{Adjustment: Some(decimal.RequireFromString("1.5"))}); err != nil {
		t.Fatalf("seed adjustment: %v", err)
	}

	str := func(s string) *string { return &s }
	tmpl, err := e.svc.CreateTemplate(e.ctx, &e.staff, TemplateInput{
		Name: "Standard week",
		Patterns: []models.TemplatePattern{
			{DayType: models.DayWeekday, In1: str("09:00"), Out1: str("12:00"), In2: str("13:00"), Out2: str("17:00"), Comments: "office"},
			{DayType: models.DaySaturday, In1: str("10:00"), Out1: str("14:00")},
		},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	entries, err := e.svc.ApplyTemplate(e.ctx, &e.staff, ts.ID, tmpl.ID)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	byDate := make(map[string]models.TimesheetEntry)
	for _, entry := range entries {
		byDate[entry.Date.Format(models.DateLayout)] = entry
	}
	if sunday := byDate["2026-03-01"]; sunday.In1 != nil || sunday.Comments != "" {
		t.Fatalf("sunday has no pattern and must be untouched: %+v", sunday)
	}
	mon := byDate["2026-03-02"]
	if mon.Comments != "office" || mon.In2 == nil || !mon.Adjustment.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("unexpected monday %+v", mon)
	}
	if sat := byDate["2026-03-07"]; sat.In1 == nil || sat.In2 != nil {
		t.Fatalf("unexpected saturday %+v", sat)
	}

	stored, _ := e.store.GetTimesheet(e.ctx, ts.ID, true)
	if got := Summary(stored); got.Total.StringFixed(2) != "40.50" || got.Adjustment.StringFixed(2) != "1.50" {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestApplyTemplateErrors(t *testing.T) {
	e := newEnv(t)
	ts, _, _ := e.svc.GetOrCreateForPeriod(e.ctx, e.staff.ID, day(2026, 3, 1), day(2026, 3, 7))
	mine, err := e.svc.CreateTemplate(e.ctx, &e.staff, TemplateInput{Name: "mine"})
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	theirs, err := e.svc.CreateTemplate(e.ctx, &e.stranger, TemplateInput{Name: "theirs"})
	if err != nil {
		t.Fatalf("template: %v", err)
	}

	if _, err := e.svc.ApplyTemplate(e.ctx, &e.staff, ts.ID, theirs.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected another user's template to be not found, got %v", err)
	}
	if _, err := e.svc.ApplyTemplate(e.ctx, &e.staff, ts.ID, 9999); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected missing template to be not found, got %v", err)
	}

	if _, err := e.store.MutateTimesheet(e.ctx, ts.ID, func(locked *models.Timesheet) ([]models.OutboxTask, error) {
		locked.State = models.StatePendingHR
		return nil, nil
	}); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := e.svc.ApplyTemplate(e.ctx, &e.staff, ts.ID, mine.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error outside PENDING_STAFF, got %v", err)
	}
}

func TestTemplateValidationAndDelete(t *testing.T) {
	e := newEnv(t)
	str := func(s string) *string { return &s }
	invalid := []TemplateInput{
		{Name: " "},
		{Name: "x", Patterns: []models.TemplatePattern{{DayType: "HOLIDAY"}}},
		{Name: "x", Patterns: []models.TemplatePattern{{DayType: models.DayWeekday}, {DayType: models.DayWeekday}}},
		{Name: "x", Patterns: []models.TemplatePattern{{DayType: models.DayWeekday, In1: str("17:00"), Out1: str("09:00")}}},
		{Name: "x", Patterns: []models.TemplatePattern{{DayType: models.DayWeekday, In1: str("25:00")}}},
	}
	for i, in := range invalid {
		if _, err := e.svc.CreateTemplate(e.ctx, &e.staff, in); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}

	tmpl, err := e.svc.CreateTemplate(e.ctx, &e.staff, TemplateInput{Name: "half days", Patterns: []models.TemplatePattern{{DayType: models.DayWeekday, In1: str("08:00")}}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.svc.DeleteTemplate(e.ctx, &e.stranger, tmpl.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected stranger delete to be not found, got %v", err)
	}
	if err := e.svc.DeleteTemplate(e.ctx, &e.staff, tmpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	items, _ := e.svc.ListTemplates(e.ctx, &e.staff)
	if len(items) != 0 {
		t.Fatalf("expected no templates after delete, got %d", len(items))
	}
}
