// Package memory is an in-process storage.Store. A single mutex serializes
// every operation, which gives the same isolation the Postgres store gets
// from row locks. It backs STORE_DRIVER=memory and the package tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"timesheets/models"
	"timesheets/storage"
)

type Store struct {
	mu sync.Mutex

	nextID        uint
	users         map[uint]models.User
	invites       map[string]models.Invite
	timesheets    map[uint]models.Timesheet
	entries       map[uint][]models.TimesheetEntry
	templates     map[uint]models.TimesheetTemplate
	notifications map[uint]models.Notification
	outbox        []models.OutboxTask
	now           func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		users:         make(map[uint]models.User),
		invites:       make(map[string]models.Invite),
		timesheets:    make(map[uint]models.Timesheet),
		entries:       make(map[uint][]models.TimesheetEntry),
		templates:     make(map[uint]models.TimesheetTemplate),
		notifications: make(map[uint]models.Notification),
		now:           time.Now,
	}
}

func (s *Store) id() uint {
	s.nextID++
	return s.nextID
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(user)
}

func (s *Store) createUserLocked(user *models.User) error {
	for _, u := range s.users {
		if u.Username == user.Username {
			return storage.ErrConflict
		}
	}
	now := s.now()
	user.ID = s.id()
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

func (s *Store) GetUser(ctx context.Context, id uint) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, storage.ErrNotFound
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		return storage.ErrNotFound
	}
	for _, u := range s.users {
		if u.ID != user.ID && u.Username == user.Username {
			return storage.ErrConflict
		}
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = s.now()
	s.users[user.ID] = *user
	return nil
}

func (s *Store) ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.users {
		if len(roles) == 0 || containsRole(roles, u.Role) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func containsRole(roles []models.Role, role models.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func (s *Store) CreateInvite(ctx context.Context, invite *models.Invite) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[invite.Code]; ok {
		return storage.ErrDuplicate
	}
	now := s.now()
	invite.ID = s.id()
	invite.CreatedAt, invite.UpdatedAt = now, now
	s.invites[invite.Code] = *invite
	return nil
}

func (s *Store) GetInvite(ctx context.Context, code string) (models.Invite, error) {
	if err := ctx.Err(); err != nil {
		return models.Invite{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[code]
	if !ok {
		return models.Invite{}, storage.ErrNotFound
	}
	return invite, nil
}

func (s *Store) RedeemInvite(ctx context.Context, code string, user *models.User, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[code]
	if !ok || !invite.IsValid(now) {
		return storage.ErrNotFound
	}
	if err := s.createUserLocked(user); err != nil {
		return err
	}
	invite.Used = true
	invite.UpdatedAt = s.now()
	s.invites[code] = invite
	return nil
}

// Timesheets

func (s *Store) CreateTimesheet(ctx context.Context, ts *models.Timesheet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[ts.UserID]; !ok {
		return storage.ErrNotFound
	}
	for _, existing := range s.timesheets {
		if existing.UserID != ts.UserID || !existing.Overlaps(ts.PeriodStart, ts.PeriodEnd) {
			continue
		}
		if existing.PeriodStart.Equal(ts.PeriodStart) && existing.PeriodEnd.Equal(ts.PeriodEnd) {
			return storage.ErrDuplicate
		}
		return storage.ErrConflict
	}
	now := s.now()
	ts.ID = s.id()
	ts.CreatedAt, ts.UpdatedAt = now, now
	entries := make([]models.TimesheetEntry, len(ts.Entries))
	for i := range ts.Entries {
		e := ts.Entries[i]
		e.ID = s.id()
		e.TimesheetID = ts.ID
		e.CreatedAt, e.UpdatedAt = now, now
		entries[i] = e
		ts.Entries[i] = e
	}
	stored := *ts
	stored.User = nil
	stored.Entries = nil
	s.timesheets[ts.ID] = stored
	s.entries[ts.ID] = entries
	return nil
}

func (s *Store) FindTimesheetByPeriod(ctx context.Context, userID uint, start, end time.Time) (models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return models.Timesheet{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.timesheets {
		if ts.UserID == userID && ts.PeriodStart.Equal(start) && ts.PeriodEnd.Equal(end) {
			return s.loadLocked(ts, true), nil
		}
	}
	return models.Timesheet{}, storage.ErrNotFound
}

func (s *Store) GetTimesheet(ctx context.Context, id uint, withEntries bool) (models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return models.Timesheet{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.timesheets[id]
	if !ok {
		return models.Timesheet{}, storage.ErrNotFound
	}
	return s.loadLocked(ts, withEntries), nil
}

// loadLocked attaches copies of the owner and, optionally, the entries.
func (s *Store) loadLocked(ts models.Timesheet, withEntries bool) models.Timesheet {
	if owner, ok := s.users[ts.UserID]; ok {
		ts.User = &owner
	}
	if withEntries {
		ts.Entries = append([]models.TimesheetEntry(nil), s.entries[ts.ID]...)
	}
	return ts
}

func (s *Store) ListTimesheets(ctx context.Context, filter storage.TimesheetFilter) ([]models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Timesheet
	for _, ts := range s.timesheets {
		if filter.OwnerID != nil && ts.UserID != *filter.OwnerID {
			continue
		}
		if filter.ManagerID != nil {
			owner, ok := s.users[ts.UserID]
			if !ok || owner.ManagerID == nil || *owner.ManagerID != *filter.ManagerID {
				continue
			}
		}
		if len(filter.States) > 0 && !containsState(filter.States, ts.State) {
			continue
		}
		if filter.From != nil && ts.PeriodEnd.Before(*filter.From) {
			continue
		}
		if filter.To != nil && ts.PeriodStart.After(*filter.To) {
			continue
		}
		out = append(out, s.loadLocked(ts, filter.WithEntries))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func containsState(states []models.TimesheetState, state models.TimesheetState) bool {
	for _, st := range states {
		if st == state {
			return true
		}
	}
	return false
}

func (s *Store) MutateTimesheet(ctx context.Context, id uint, fn storage.TimesheetMutation) (models.Timesheet, error) {
	if err := ctx.Err(); err != nil {
		return models.Timesheet{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.timesheets[id]
	if !ok {
		return models.Timesheet{}, storage.ErrNotFound
	}
	working := current
	tasks, err := fn(&working)
	if err != nil {
		return models.Timesheet{}, err
	}
	working.ID = current.ID
	working.UserID = current.UserID
	working.User = nil
	working.Entries = nil
	working.UpdatedAt = s.now()
	s.timesheets[id] = working
	s.enqueueLocked(tasks)
	return working, nil
}

func (s *Store) MutateEntries(ctx context.Context, timesheetID uint, entryIDs []uint, fn storage.EntryMutation) ([]models.TimesheetEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.timesheets[timesheetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	stored := s.entries[timesheetID]
	working := append([]models.TimesheetEntry(nil), stored...)

	var selected []*models.TimesheetEntry
	if len(entryIDs) == 0 {
		for i := range working {
			selected = append(selected, &working[i])
		}
	} else {
		for _, entryID := range entryIDs {
			found := false
			for i := range working {
				if working[i].ID == entryID {
					selected = append(selected, &working[i])
					found = true
					break
				}
			}
			if !found {
				return nil, storage.ErrNotFound
			}
		}
	}

	if err := fn(s.loadLocked(ts, false), selected); err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.TimesheetEntry, 0, len(selected))
	for _, e := range selected {
		e.UpdatedAt = now
		out = append(out, *e)
	}
	s.entries[timesheetID] = working
	return out, nil
}

// Templates

func (s *Store) CreateTemplate(ctx context.Context, tmpl *models.TimesheetTemplate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	tmpl.ID = s.id()
	tmpl.CreatedAt, tmpl.UpdatedAt = now, now
	patterns := make([]models.TemplatePattern, len(tmpl.Patterns))
	for i := range tmpl.Patterns {
		tmpl.Patterns[i].ID = s.id()
		tmpl.Patterns[i].TemplateID = tmpl.ID
		patterns[i] = tmpl.Patterns[i]
	}
	stored := *tmpl
	stored.Patterns = patterns
	s.templates[tmpl.ID] = stored
	return nil
}

func (s *Store) GetTemplate(ctx context.Context, id uint) (models.TimesheetTemplate, error) {
	if err := ctx.Err(); err != nil {
		return models.TimesheetTemplate{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tmpl, ok := s.templates[id]
	if !ok {
		return models.TimesheetTemplate{}, storage.ErrNotFound
	}
	tmpl.Patterns = append([]models.TemplatePattern(nil), tmpl.Patterns...)
	return tmpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID uint) ([]models.TimesheetTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TimesheetTemplate
	for _, tmpl := range s.templates {
		if tmpl.UserID != userID {
			continue
		}
		tmpl.Patterns = append([]models.TemplatePattern(nil), tmpl.Patterns...)
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, id uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.templates[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.templates, id)
	return nil
}

// Notifications

func (s *Store) UpsertUnreadNotification(ctx context.Context, n *models.Notification) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, existing := range s.notifications {
		if existing.Read || existing.RecipientID != n.RecipientID || existing.ResourceID != n.ResourceID || existing.Type != n.Type {
			continue
		}
		existing.Title = n.Title
		existing.Message = n.Message
		existing.UpdatedAt = now
		s.notifications[id] = existing
		*n = existing
		return false, nil
	}
	n.ID = s.id()
	n.CreatedAt, n.UpdatedAt = now, now
	n.Read, n.ReadAt = false, nil
	s.notifications[n.ID] = *n
	return true, nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID uint, unreadOnly bool) ([]models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if n.RecipientID != recipientID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id uint, at time.Time) (models.Notification, error) {
	if err := ctx.Err(); err != nil {
		return models.Notification{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return models.Notification{}, storage.ErrNotFound
	}
	if !n.Read {
		n.Read = true
		n.ReadAt = &at
		n.UpdatedAt = s.now()
		s.notifications[id] = n
	}
	return n, nil
}

func (s *Store) DeleteNotification(ctx context.Context, recipientID, id uint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return storage.ErrNotFound
	}
	delete(s.notifications, id)
	return nil
}

func (s *Store) DeleteNotifications(ctx context.Context, filter storage.NotificationFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, n := range s.notifications {
		if n.ResourceID != filter.ResourceID {
			continue
		}
		if filter.RecipientID != nil && n.RecipientID != *filter.RecipientID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, n.Type) {
			continue
		}
		delete(s.notifications, id)
		deleted++
	}
	return deleted, nil
}

func containsType(types []models.NotificationType, t models.NotificationType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// Outbox

func (s *Store) EnqueueOutbox(ctx context.Context, tasks ...models.OutboxTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueueLocked(tasks)
	return nil
}

func (s *Store) enqueueLocked(tasks []models.OutboxTask) {
	now := s.now()
	for _, task := range tasks {
		task.CreatedAt, task.UpdatedAt = now, now
		if task.Status == "" {
			task.Status = models.OutboxPending
		}
		s.outbox = append(s.outbox, task)
	}
}

func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.OutboxTask
	until := now.Add(lease)
	for i := range s.outbox {
		if limit > 0 && len(out) >= limit {
			break
		}
		task := &s.outbox[i]
		if task.Status != models.OutboxPending || task.NextAttemptAt.After(now) {
			continue
		}
		if task.LockedUntil != nil && task.LockedUntil.After(now) {
			continue
		}
		locked := until
		task.LockedUntil = &locked
		out = append(out, *task)
	}
	return out, nil
}

func (s *Store) findTaskLocked(id string) (*models.OutboxTask, error) {
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			return &s.outbox[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) CompleteOutbox(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.findTaskLocked(id)
	if err != nil {
		return err
	}
	task.Status = models.OutboxDone
	task.Attempts++
	task.LockedUntil = nil
	task.UpdatedAt = s.now()
	return nil
}

func (s *Store) RetryOutbox(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.findTaskLocked(id)
	if err != nil {
		return err
	}
	task.Attempts = attempts
	task.NextAttemptAt = next
	task.LastError = lastErr
	task.LockedUntil = nil
	task.UpdatedAt = s.now()
	return nil
}

func (s *Store) BuryOutbox(ctx context.Context, id string, attempts int, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, err := s.findTaskLocked(id)
	if err != nil {
		return err
	}
	task.Status = models.OutboxDead
	task.Attempts = attempts
	task.LastError = lastErr
	task.LockedUntil = nil
	task.UpdatedAt = s.now()
	return nil
}

func (s *Store) PruneOutbox(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	var removed int64
	for _, task := range s.outbox {
		if task.Status == models.OutboxDone && task.UpdatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, task)
	}
	clear(s.outbox[len(kept):])
	s.outbox = kept
	return removed, nil
}

// OutboxTasks returns a copy of every task, for inspection in tests.
func (s *Store) OutboxTasks() []models.OutboxTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutboxTask(nil), s.outbox...)
}
