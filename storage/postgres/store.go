// Package postgres is the gorm-backed storage.Store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"timesheets/models"
	"timesheets/storage"
)

type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// New wraps an open gorm handle. The handle must be opened with
// TranslateError enabled so unique violations surface as gorm.ErrDuplicatedKey.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return storage.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return storage.ErrDuplicate
	default:
		return err
	}
}

// Users

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	err := translate(s.db.WithContext(ctx).Create(user).Error)
	if errors.Is(err, storage.ErrDuplicate) {
		return storage.ErrConflict
	}
	return err
}

func (s *Store) GetUser(ctx context.Context, id uint) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	return user, translate(err)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	return user, translate(err)
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	result := s.db.WithContext(ctx).Model(user).Select("*").Omit("id", "created_at", "deleted_at").Updates(user)
	if err := translate(result.Error); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return storage.ErrConflict
		}
		return err
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context, roles ...models.Role) ([]models.User, error) {
	var users []models.User
	query := s.db.WithContext(ctx).Order("id")
	if len(roles) > 0 {
		query = query.Where("role IN ?", roles)
	}
	err := query.Find(&users).Error
	return users, err
}

func (s *Store) CreateInvite(ctx context.Context, invite *models.Invite) error {
	return translate(s.db.WithContext(ctx).Create(invite).Error)
}

func (s *Store) GetInvite(ctx context.Context, code string) (models.Invite, error) {
	var invite models.Invite
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&invite).Error
	return invite, translate(err)
}

func (s *Store) RedeemInvite(ctx context.Context, code string, user *models.User, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var invite models.Invite
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("code = ?", code).First(&invite).Error
		if err != nil {
			return translate(err)
		}
		if !invite.IsValid(now) {
			return storage.ErrNotFound
		}
		if err := translate(tx.Create(user).Error); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return storage.ErrConflict
			}
			return err
		}
		return tx.Model(&invite).Update("used", true).Error
	})
}

// Timesheets

func (s *Store) CreateTimesheet(ctx context.Context, ts *models.Timesheet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The owner row lock serializes overlap checks for one user.
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&owner, ts.UserID).Error; err != nil {
			return translate(err)
		}

		var existing models.Timesheet
		err := tx.Where("user_id = ? AND period_start <= ? AND period_end >= ?", ts.UserID, ts.PeriodEnd, ts.PeriodStart).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.PeriodStart.Equal(ts.PeriodStart) && existing.PeriodEnd.Equal(ts.PeriodEnd) {
				return storage.ErrDuplicate
			}
			return storage.ErrConflict
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		return translate(tx.Omit("User").Create(ts).Error)
	})
}

func (s *Store) FindTimesheetByPeriod(ctx context.Context, userID uint, start, end time.Time) (models.Timesheet, error) {
	var ts models.Timesheet
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Entries", orderEntries).
		Where("user_id = ? AND period_start = ? AND period_end = ?", userID, start, end).
		First(&ts).Error
	return ts, translate(err)
}

func (s *Store) GetTimesheet(ctx context.Context, id uint, withEntries bool) (models.Timesheet, error) {
	var ts models.Timesheet
	query := s.db.WithContext(ctx).Preload("User")
	if withEntries {
		query = query.Preload("Entries", orderEntries)
	}
	err := query.First(&ts, id).Error
	return ts, translate(err)
}

func (s *Store) ListTimesheets(ctx context.Context, filter storage.TimesheetFilter) ([]models.Timesheet, error) {
	var timesheets []models.Timesheet
	query := s.db.WithContext(ctx).Preload("User").Order("timesheets.period_start desc, timesheets.id desc")
	if filter.OwnerID != nil {
		query = query.Where("timesheets.user_id = ?", *filter.OwnerID)
	}
	if filter.ManagerID != nil {
		query = query.Joins("JOIN users ON users.id = timesheets.user_id").
			Where("users.manager_id = ?", *filter.ManagerID)
	}
	if len(filter.States) > 0 {
		query = query.Where("timesheets.state IN ?", filter.States)
	}
	if filter.From != nil {
		query = query.Where("timesheets.period_end >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("timesheets.period_start <= ?", *filter.To)
	}
	if filter.WithEntries {
		query = query.Preload("Entries", orderEntries)
	}
	err := query.Find(&timesheets).Error
	return timesheets, err
}

func (s *Store) MutateTimesheet(ctx context.Context, id uint, fn storage.TimesheetMutation) (models.Timesheet, error) {
	var ts models.Timesheet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ts, id).Error; err != nil {
			return translate(err)
		}
		tasks, err := fn(&ts)
		if err != nil {
			return err
		}
		ts.ID = id
		if err := tx.Omit(clause.Associations).Save(&ts).Error; err != nil {
			return fmt.Errorf("save timesheet %d: %w", id, err)
		}
		if len(tasks) > 0 {
			if err := tx.Create(&tasks).Error; err != nil {
				return fmt.Errorf("enqueue outbox: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return models.Timesheet{}, err
	}
	return ts, nil
}

func (s *Store) MutateEntries(ctx context.Context, timesheetID uint, entryIDs []uint, fn storage.EntryMutation) ([]models.TimesheetEntry, error) {
	var entries []models.TimesheetEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// FOR SHARE lets writers of different entries proceed together while a
		// transition, which needs FOR UPDATE, waits for them and vice versa.
		var ts models.Timesheet
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&ts, timesheetID).Error; err != nil {
			return translate(err)
		}
		if err := tx.First(&ts.User, ts.UserID).Error; err != nil {
			return translate(err)
		}

		query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("timesheet_id = ?", timesheetID).Order("date")
		if len(entryIDs) > 0 {
			query = query.Where("id IN ?", entryIDs)
		}
		if err := query.Find(&entries).Error; err != nil {
			return err
		}
		if len(entryIDs) > 0 && len(entries) != len(entryIDs) {
			return storage.ErrNotFound
		}

		selected := make([]*models.TimesheetEntry, len(entries))
		for i := range entries {
			selected[i] = &entries[i]
		}
		if err := fn(ts, selected); err != nil {
			return err
		}
		for i := range entries {
			if err := tx.Save(&entries[i]).Error; err != nil {
				return fmt.Errorf("save entry %d: %w", entries[i].ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Templates

func (s *Store) CreateTemplate(ctx context.Context, tmpl *models.TimesheetTemplate) error {
	return translate(s.db.WithContext(ctx).Create(tmpl).Error)
}

func (s *Store) GetTemplate(ctx context.Context, id uint) (models.TimesheetTemplate, error) {
	var tmpl models.TimesheetTemplate
	err := s.db.WithContext(ctx).Preload("Patterns").First(&tmpl, id).Error
	return tmpl, translate(err)
}

func (s *Store) ListTemplates(ctx context.Context, userID uint) ([]models.TimesheetTemplate, error) {
	var templates []models.TimesheetTemplate
	err := s.db.WithContext(ctx).Preload("Patterns").Where("user_id = ?", userID).Order("id").Find(&templates).Error
	return templates, err
}

func (s *Store) DeleteTemplate(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("template_id = ?", id).Delete(&models.TemplatePattern{}).Error; err != nil {
			return err
		}
		result := tx.Delete(&models.TimesheetTemplate{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// Notifications

func (s *Store) UpsertUnreadNotification(ctx context.Context, n *models.Notification) (bool, error) {
	db := s.db.WithContext(ctx)
	refresh := func() (bool, error) {
		var existing models.Notification
		result := db.Model(&existing).
			Clauses(clause.Returning{}).
			Where("recipient_id = ? AND resource_id = ? AND type = ? AND read = ?", n.RecipientID, n.ResourceID, n.Type, false).
			Updates(map[string]any{"title": n.Title, "message": n.Message, "updated_at": time.Now()})
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected == 0 {
			return false, nil
		}
		*n = existing
		return true, nil
	}

	if ok, err := refresh(); err != nil || ok {
		return false, err
	}
	n.ID, n.Read, n.ReadAt = 0, false, nil
	err := translate(db.Create(n).Error)
	if errors.Is(err, storage.ErrDuplicate) {
		// Lost the race against another writer; the partial unique index
		// guarantees the row now exists.
		_, err = refresh()
		return false, err
	}
	return err == nil, err
}

func (s *Store) ListNotifications(ctx context.Context, recipientID uint, unreadOnly bool) ([]models.Notification, error) {
	var notifications []models.Notification
	query := s.db.WithContext(ctx).Where("recipient_id = ?", recipientID).Order("created_at desc, id desc")
	if unreadOnly {
		query = query.Where("read = ?", false)
	}
	err := query.Find(&notifications).Error
	return notifications, err
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id uint, at time.Time) (models.Notification, error) {
	var n models.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND recipient_id = ?", id, recipientID).First(&n).Error; err != nil {
			return translate(err)
		}
		if n.Read {
			return nil
		}
		n.Read = true
		n.ReadAt = &at
		return tx.Model(&n).Updates(map[string]any{"read": true, "read_at": at}).Error
	})
	return n, err
}

func (s *Store) DeleteNotification(ctx context.Context, recipientID, id uint) error {
	result := s.db.WithContext(ctx).Where("id = ? AND recipient_id = ?", id, recipientID).Delete(&models.Notification{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteNotifications(ctx context.Context, filter storage.NotificationFilter) (int64, error) {
	query := s.db.WithContext(ctx).Where("resource_id = ?", filter.ResourceID)
	if filter.RecipientID != nil {
		query = query.Where("recipient_id = ?", *filter.RecipientID)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	result := query.Delete(&models.Notification{})
	return result.RowsAffected, result.Error
}

// Outbox

func (s *Store) EnqueueOutbox(ctx context.Context, tasks ...models.OutboxTask) error {
	if len(tasks) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&tasks).Error
}

const claimOutboxSQL = `
UPDATE outbox_tasks SET locked_until = ?, updated_at = ?
WHERE id IN (
    SELECT id FROM outbox_tasks
    WHERE status = ? AND next_attempt_at <= ? AND (locked_until IS NULL OR locked_until < ?)
    ORDER BY created_at, id
    LIMIT ?
    FOR UPDATE SKIP LOCKED
)
RETURNING *`

func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.OutboxTask, error) {
	var tasks []models.OutboxTask
	err := s.db.WithContext(ctx).
		Raw(claimOutboxSQL, now.Add(lease), now, models.OutboxPending, now, now, limit).
		Scan(&tasks).Error
	if err != nil {
		return nil, err
	}
	// RETURNING does not keep the subquery order.
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

func (s *Store) updateTask(ctx context.Context, id string, values map[string]any) error {
	values["updated_at"] = time.Now()
	values["locked_until"] = nil
	result := s.db.WithContext(ctx).Model(&models.OutboxTask{}).Where("id = ?", id).Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CompleteOutbox(ctx context.Context, id string) error {
	return s.updateTask(ctx, id, map[string]any{
		"status":   models.OutboxDone,
		"attempts": gorm.Expr("attempts + 1"),
	})
}

func (s *Store) RetryOutbox(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return s.updateTask(ctx, id, map[string]any{
		"attempts":        attempts,
		"next_attempt_at": next,
		"last_error":      lastErr,
	})
}

func (s *Store) BuryOutbox(ctx context.Context, id string, attempts int, lastErr string) error {
	return s.updateTask(ctx, id, map[string]any{
		"status":     models.OutboxDead,
		"attempts":   attempts,
		"last_error": lastErr,
	})
}

// PruneOutbox deletes finished tasks last updated before cutoff. Dead tasks
// are kept for inspection.
func (s *Store) PruneOutbox(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.OutboxDone, before).
		Delete(&models.OutboxTask{})
	return result.RowsAffected, result.Error
}

func orderEntries(db *gorm.DB) *gorm.DB {
	return db.Order("timesheet_entries.date")
}
