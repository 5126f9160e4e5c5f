package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"timesheets/models"
	"timesheets/storage"
)

// Open connects to Postgres. Unique violations are translated to
// gorm.ErrDuplicatedKey so the store can map them.
func Open(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(log),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Invite{},
		&models.Timesheet{},
		&models.TimesheetEntry{},
		&models.TimesheetTemplate{},
		&models.TemplatePattern{},
		&models.Notification{},
		&models.OutboxTask{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	// At most one unread notification per recipient, resource and type.
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_unread
		ON notifications (recipient_id, resource_id, type) WHERE read = false`).Error
	if err != nil {
		return fmt.Errorf("create unread index: %w", err)
	}
	return nil
}

// SeedDefaultAdmin creates admin/admin with a forced password change when no
// user named admin exists. It reports whether a user was created.
func SeedDefaultAdmin(ctx context.Context, users storage.UserStore, log zerolog.Logger) (bool, error) {
	_, err := users.GetUserByUsername(ctx, "admin")
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return false, err
	}
	admin := models.User{
		Username:           "admin",
		FullName:           "Administrator",
		PasswordHash:       string(hashedPassword),
		Role:               models.RoleAdmin,
		MustChangePassword: true,
	}
	if err := users.CreateUser(ctx, &admin); err != nil {
		return false, err
	}

	log.Warn().Msg("default admin user created (username: admin, password: admin)")
	return true, nil
}
