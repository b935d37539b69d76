package database

import (
	"errors"
	"time"

	"github.com/ssaucsd/ssaucsd-org/internal/ledger"
	"github.com/ssaucsd/ssaucsd-org/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRecountEventGoingCounts = "2026-10-01_recount_event_going_counts"
	migrationNormalizeUserEmails     = "2026-10-02_normalize_user_emails"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, time.Time) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRecountEventGoingCounts, apply: recountEventGoingCounts},
		{name: migrationNormalizeUserEmails, apply: normalizeUserEmails},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		now := time.Now().UTC()
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx, now); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: now.Unix()}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func recountEventGoingCounts(tx *gorm.DB, now time.Time) error {
	_, err := ledger.RecountAll(tx, now)
	return err
}

// normalizeUserEmails lowercases stored emails. Rows whose lowercased email
// already belongs to another user are left alone.
func normalizeUserEmails(tx *gorm.DB, now time.Time) error {
	var users []models.User
	if err := tx.Find(&users).Error; err != nil {
		return err
	}
	taken := make(map[string]struct{}, len(users))
	for _, user := range users {
		taken[user.Email] = struct{}{}
	}
	for _, user := range users {
		normalized := models.NormalizeEmail(user.Email)
		if normalized == user.Email {
			continue
		}
		if _, exists := taken[normalized]; exists {
			continue
		}
		if err := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Updates(map[string]interface{}{"email": normalized, "updated_at": now}).Error; err != nil {
			return err
		}
		taken[normalized] = struct{}{}
	}
	return nil
}
