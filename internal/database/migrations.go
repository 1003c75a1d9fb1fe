package database

import (
	"errors"
	"time"

	"github.com/basketwire/backend/internal/family"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillInvitationStatus = "2026-07-14_backfill_invitation_status"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillInvitationStatus, apply: backfillInvitationStatus},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows written before the status column became mandatory carry an empty
// status; treat them as still pending.
func backfillInvitationStatus(db *gorm.DB) error {
	return db.Model(&family.Invitation{}).
		Where("status = ''").
		Update("status", string(family.InvitationPending)).Error
}
