package db

import (
	"fmt"

	"github.com/relaywire/relaywire/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Tenant{},
		&models.PlatformAccount{},
		&models.ForwardingPair{},
		&models.TaskRecord{},
		&models.MessageLog{},
		&models.AlertLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Reset drops and recreates all tables. Destructive; used by `rw db reset`.
func Reset(db *gorm.DB) error {
	for _, m := range AllModels() {
		if err := db.Migrator().DropTable(m); err != nil {
			return fmt.Errorf("db: drop table %T: %w", m, err)
		}
	}
	return AutoMigrate(db)
}
