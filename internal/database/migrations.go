package database

import (
	"log/slog"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"ot2-calibration/internal/database/versions/migration_0"
	"ot2-calibration/internal/database/versions/migration_1"
)

func GetMigrator(db *gorm.DB) *gormigrate.Gormigrate {
	migrator := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID:      "0",
			Migrate: migration_0.Migration,
		},
		{
			ID:       "1",
			Migrate:  migration_1.Migration,
			Rollback: migration_1.Rollback,
		},
	})

	migrator.InitSchema(func(txn *gorm.DB) error {
		// Runs instead of the individual migrations on a clean database and
		// creates the latest schema directly.
		slog.Info("clean history database detected, running full schema initialization")
		return txn.AutoMigrate(&Deployment{})
	})

	return migrator
}
