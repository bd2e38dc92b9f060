package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nudge/internal/queue/pgqueue"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrateAndIndexes creates the tables nudge owns. Entity tables belong
// to the platform and are never migrated here.
func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := pgqueue.Migrate(gdb); err != nil {
		return fmt.Errorf("migrate notification jobs: %w", err)
	}
	return nil
}
