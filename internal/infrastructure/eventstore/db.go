// db.go opens the gorm connection and runs migrations, matching the
// teacher's internal/infrastructure/persistence/db.go dialector switch.
package eventstore

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/choiros/supervisor/internal/infrastructure/config"
)

// Open connects to the database named by cfg.Type/cfg.DSN and migrates the
// event-sourcing schema.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EventModel{},
		&FileModel{},
		&AHDBStateModel{},
		&AHDBDeltaModel{},
		&ConversationModel{},
		&MessageModel{},
		&ToolCallModel{},
		&WorkItemModel{},
		&RunModel{},
		&RunNoteModel{},
		&RunVerificationModel{},
		&CommitRequestModel{},
		&CheckpointModel{},
		&SyncStateModel{},
	)
}
