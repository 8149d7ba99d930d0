package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Deployment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Host      string `gorm:"not null"`
	RobotName string
	Tag       string `gorm:"index;not null"`
	DryRun    bool   `gorm:"default:false"`

	State  string `gorm:"size:20"`
	Status string `gorm:"size:20;not null"`

	Files  datatypes.JSON `gorm:"type:jsonb"`
	Script string
	Error  string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&Deployment{}); err != nil {
		return fmt.Errorf("initial migration failed: %w", err)
	}
	return nil
}
