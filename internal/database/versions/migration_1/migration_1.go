package migration_1

import (
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Adds the attached serials and the list of commit steps that completed,
// so partially applied commits can be audited.
type Deployment struct {
	LeftSerial   string
	RightSerial  string
	AppliedSteps datatypes.JSON `gorm:"type:jsonb"`
}

var columns = []string{"LeftSerial", "RightSerial", "AppliedSteps"}

func Migration(db *gorm.DB) error {
	for _, column := range columns {
		if err := db.Migrator().AddColumn(&Deployment{}, column); err != nil {
			return fmt.Errorf("error adding %s column: %w", column, err)
		}
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	for _, column := range columns {
		if err := db.Migrator().DropColumn(&Deployment{}, column); err != nil {
			return fmt.Errorf("error dropping %s column: %w", column, err)
		}
	}
	return nil
}
