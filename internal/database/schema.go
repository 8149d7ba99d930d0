package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DeploymentRunning   string = "RUNNING"
	DeploymentSucceeded string = "SUCCEEDED"
	// DeploymentDegraded means the calibration was committed and validated
	// but the robot server was not confirmed ready afterwards.
	DeploymentDegraded string = "DEGRADED"
	DeploymentFailed   string = "FAILED"
)

type Deployment struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Host        string `gorm:"not null"`
	RobotName   string
	Tag         string `gorm:"index;not null"`
	LeftSerial  string
	RightSerial string
	DryRun      bool `gorm:"default:false"`

	State  string `gorm:"size:20"`
	Status string `gorm:"size:20;not null"`

	Files        datatypes.JSON `gorm:"type:jsonb"` // [{"name":…,"remote_path":…,"final_path":…,"kind":…},…]
	AppliedSteps datatypes.JSON `gorm:"type:jsonb"`
	Script       string
	Error        string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

type DeploymentFile struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Mount      string `json:"mount,omitempty"`
	Serial     string `json:"serial,omitempty"`
	RemotePath string `json:"remote_path"`
	FinalPath  string `json:"final_path"`
}
