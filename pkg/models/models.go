package models

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentEvent is published on every deployment status change.
type DeploymentEvent struct {
	DeploymentId uuid.UUID
	Host         string
	RobotName    string
	Tag          string
	Status       string
	State        string
	// Serials maps mount to pipette serial.
	Serials   map[string]string
	DryRun    bool
	Error     string `json:",omitempty"`
	Timestamp time.Time
}

type DeploymentFile struct {
	Name       string
	Kind       string
	Mount      string `json:",omitempty"`
	Serial     string `json:",omitempty"`
	RemotePath string
	FinalPath  string
}

// Deployment is the history API view of a recorded deployment.
type Deployment struct {
	Id             uuid.UUID
	Host           string
	RobotName      string
	Tag            string
	Serials        map[string]string
	DryRun         bool
	Status         string
	State          string
	Error          string `json:",omitempty"`
	CreationTime   time.Time
	CompletionTime *time.Time `json:",omitempty"`

	Files        []DeploymentFile `json:",omitempty"`
	AppliedSteps []string         `json:",omitempty"`
}

type DeploymentScript struct {
	Id     uuid.UUID
	Tag    string
	Script string
}
