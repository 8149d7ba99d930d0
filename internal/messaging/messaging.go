package messaging

import (
	"context"
	"ot2-calibration/pkg/models"
	"time"
)

const (
	CalibrationEventsQueue = "calibration_events"
	RetryDelay             = 5 * time.Second
	MaxConnectRetry        = 5
)

type Event interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error
}

type Publisher interface {
	PublishDeploymentEvent(ctx context.Context, event models.DeploymentEvent) error

	Close()
}

type Receiver interface {
	Events() <-chan Event

	Close()
}
