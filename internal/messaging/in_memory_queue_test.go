package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ot2-calibration/pkg/models"
)

func TestInMemoryQueue(t *testing.T) {
	queue := NewInMemoryQueue()

	event := models.DeploymentEvent{
		DeploymentId: uuid.New(),
		Host:         "10.0.0.5",
		Tag:          "standard-offsets-upload-20250101T000000Z-abcdef12",
		Status:       "SUCCEEDED",
		State:        "done",
		Serials:      map[string]string{"left": "P300L123"},
		Timestamp:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, queue.PublishDeploymentEvent(context.Background(), event))

	received := <-queue.Events()
	assert.Equal(t, CalibrationEventsQueue, received.Type())
	require.NoError(t, received.Ack())

	var decoded models.DeploymentEvent
	require.NoError(t, json.Unmarshal(received.Payload(), &decoded))
	assert.Equal(t, event, decoded)

	queue.Close()
	_, ok := <-queue.Events()
	assert.False(t, ok)

	// Publishing after close is dropped instead of panicking.
	assert.NoError(t, queue.PublishDeploymentEvent(context.Background(), event))
}

func TestInMemoryQueueFullRespectsContext(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	event := models.DeploymentEvent{DeploymentId: uuid.New(), Status: "RUNNING"}
	for i := 0; i < cap(queue.events); i++ {
		require.NoError(t, queue.PublishDeploymentEvent(context.Background(), event))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.PublishDeploymentEvent(ctx, event), context.DeadlineExceeded)
}
