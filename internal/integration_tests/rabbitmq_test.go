//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/database"
	"ot2-calibration/internal/deploy"
	"ot2-calibration/internal/messaging"
	"ot2-calibration/internal/robot"
	"ot2-calibration/pkg/models"
)

func TestRecorderPublishesToRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	receiver, err := messaging.NewRabbitMQReceiver(url)
	require.NoError(t, err)
	defer receiver.Close()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	recorder := cmd.NewRecorder(db, publisher)
	defer recorder.Close()

	plan := &deploy.Plan{Tag: "standard-offsets-upload-x", Bindings: robot.NewBindings("", "P20R999")}
	d := recorder.Start(ctx, "10.0.0.5", "OT2CEP01", plan, false)
	recorder.Finish(ctx, d, plan, &deploy.Result{Tag: plan.Tag, State: deploy.StateDone}, nil)

	var statuses []string
	for len(statuses) < 2 {
		select {
		case event := <-receiver.Events():
			var decoded models.DeploymentEvent
			require.NoError(t, json.Unmarshal(event.Payload(), &decoded))
			assert.Equal(t, d.Id, decoded.DeploymentId)
			assert.Equal(t, map[string]string{"right": "P20R999"}, decoded.Serials)
			statuses = append(statuses, decoded.Status)
			require.NoError(t, event.Ack())
		case <-ctx.Done():
			t.Fatal("timed out waiting for deployment events")
		}
	}
	assert.Equal(t, []string{database.DeploymentRunning, database.DeploymentSucceeded}, statuses)
}
