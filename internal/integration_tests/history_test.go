//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ot2-calibration/internal/database"
)

func TestPostgresHistory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	uri := setupPostgresContainer(t, ctx)
	db, err := database.NewDatabase(uri, "")
	require.NoError(t, err)

	files, err := database.EncodeFiles([]database.DeploymentFile{
		{Name: "deck_calibration.json", Kind: "deck calibration", RemotePath: "/data/t/deck_calibration.json", FinalPath: "/data/robot/deck_calibration.json"},
	})
	require.NoError(t, err)

	d := &database.Deployment{Host: "10.0.0.5", RobotName: "OT2CEP01", Tag: "standard-offsets-upload-x", LeftSerial: "P300L123", Files: files}
	require.NoError(t, database.StartDeployment(ctx, db, d))
	require.NoError(t, database.FinishDeployment(ctx, db, d.Id, database.DeploymentDegraded, "awaiting_ready", []string{"create directories"}, "not ready"))

	// Migrating an up to date database is a no-op.
	require.NoError(t, database.GetMigrator(db).Migrate())

	deployments, err := database.ListDeployments(ctx, db, "10.0.0.5", 10)
	require.NoError(t, err)
	require.Len(t, deployments, 1)
	assert.Equal(t, database.DeploymentDegraded, deployments[0].Status)
	assert.True(t, deployments[0].CompletionTime.Valid)
	assert.JSONEq(t, `["create directories"]`, string(deployments[0].AppliedSteps))
}
