package database_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"ot2-calibration/internal/database"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func TestDeploymentLifecycle(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	files, err := database.EncodeFiles([]database.DeploymentFile{
		{Name: "deck_calibration.json", Kind: "deck", RemotePath: "/data/x/deck_calibration.json", FinalPath: "/data/robot/deck_calibration.json"},
	})
	require.NoError(t, err)

	deployment := &database.Deployment{
		Host:       "10.0.0.5",
		RobotName:  "OT2CEP01",
		Tag:        "standard-offsets-upload-20250101T000000Z-abcdef12",
		LeftSerial: "P300L123",
		Files:      files,
	}
	require.NoError(t, database.StartDeployment(ctx, db, deployment))
	assert.NotEqual(t, "", deployment.Id.String())

	var running database.Deployment
	require.NoError(t, db.First(&running, "id = ?", deployment.Id).Error)
	assert.Equal(t, database.DeploymentRunning, running.Status)
	assert.False(t, running.CompletionTime.Valid)

	applied := []string{"create directories", "copy deck calibration"}
	require.NoError(t, database.FinishDeployment(ctx, db, deployment.Id, database.DeploymentFailed, "committing", applied, "commit failed"))

	var finished database.Deployment
	require.NoError(t, db.First(&finished, "id = ?", deployment.Id).Error)
	assert.Equal(t, database.DeploymentFailed, finished.Status)
	assert.Equal(t, "committing", finished.State)
	assert.Equal(t, "commit failed", finished.Error)
	assert.True(t, finished.CompletionTime.Valid)

	var steps []string
	require.NoError(t, json.Unmarshal(finished.AppliedSteps, &steps))
	assert.Equal(t, applied, steps)

	var decoded []database.DeploymentFile
	require.NoError(t, json.Unmarshal(finished.Files, &decoded))
	assert.Equal(t, "/data/robot/deck_calibration.json", decoded[0].FinalPath)
}

func TestListDeployments(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	for i, host := range []string{"robot-a", "robot-b", "robot-a"} {
		d := &database.Deployment{Host: host, Tag: "tag"}
		require.NoError(t, database.StartDeployment(ctx, db, d))
		// Force a stable ordering regardless of clock resolution.
		require.NoError(t, db.Model(d).Update("creation_time", time.Date(2025, 1, 1, i, 0, 0, 0, time.UTC)).Error)
	}

	all, err := database.ListDeployments(ctx, db, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 2, all[0].CreationTime.Hour())

	onlyA, err := database.ListDeployments(ctx, db, "robot-a", 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	limited, err := database.ListDeployments(ctx, db, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestFilterAndGetDeployment(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	ok := &database.Deployment{Host: "robot-a", Tag: "ok"}
	require.NoError(t, database.StartDeployment(ctx, db, ok))
	require.NoError(t, database.FinishDeployment(ctx, db, ok.Id, database.DeploymentSucceeded, "done", nil, ""))

	failed := &database.Deployment{Host: "robot-a", Tag: "failed"}
	require.NoError(t, database.StartDeployment(ctx, db, failed))
	require.NoError(t, database.FinishDeployment(ctx, db, failed.Id, database.DeploymentFailed, "committing", nil, "boom"))

	res, err := database.FilterDeployments(ctx, db, database.DeploymentFilter{Host: "robot-a", Status: database.DeploymentFailed})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, failed.Id, res[0].Id)

	got, err := database.GetDeployment(ctx, db, ok.Id)
	require.NoError(t, err)
	assert.Equal(t, "ok", got.Tag)
	assert.Equal(t, database.DeploymentSucceeded, got.Status)

	_, err = database.GetDeployment(ctx, db, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestNewDatabaseSqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	db, err := database.NewDatabase("", path)
	require.NoError(t, err)

	require.NoError(t, database.StartDeployment(context.Background(), db, &database.Deployment{Host: "h", Tag: "t"}))

	// Reopening the same file does not rerun the schema initialization.
	db, err = database.NewDatabase("", path)
	require.NoError(t, err)
	deployments, err := database.ListDeployments(context.Background(), db, "", 0)
	require.NoError(t, err)
	assert.Len(t, deployments, 1)
}

func TestRollbackLastMigration(t *testing.T) {
	db := createDB(t)

	migrator := database.GetMigrator(db)
	assert.True(t, db.Migrator().HasColumn(&database.Deployment{}, "AppliedSteps"))
	require.NoError(t, migrator.RollbackLast())
	assert.False(t, db.Migrator().HasColumn(&database.Deployment{}, "AppliedSteps"))
}
