package api_test

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	backend "ot2-calibration/internal/api"
	"ot2-calibration/internal/database"
	"ot2-calibration/pkg/models"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func newRouter(db *gorm.DB) chi.Router {
	router := chi.NewRouter()
	backend.NewHistoryService(db).AddRoutes(router)
	return router
}

func get(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var (
	t0 = time.Date(2025, 3, 4, 5, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func TestListDeployments(t *testing.T) {
	id1, id2, id3 := uuid.New(), uuid.New(), uuid.New()
	router := newRouter(createDB(t,
		&database.Deployment{Id: id1, Host: "10.0.0.5", Tag: "a", LeftSerial: "P300L1", Status: database.DeploymentSucceeded, State: "done", CreationTime: t0},
		&database.Deployment{Id: id2, Host: "10.0.0.5", Tag: "b", RightSerial: "P20R1", Status: database.DeploymentFailed, State: "committing", Error: "boom", CreationTime: t1},
		&database.Deployment{Id: id3, Host: "10.0.0.6", Tag: "c", Status: database.DeploymentDegraded, CreationTime: t1.Add(time.Hour)},
	))

	rec := get(t, router, "/deployments?host=10.0.0.5")
	require.Equal(t, http.StatusOK, rec.Code)

	var response []models.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response, 2)
	assert.Equal(t, id2, response[0].Id)
	assert.Equal(t, map[string]string{"right": "P20R1"}, response[0].Serials)
	assert.Equal(t, "boom", response[0].Error)
	assert.Equal(t, id1, response[1].Id)

	rec = get(t, router, "/deployments?status=DEGRADED")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Len(t, response, 1)
	assert.Equal(t, id3, response[0].Id)

	rec = get(t, router, "/deployments?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Len(t, response, 1)
}

func TestListDeploymentsBadParams(t *testing.T) {
	router := newRouter(createDB(t))

	for _, path := range []string{
		"/deployments?status=EXPLODED",
		"/deployments?limit=-1",
		"/deployments?limit=ten",
	} {
		t.Run(path, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, get(t, router, path).Code)
		})
	}
}

func TestGetDeployment(t *testing.T) {
	id := uuid.New()
	files, err := database.EncodeFiles([]database.DeploymentFile{
		{Name: "P300L1.json", Kind: "pipette offset", Mount: "left", Serial: "P300L1", RemotePath: "/data/t/P300L1.json", FinalPath: "/data/robot/pipettes/left/P300L1.json"},
	})
	require.NoError(t, err)

	router := newRouter(createDB(t,
		&database.Deployment{
			Id:             id,
			Host:           "10.0.0.5",
			Tag:            "standard-offsets-upload-x",
			Status:         database.DeploymentSucceeded,
			State:          "done",
			Files:          datatypes.JSON(files),
			AppliedSteps:   datatypes.JSON(`["create directories", "install files"]`),
			Script:         "set -eu\n",
			CreationTime:   t0,
			CompletionTime: sql.NullTime{Time: t1, Valid: true},
		},
	))

	rec := get(t, router, "/deployments/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)

	var response models.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, id, response.Id)
	require.NotNil(t, response.CompletionTime)
	assert.True(t, t1.Equal(*response.CompletionTime))
	require.Len(t, response.Files, 1)
	assert.Equal(t, "/data/robot/pipettes/left/P300L1.json", response.Files[0].FinalPath)
	assert.Equal(t, []string{"create directories", "install files"}, response.AppliedSteps)

	rec = get(t, router, "/deployments/"+id.String()+"/script")
	require.Equal(t, http.StatusOK, rec.Code)
	var script models.DeploymentScript
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &script))
	assert.Equal(t, "set -eu\n", script.Script)
}

func TestGetDeploymentErrors(t *testing.T) {
	router := newRouter(createDB(t))

	assert.Equal(t, http.StatusNotFound, get(t, router, "/deployments/"+uuid.New().String()).Code)
	assert.Equal(t, http.StatusBadRequest, get(t, router, "/deployments/not-a-uuid").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
}
