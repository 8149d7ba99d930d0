//go:build integration
// +build integration

package integrationtests

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/pull"
	"ot2-calibration/internal/robot"
	"ot2-calibration/internal/storage"
	"ot2-calibration/pkg/api"
)

const (
	templateBucket = "calibration-templates"
	snapshotBucket = "calibration-snapshots"
)

func TestS3Provider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupS3Provider(t, ctx)
	require.NoError(t, provider.CreateBucket(ctx, templateBucket))
	require.NoError(t, provider.CreateBucket(ctx, templateBucket), "creating an existing bucket is not an error")

	require.NoError(t, provider.PutObject(ctx, templateBucket, "standard/a.json", strings.NewReader(`{"a": 1}`)))
	require.NoError(t, provider.PutObject(ctx, templateBucket, "standard/b.json", strings.NewReader(`{"b": 2}`)))
	require.NoError(t, provider.PutObject(ctx, templateBucket, "other/c.json", strings.NewReader(`{}`)))

	data, err := provider.GetObject(ctx, templateBucket, "standard/a.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, string(data))

	_, err = provider.GetObject(ctx, templateBucket, "standard/missing.json")
	assert.True(t, errors.Is(err, storage.ErrObjectNotFound))

	objects, err := provider.ListObjects(ctx, templateBucket, "standard/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "standard/a.json", objects[0].Name)
	assert.Equal(t, int64(8), objects[0].Size)
}

func TestTemplateStoreFromS3(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupS3Provider(t, ctx)
	require.NoError(t, provider.CreateBucket(ctx, templateBucket))

	names := calibration.DefaultNames()
	docs := map[string]string{
		names.PipetteOffsets: `{"data": [{"mount": "left", "offset": [1, 2, 3], "tiprack": "hash-left"}]}`,
		names.TipLengths:     `{"data": [{"pipette": "P300L123", "tipLength": 51.2, "tiprack": "hash-left", "uri": "opentrons/tiprack/1"}]}`,
		names.Deck:           `{"deckCalibration": {"data": {"matrix": [[1, 0, 0], [0, 1, 0], [0, 0, 1]]}}}`,
	}
	for name, doc := range docs {
		require.NoError(t, provider.PutObject(ctx, templateBucket, "standard/"+name, strings.NewReader(doc)))
	}

	set, err := calibration.NewStore(provider, templateBucket, "standard", names).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, set.PipetteOffsets.Data, 1)
	assert.Equal(t, calibration.DeckShapeNested, set.Deck.Shape)

	_, err = calibration.NewStore(provider, templateBucket, "missing", names).Load(ctx)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestPullIntoS3(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	provider := setupS3Provider(t, ctx)

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.Health{Name: "OT2CEP01"})
	})
	r.Get("/instruments", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.InstrumentsResponse{Data: []api.Instrument{
			{Mount: "left", InstrumentType: "pipette", SerialNumber: "P300L123", Ok: true},
		}})
	})
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": []}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	client := robot.NewClient(u.Hostname(), robot.ClientConfig{Port: port})
	snap, err := pull.NewPuller(client, nil, provider, snapshotBucket).Pull(ctx, "OT2CEP01")
	require.NoError(t, err)

	objects, err := provider.ListObjects(ctx, snapshotBucket, snap.Prefix+"/")
	require.NoError(t, err)
	assert.Len(t, objects, len(snap.Files))

	data, err := provider.GetObject(ctx, snapshotBucket, snap.Prefix+"/instruments.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), "P300L123")
}
