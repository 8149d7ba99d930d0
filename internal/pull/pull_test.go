package pull

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ot2-calibration/internal/remote"
	"ot2-calibration/internal/robot"
	"ot2-calibration/internal/storage"
)

type fakeTransport struct {
	commands [][]string
}

func (f *fakeTransport) Run(ctx context.Context, argv ...string) (remote.Result, error) {
	f.commands = append(f.commands, argv)
	joined := strings.Join(argv, " ")
	switch {
	case strings.Contains(joined, `"robot_calibration_dir"`):
		return remote.Result{Stdout: "/data/robot\n"}, nil
	case strings.Contains(joined, `"tip_length_calibration_dir"`):
		return remote.Result{Stdout: "/data/tip_lengths\n"}, nil
	case strings.Contains(joined, "tar -C /data/robot"):
		return remote.Result{Stdout: "robot-tarball"}, nil
	case strings.Contains(joined, "tar -C /data/tip_lengths"):
		return remote.Result{Stdout: "tips-tarball"}, nil
	}
	return remote.Result{ExitCode: 127, Stderr: "unexpected command"}, nil
}

func (f *fakeTransport) Upload(ctx context.Context, content []byte, remotePath string) error {
	return nil
}

func startFakeRobot(t *testing.T) *robot.Client {
	t.Helper()
	r := chi.NewRouter()
	serve := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}
	}
	r.Get("/health", serve(`{"name":"Bench A","api_version":"7.0.0"}`))
	r.Get("/instruments", serve(`{"data":[{"mount":"left","instrumentType":"pipette","serialNumber":"P300L123","ok":true}]}`))
	r.Get("/calibration/pipette_offset", serve(`{"data":[]}`))
	r.Get("/calibration/tip_length", serve(`{"data":[]}`))
	r.Get("/calibration/status", serve(`{"deckCalibration":{"status":"OK"}}`))
	r.Get("/labware/calibrations", serve(`{"data":[]}`))

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(server.URL, "http://"))
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return robot.NewClient(host, robot.ClientConfig{Port: p, Timeout: 2 * time.Second})
}

func TestSnapshotPrefix(t *testing.T) {
	assert.Equal(t, "bench-a_20250102T030405Z", SnapshotPrefix("Bench A", time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestPull(t *testing.T) {
	dir := t.TempDir()
	transport := &fakeTransport{}
	puller := NewPuller(startFakeRobot(t), transport, storage.NewLocalProvider(dir), "")
	puller.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	snap, err := puller.Pull(context.Background(), "Bench A")
	require.NoError(t, err)

	assert.Equal(t, "bench-a_20250102T030405Z", snap.Prefix)
	assert.Equal(t, map[string]string{"robot_calibration_dir": "/data/robot", "tip_length_calibration_dir": "/data/tip_lengths"}, snap.Paths)
	assert.Equal(t, []string{
		"health.json",
		"instruments.json",
		"calibration_pipette_offset.json",
		"calibration_tip_length.json",
		"calibration_status.json",
		"labware_calibrations.json",
		"paths.json",
		"robot_calibration_dir.tar.gz",
		"tip_length_calibration_dir.tar.gz",
	}, snap.Files)

	health, err := os.ReadFile(filepath.Join(dir, snap.Prefix, "health.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"name\": \"Bench A\",\n  \"api_version\": \"7.0.0\"\n}\n", string(health))

	tarball, err := os.ReadFile(filepath.Join(dir, snap.Prefix, "robot_calibration_dir.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "robot-tarball", string(tarball))
}

func TestPullApiOnly(t *testing.T) {
	dir := t.TempDir()
	puller := NewPuller(startFakeRobot(t), nil, storage.NewLocalProvider(dir), "snapshots")

	snap, err := puller.Pull(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, snap.Files, 6)
	assert.True(t, strings.HasPrefix(snap.Prefix, "ot2_"))

	_, err = os.Stat(filepath.Join(dir, "snapshots", snap.Prefix, "labware_calibrations.json"))
	require.NoError(t, err)
}
