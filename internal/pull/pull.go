package pull

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"ot2-calibration/internal/remote"
	"ot2-calibration/internal/robot"
	"ot2-calibration/internal/storage"
)

var apiSnapshots = []struct {
	Name string
	Path string
}{
	{"health.json", "/health"},
	{"instruments.json", "/instruments"},
	{"calibration_pipette_offset.json", "/calibration/pipette_offset"},
	{"calibration_tip_length.json", "/calibration/tip_length"},
	{"calibration_status.json", "/calibration/status"},
	{"labware_calibrations.json", "/labware/calibrations"},
}

var calibrationDirs = []string{"robot_calibration_dir", "tip_length_calibration_dir"}

type Snapshot struct {
	Bucket string
	Prefix string
	Files  []string
	Paths  map[string]string
}

// Puller copies the robot's current calibration state into a storage
// provider. The transport may be nil, in which case only the HTTP API is
// read.
type Puller struct {
	client    *robot.Client
	transport remote.Transport
	provider  storage.Provider
	bucket    string
	python    string
	now       func() time.Time
}

func NewPuller(client *robot.Client, transport remote.Transport, provider storage.Provider, bucket string) *Puller {
	return &Puller{
		client:    client,
		transport: transport,
		provider:  provider,
		bucket:    bucket,
		python:    "python",
		now:       time.Now,
	}
}

func SnapshotPrefix(robotName string, now time.Time) string {
	return fmt.Sprintf("%s_%s", robot.Slug(robotName), now.UTC().Format("20060102T150405Z"))
}

func (p *Puller) put(ctx context.Context, snap *Snapshot, name string, data []byte) error {
	key := path.Join(snap.Prefix, name)
	if err := p.provider.PutObject(ctx, p.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error saving %s: %w", name, err)
	}
	snap.Files = append(snap.Files, name)
	slog.Info("saved snapshot file", "bucket", p.bucket, "key", key, "bytes", len(data))
	return nil
}

func indentJSON(raw []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

func (p *Puller) Pull(ctx context.Context, robotName string) (*Snapshot, error) {
	snap := &Snapshot{Bucket: p.bucket, Prefix: SnapshotPrefix(robotName, p.now())}

	if err := p.provider.CreateBucket(ctx, p.bucket); err != nil {
		return nil, err
	}

	for _, s := range apiSnapshots {
		raw, err := p.client.GetJSON(ctx, s.Path)
		if err != nil {
			return nil, fmt.Errorf("error fetching %s: %w", s.Path, err)
		}
		data, err := indentJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("error formatting %s: %w", s.Path, err)
		}
		if err := p.put(ctx, snap, s.Name, data); err != nil {
			return nil, err
		}
	}

	if p.transport == nil {
		slog.Info("pulled api snapshot only", "prefix", snap.Prefix)
		return snap, nil
	}

	snap.Paths = map[string]string{}
	for _, dir := range calibrationDirs {
		resolved, err := p.remotePath(ctx, dir)
		if err != nil {
			return nil, err
		}
		snap.Paths[dir] = resolved
	}

	paths, err := json.MarshalIndent(snap.Paths, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := p.put(ctx, snap, "paths.json", append(paths, '\n')); err != nil {
		return nil, err
	}

	for _, dir := range calibrationDirs {
		slog.Info("pulling calibration directory", "name", dir, "path", snap.Paths[dir])
		res, err := remote.Check(ctx, p.transport, "sh", "-c", "set -eu; tar -C "+remote.ShellQuote(snap.Paths[dir])+" -czf - .")
		if err != nil {
			return nil, fmt.Errorf("error archiving %s: %w", snap.Paths[dir], err)
		}
		if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
			slog.Warn("tar reported warnings", "path", snap.Paths[dir], "stderr", stderr)
		}
		if err := p.put(ctx, snap, dir+".tar.gz", []byte(res.Stdout)); err != nil {
			return nil, err
		}
	}

	return snap, nil
}

func (p *Puller) remotePath(ctx context.Context, name string) (string, error) {
	expr := fmt.Sprintf(`from opentrons.config import get_opentrons_path; print(get_opentrons_path(%q))`, name)
	res, err := remote.Check(ctx, p.transport, p.python, "-c", expr)
	if err != nil {
		return "", fmt.Errorf("error resolving %s on the robot: %w", name, err)
	}
	resolved := strings.TrimSpace(res.Stdout)
	if resolved == "" {
		return "", fmt.Errorf("robot reported an empty %s", name)
	}
	return resolved, nil
}
