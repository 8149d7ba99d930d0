package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/pull"
	"ot2-calibration/internal/remote"
	"ot2-calibration/internal/robot"
)

func newPullCmd(a *app) *cobra.Command {
	f := &a.flags
	c := &cobra.Command{
		Use:   "pull",
		Short: "Snapshot the robot's current calibration state",
		Long: `pull saves the robot-server calibration endpoints as JSON and, unless
--api-only is given, tarballs of the on-disk calibration directories read
over ssh. Snapshots go to --out-dir or, with --bucket, to S3.`,
		Args: noArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.runPull(c.Context())
		},
	}

	addSSHFlags(c, f)
	c.Flags().StringVar(&f.pullDir, "out-dir", "", "local snapshot directory (OT2_PULL_DIR)")
	c.Flags().StringVar(&f.pullBucket, "bucket", "", "write snapshots to this S3 bucket (OT2_PULL_BUCKET)")
	c.Flags().BoolVar(&f.apiOnly, "api-only", false, "only read the HTTP API, skip ssh")
	return c
}

func (a *app) runPull(ctx context.Context) error {
	cfg := a.cfg

	target, err := cmd.Resolver(cfg).Resolve(ctx, cfg.Host)
	if err != nil {
		return err
	}

	var transport remote.Transport
	if !a.flags.apiOnly {
		t, err := cmd.Connect(ctx, cfg, target)
		if err != nil {
			return err
		}
		defer t.Close()
		transport = t
	}

	provider, bucket, err := cmd.SnapshotStorage(ctx, cfg)
	if err != nil {
		return err
	}

	client := robot.NewClient(target.Host, cfg.RobotClient())
	snap, err := pull.NewPuller(client, transport, provider, bucket).Pull(ctx, target.Name())
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "pulled %d files from %s into %s/%s\n", len(snap.Files), target.Name(), snap.Bucket, snap.Prefix)
	for _, name := range snap.Files {
		fmt.Fprintf(a.stdout, "  %s\n", name)
	}
	return nil
}
