package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"ot2-calibration/cmd"
	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/config"
	"ot2-calibration/internal/deploy"
	"ot2-calibration/internal/robot"
)

func newApplyCmd(a *app) *cobra.Command {
	f := &a.flags
	c := &cobra.Command{
		Use:   "apply",
		Short: "Deploy calibration records built from templates to a robot",
		Args:  noArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return a.runApply(c.Context())
		},
	}

	addSSHFlags(c, f)
	c.Flags().StringVar(&f.remoteTag, "remote-tag", "", "label of the remote staging directory (OT2_REMOTE_TAG)")
	c.Flags().BoolVar(&f.restartRobotServer, "restart-robot-server", true, "restart robot-server after commit (OT2_RESTART_ROBOT_SERVER)")
	c.Flags().DurationVar(&f.restartWait, "restart-wait", 0, "how long to wait for robot-server readiness (OT2_RESTART_WAIT)")
	c.Flags().DurationVar(&f.readyPollInterval, "ready-poll-interval", 0, "readiness probe interval (OT2_READY_POLL_INTERVAL)")
	c.Flags().DurationVar(&f.restartCommandTimeout, "restart-command-timeout", 0, "timeout of the restart command (OT2_RESTART_COMMAND_TIMEOUT)")
	c.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the file mapping and commit script without touching the robot (OT2_DRY_RUN)")
	c.Flags().StringVar(&f.offsetsDir, "offsets-dir", "", "directory holding the template documents (OT2_OFFSETS_DIR)")
	c.Flags().StringVar(&f.templateBucket, "template-bucket", "", "read templates from this S3 bucket (OT2_TEMPLATE_BUCKET)")
	c.Flags().StringVar(&f.templatePrefix, "template-prefix", "", "key prefix of the templates (OT2_TEMPLATE_PREFIX)")
	c.Flags().StringVar(&f.leftSerial, "left-serial", "", "left pipette serial for a dry run without a robot")
	c.Flags().StringVar(&f.rightSerial, "right-serial", "", "right pipette serial for a dry run without a robot")
	c.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record the deployment (OT2_HISTORY_DISABLED)")
	return c
}

func printBindings(w io.Writer, host string, bindings robot.Bindings) {
	fmt.Fprintf(w, "attached pipettes on %s:\n", host)
	for _, b := range bindings.Mounts() {
		fmt.Fprintf(w, "  %-5s %s\n", b.Mount, b.Serial)
	}
}

func printMapping(w io.Writer, res *deploy.Result) {
	if len(res.Mapping) > 0 {
		fmt.Fprintln(w, "staged files:")
		for _, f := range res.Mapping {
			fmt.Fprintf(w, "  %s -> %s -> %s\n", f.LocalPath, f.RemotePath, f.FinalPath)
		}
	}
	if res.Committed {
		fmt.Fprintln(w, "commit script:")
		fmt.Fprint(w, res.Script)
	}
}

func orchestratorOptions(cfg config.Config) deploy.Options {
	return deploy.Options{
		Restart:               cfg.RestartRobotServer,
		RestartCommandTimeout: cfg.RestartCommandTimeout,
		ReadyTimeout:          cfg.RestartWait,
	}
}

func (a *app) recorder() *cmd.Recorder {
	return cmd.OpenRecorder(a.cfg)
}

func (a *app) runApply(ctx context.Context) error {
	cfg := a.cfg

	store, err := cmd.TemplateStore(ctx, cfg)
	if err != nil {
		return err
	}
	templates, err := store.Load(ctx)
	if err != nil {
		return err
	}

	layout := deploy.DefaultLayout()
	planner := deploy.NewPlanner(calibration.NewBuilder(), layout)

	recorder := a.recorder()
	defer recorder.Close()

	if cfg.DryRun {
		return a.dryRun(ctx, templates, planner, layout, recorder)
	}

	target, err := cmd.Resolver(cfg).Resolve(ctx, cfg.Host)
	if err != nil {
		return err
	}

	transport, err := cmd.Connect(ctx, cfg, target)
	if err != nil {
		return err
	}
	defer transport.Close()

	client := robot.NewClient(target.Host, cfg.RobotClient())
	bindings, err := client.AttachedPipettes(ctx)
	if err != nil {
		return err
	}
	if bindings.Empty() {
		return &deploy.NoInstrumentsError{Host: target.Host}
	}
	printBindings(a.stdout, target.Host, bindings)

	plan, err := planner.Plan(templates, bindings, cfg.RemoteTag)
	if err != nil {
		return err
	}

	opts := orchestratorOptions(cfg)
	opts.OnStaged = cmd.StagingProgress(len(plan.Files), a.stderr)
	orchestrator := deploy.NewOrchestrator(transport, robot.NewWaiter(client, cfg.ReadyPollInterval), layout, opts)

	deployment := recorder.Start(ctx, target.Host, target.Name(), plan, false)
	res, err := orchestrator.Deploy(ctx, plan)
	recorder.Finish(ctx, deployment, plan, res, err)

	printMapping(a.stdout, res)
	if err != nil {
		if deploy.IsDegraded(err) {
			slog.Warn("calibration committed and validated but robot-server readiness is unconfirmed", "tag", plan.Tag, "error", err)
		}
		return err
	}

	fmt.Fprintf(a.stdout, "deployed calibration %s to %s (%d files, restarted=%t, ready=%t)\n",
		res.Tag, target.Name(), len(res.Mapping), res.Restarted, res.Ready)
	return nil
}

// dryRun plans against pipettes given on the command line or read from the
// robot's instrument list, and prints what apply would do.
func (a *app) dryRun(ctx context.Context, templates *calibration.TemplateSet, planner *deploy.Planner, layout deploy.Layout, recorder *cmd.Recorder) error {
	cfg := a.cfg
	f := a.flags

	host := cfg.Host
	var bindings robot.Bindings
	switch {
	case f.leftSerial != "" || f.rightSerial != "":
		bindings = robot.NewBindings(f.leftSerial, f.rightSerial)
	case host != "":
		var err error
		bindings, err = robot.NewClient(host, cfg.RobotClient()).AttachedPipettes(ctx)
		if err != nil {
			return err
		}
		if bindings.Empty() {
			return &deploy.NoInstrumentsError{Host: host}
		}
		printBindings(a.stdout, host, bindings)
	default:
		return &cmd.UsageError{Err: errors.New("a dry run needs --host, or --left-serial/--right-serial")}
	}

	plan, err := planner.Plan(templates, bindings, cfg.RemoteTag)
	if err != nil {
		return err
	}

	orchestrator := deploy.NewOrchestrator(nil, nil, layout, orchestratorOptions(cfg))
	if err := orchestrator.Preview(plan, a.stdout); err != nil {
		return err
	}

	deployment := recorder.Start(ctx, host, "", plan, true)
	recorder.Finish(ctx, deployment, plan, &deploy.Result{Tag: plan.Tag, State: deploy.StateDone}, nil)
	return nil
}
