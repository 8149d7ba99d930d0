package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ot2-calibration/internal/remote"
)

type State string

const (
	StateStaging       State = "staging"
	StateCommitting    State = "committing"
	StateValidating    State = "validating"
	StateRestarting    State = "restarting"
	StateAwaitingReady State = "awaiting_ready"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

type ReadinessWaiter interface {
	WaitUntilReady(ctx context.Context, timeout time.Duration) error
}

type Options struct {
	Restart               bool
	RestartCommandTimeout time.Duration
	ReadyTimeout          time.Duration
	// OnStaged is called after each file upload.
	OnStaged func(done, total int, f StagedFile)
}

type Result struct {
	Tag       string
	State     State
	FailedAt  State
	Committed bool
	Validated bool
	Restarted bool
	Ready     bool
	Mapping   []StagedFile
	Script    string
	// Applied lists the commit steps that completed, including on a
	// failed commit.
	Applied []string
}

type Orchestrator struct {
	transport remote.Transport
	waiter    ReadinessWaiter
	layout    Layout
	opts      Options
}

func NewOrchestrator(transport remote.Transport, waiter ReadinessWaiter, layout Layout, opts Options) *Orchestrator {
	if opts.RestartCommandTimeout == 0 {
		opts.RestartCommandTimeout = 90 * time.Second
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = 120 * time.Second
	}
	return &Orchestrator{transport: transport, waiter: waiter, layout: layout, opts: opts}
}

func (o *Orchestrator) fail(res *Result, state State, err error) (*Result, error) {
	res.State = StateFailed
	res.FailedAt = state
	slog.Error("deployment failed", "tag", res.Tag, "state", state, "error", err)
	return res, &StepError{State: state, Err: err}
}

// Deploy stages, commits and validates plan, then optionally restarts
// robot-server and waits for it. Steps run strictly in order and nothing is
// retried. Once the commit script has started it runs to completion.
func (o *Orchestrator) Deploy(ctx context.Context, plan *Plan) (*Result, error) {
	res := &Result{Tag: plan.Tag, Script: plan.Script, State: StateStaging}

	localDir, err := os.MkdirTemp("", "ot2cal-"+plan.Tag+"-")
	if err != nil {
		return o.fail(res, StateStaging, fmt.Errorf("error creating local staging directory: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(localDir); err != nil {
			slog.Warn("failed to remove local staging directory", "dir", localDir, "error", err)
		}
	}()

	if err := o.stage(ctx, plan, localDir, res); err != nil {
		return o.fail(res, StateStaging, err)
	}

	res.State = StateCommitting
	slog.Info("committing calibration", "tag", plan.Tag, "files", len(plan.Files))

	// The commit must not be abandoned halfway, so it ignores cancellation
	// of the caller's context.
	out, err := o.transport.Run(context.WithoutCancel(ctx), "sh", "-c", plan.Script)
	if err != nil {
		return o.fail(res, StateCommitting, err)
	}
	completed, failedStep := parseSteps(out.Stdout, out.Stderr)
	res.Applied = completed

	switch out.ExitCode {
	case 0:
	case exitValidationFailed:
		return o.fail(res, StateValidating, &RemoteValidationError{
			Script:   plan.Script,
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			ExitCode: out.ExitCode,
		})
	default:
		return o.fail(res, StateCommitting, &CommitError{
			Step:      failedStep,
			Completed: completed,
			Stdout:    out.Stdout,
			Stderr:    out.Stderr,
			ExitCode:  out.ExitCode,
		})
	}

	res.State = StateValidating
	res.Committed = true
	res.Validated = strings.Contains(out.Stdout, validMarker)
	if !res.Validated {
		return o.fail(res, StateValidating, &RemoteValidationError{
			Script:   plan.Script,
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			ExitCode: out.ExitCode,
		})
	}
	slog.Info("calibration committed and validated", "tag", plan.Tag, "steps", len(completed))

	if o.opts.Restart {
		res.State = StateRestarting
		if err := o.restart(ctx); err != nil {
			return o.fail(res, StateRestarting, err)
		}
		res.Restarted = true

		res.State = StateAwaitingReady
		if o.waiter == nil {
			return o.fail(res, StateAwaitingReady, errors.New("no readiness waiter configured"))
		}
		slog.Info("waiting for robot server", "timeout", o.opts.ReadyTimeout)
		if err := o.waiter.WaitUntilReady(ctx, o.opts.ReadyTimeout); err != nil {
			return o.fail(res, StateAwaitingReady, err)
		}
		res.Ready = true
	}

	res.State = StateDone
	slog.Info("deployment done", "tag", plan.Tag, "restarted", res.Restarted, "ready", res.Ready)
	return res, nil
}

func (o *Orchestrator) stage(ctx context.Context, plan *Plan, localDir string, res *Result) error {
	if _, err := remote.Check(ctx, o.transport, "mkdir", "-p", plan.RemoteStagingDir); err != nil {
		return err
	}

	for i := range plan.Files {
		f := plan.Files[i]
		f.LocalPath = filepath.Join(localDir, f.Name)
		if err := os.WriteFile(f.LocalPath, f.Content, 0o600); err != nil {
			return fmt.Errorf("error writing %s: %w", f.LocalPath, err)
		}

		content, err := os.ReadFile(f.LocalPath)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", f.LocalPath, err)
		}
		if err := o.transport.Upload(ctx, content, f.RemotePath); err != nil {
			return err
		}
		slog.Info("staged calibration file", "local_path", f.LocalPath, "remote_path", f.RemotePath)

		res.Mapping = append(res.Mapping, f)
		if o.opts.OnStaged != nil {
			o.opts.OnStaged(i+1, len(plan.Files), f)
		}
	}
	return nil
}

func (o *Orchestrator) restart(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, o.opts.RestartCommandTimeout)
	defer cancel()

	slog.Info("restarting robot server", "service", o.layout.Service)
	_, err := remote.Check(rctx, o.transport, "systemctl", "restart", o.layout.Service)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &ServiceRestartTimeoutError{Service: o.layout.Service, Timeout: o.opts.RestartCommandTimeout}
		}
		return err
	}
	return nil
}

// Preview prints what Deploy would do without touching the network.
func (o *Orchestrator) Preview(plan *Plan, w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[dry-run] staging tag: %s\n", plan.Tag)
	sb.WriteString("[dry-run] files that would be uploaded:\n")
	for _, f := range plan.Files {
		fmt.Fprintf(&sb, "  %s -> %s -> %s\n", f.Name, f.RemotePath, f.FinalPath)
	}
	sb.WriteString("[dry-run] remote commit script:\n")
	sb.WriteString(plan.Script)
	if o.opts.Restart {
		fmt.Fprintf(&sb, "[dry-run] would restart %s and wait up to %s for readiness\n", o.layout.Service, o.opts.ReadyTimeout)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
