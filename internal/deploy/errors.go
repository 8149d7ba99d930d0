package deploy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ot2-calibration/internal/remote"
	"ot2-calibration/internal/robot"
)

// NoInstrumentsError is returned when neither mount has an eligible pipette.
// A deck-only deployment without a bound pipette is refused.
type NoInstrumentsError struct {
	Host string
}

func (e *NoInstrumentsError) Error() string {
	if e.Host == "" {
		return "no attached pipettes with serial numbers detected"
	}
	return fmt.Sprintf("no attached pipettes with serial numbers detected on %s", e.Host)
}

// RemoteValidationError means the robot's own schema validator rejected the
// deck calibration that was just written to its canonical path.
type RemoteValidationError struct {
	Script   string
	Stdout   string
	Stderr   string
	ExitCode int
}

func (e *RemoteValidationError) Error() string {
	msg := fmt.Sprintf("robot rejected the deck calibration (exit status %d)", e.ExitCode)
	if diag := (remote.Result{Stdout: e.Stdout, Stderr: e.Stderr}).Diagnostic(); diag != "" {
		msg += "\n" + diag
	}
	return msg
}

// CommitError names the commit step that failed. Steps listed in Completed
// already ran, so their files are in place on the robot.
type CommitError struct {
	Step      string
	Completed []string
	Stdout    string
	Stderr    string
	ExitCode  int
}

func (e *CommitError) Error() string {
	step := e.Step
	if step == "" {
		step = "unknown step"
	}
	msg := fmt.Sprintf("commit failed at %q (exit status %d)", step, e.ExitCode)
	if len(e.Completed) > 0 {
		msg += fmt.Sprintf("; already applied: %s", strings.Join(e.Completed, ", "))
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

type ServiceRestartTimeoutError struct {
	Service string
	Timeout time.Duration
}

func (e *ServiceRestartTimeoutError) Error() string {
	return fmt.Sprintf("restart of %s did not finish within %s", e.Service, e.Timeout)
}

// StepError records the deployment state in which a failure happened.
type StepError struct {
	State State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsDegraded reports whether err happened after the calibration was
// committed and validated. The robot then holds the new calibration but its
// readiness is unconfirmed.
func IsDegraded(err error) bool {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.State == StateRestarting || stepErr.State == StateAwaitingReady
	}
	var restartErr *ServiceRestartTimeoutError
	var readyErr *robot.ReadinessTimeoutError
	return errors.As(err, &restartErr) || errors.As(err, &readyErr)
}
