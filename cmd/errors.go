package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/deploy"
	"ot2-calibration/internal/keys"
	"ot2-calibration/internal/remote"
	"ot2-calibration/internal/robot"
	"ot2-calibration/internal/storage"
)

const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitFatal    = 2
	ExitDegraded = 3
)

// UsageError marks invalid flags, arguments or configuration.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

func ExitCode(err error) int {
	var usage *UsageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	case deploy.IsDegraded(err):
		return ExitDegraded
	default:
		return ExitFatal
	}
}

func category(err error) string {
	var (
		usage        *UsageError
		notFound     *calibration.TemplateNotFoundError
		schema       *calibration.SchemaMismatchError
		noInstrument *deploy.NoInstrumentsError
		auth         *remote.AuthenticationError
		keyInstall   *keys.KeyInstallError
		ambiguous    *robot.AmbiguousHostError
		unreachable  *robot.UnreachableError
		validation   *deploy.RemoteValidationError
		commit       *deploy.CommitError
		restart      *deploy.ServiceRestartTimeoutError
		readiness    *robot.ReadinessTimeoutError
		transport    *remote.TransportError
	)

	switch {
	case errors.As(err, &usage):
		return "usage"
	case errors.As(err, &notFound), errors.Is(err, storage.ErrObjectNotFound):
		return "template not found"
	case errors.As(err, &schema):
		return "template schema mismatch"
	case errors.As(err, &noInstrument):
		return "no instruments"
	case errors.As(err, &auth):
		return "ssh authentication"
	case errors.As(err, &keyInstall), errors.Is(err, keys.ErrNoKey):
		return "ssh key"
	case errors.As(err, &ambiguous), errors.As(err, &unreachable):
		return "host resolution"
	case errors.As(err, &validation):
		return "remote validation"
	case errors.As(err, &commit):
		return "commit"
	case errors.As(err, &restart):
		return "service restart timeout"
	case errors.As(err, &readiness):
		return "readiness timeout"
	case errors.As(err, &transport):
		return "remote transport"
	default:
		return "failed"
	}
}

// Summary renders err as the single diagnostic line printed on exit.
func Summary(err error) string {
	detail, _, _ := strings.Cut(strings.TrimSpace(err.Error()), "\n")
	return fmt.Sprintf("error: %s: %s", category(err), detail)
}

// Exit prints the summary line for err, if any, and returns the process
// exit code.
func Exit(err error, w io.Writer) int {
	if err == nil {
		return ExitOK
	}
	fmt.Fprintln(w, Summary(err))
	return ExitCode(err)
}
