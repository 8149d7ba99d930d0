package remote

import (
	"context"
	"strings"
)

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Transport is a remote shell channel. Run reports a non-zero exit through
// Result.ExitCode and only returns an error when the command could not be
// executed at all. Upload writes content to remotePath through the shell,
// so no file-transfer subsystem is required on the remote side.
type Transport interface {
	Run(ctx context.Context, argv ...string) (Result, error)
	Upload(ctx context.Context, content []byte, remotePath string) error
}

// Check runs argv and turns a non-zero exit into a TransportError.
func Check(ctx context.Context, t Transport, argv ...string) (Result, error) {
	res, err := t.Run(ctx, argv...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &TransportError{
			Op:       "run",
			Command:  ShellJoin(argv),
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
		}
	}
	return res, nil
}

// Diagnostic joins the captured output of a command for error messages.
func (r Result) Diagnostic() string {
	var parts []string
	if s := strings.TrimSpace(r.Stdout); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(r.Stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}
