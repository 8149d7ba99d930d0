package remote

import (
	"fmt"
	"strings"
)

type TransportError struct {
	Op       string
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *TransportError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "remote %s failed", e.Op)
	if e.Command != "" {
		fmt.Fprintf(&sb, " (%s)", e.Command)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	} else {
		fmt.Fprintf(&sb, ": exit status %d", e.ExitCode)
	}
	if diag := (Result{Stdout: e.Stdout, Stderr: e.Stderr}).Diagnostic(); diag != "" {
		fmt.Fprintf(&sb, "\n%s", diag)
	}
	return sb.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned when the remote host rejects every
// available credential.
type AuthenticationError struct {
	Target string
	Detail string
	// KeyHint is the public key that must be authorized on the robot, when
	// one is known.
	KeyHint string
}

func (e *AuthenticationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "ssh authentication to %s failed", e.Target)
	if e.Detail != "" {
		fmt.Fprintf(&sb, ": %s", e.Detail)
	}
	sb.WriteString(". Provide an authorized key with --ssh-key <path>, or enable --ensure-ssh-key to provision one")
	if e.KeyHint != "" {
		fmt.Fprintf(&sb, " (authorize %s on the robot)", e.KeyHint)
	}
	return sb.String()
}
