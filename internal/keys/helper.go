package keys

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// HelperCommand delegates key provisioning to an external program. The
// helper receives the target on its command line and prints the private key
// path as the last line of its stdout.
type HelperCommand struct {
	Argv       []string
	Scope      Scope
	KeyDir     string
	ApiVersion string
}

// KeyInstallError is returned when the helper could not authorize a key
// because the robot only accepts public key logins.
type KeyInstallError struct {
	Target string
	Detail string
}

func (e *KeyInstallError) Error() string {
	return fmt.Sprintf("failed to set up ssh key for %s: %s. The robot does not accept password logins, so a new key "+
		"cannot be installed automatically. Provide an already authorized key with --ssh-key, or authorize the "+
		"generated public key on the robot out of band and re-run", e.Target, e.Detail)
}

func (h HelperCommand) args(target Target) []string {
	args := append([]string{}, h.Argv[1:]...)
	args = append(args,
		"--host", target.Host,
		"--api-port", strconv.Itoa(target.ApiPort),
		"--ssh-user", target.User,
		"--ssh-port", strconv.Itoa(target.Port),
		"--scope", string(h.Scope),
		"--ensure-authorized",
	)
	if h.ApiVersion != "" {
		args = append(args, "--api-version", h.ApiVersion)
	}
	if h.KeyDir != "" {
		args = append(args, "--key-dir", h.KeyDir)
	}
	return args
}

func (h HelperCommand) Provision(ctx context.Context, target Target) (string, error) {
	if len(h.Argv) == 0 {
		return "", fmt.Errorf("%w: no key helper configured", ErrNoKey)
	}

	cmd := exec.CommandContext(ctx, h.Argv[0], h.args(target)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("running ssh key helper", "helper", h.Argv[0], "host", target.Host)

	name := fmt.Sprintf("%s@%s:%d", target.User, target.Host, target.Port)
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		var exitErr *exec.ExitError
		if detail == "" && errors.As(err, &exitErr) {
			detail = fmt.Sprintf("exit code %d", exitErr.ExitCode())
		}
		if strings.Contains(detail, "Permission denied (publickey)") {
			return "", &KeyInstallError{Target: name, Detail: detail}
		}
		return "", fmt.Errorf("failed to ensure ssh key for %s: %s: %w", name, detail, err)
	}

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	path := strings.TrimSpace(lines[len(lines)-1])
	if path == "" {
		return "", fmt.Errorf("%w: key helper printed no key path for %s", ErrNoKey, name)
	}
	return path, nil
}
