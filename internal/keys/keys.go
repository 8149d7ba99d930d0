package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"ot2-calibration/internal/robot"
)

type Scope string

const (
	ScopePerRobot Scope = "per-robot"
	ScopeShared   Scope = "shared"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopePerRobot, ScopeShared:
		return Scope(s), nil
	}
	return "", fmt.Errorf("invalid ssh key scope %q, expected %q or %q", s, ScopePerRobot, ScopeShared)
}

// Target identifies the robot a key is needed for.
type Target struct {
	Host      string
	RobotName string
	User      string
	Port      int
	ApiPort   int
}

// Provisioner returns the path of a private key authorized on the target.
type Provisioner interface {
	Provision(ctx context.Context, target Target) (string, error)
}

var ErrNoKey = errors.New("no ssh key available")

func DefaultKeyDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "opentrons-tools", "ssh")
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "opentrons-tools", "ssh")
}

func KeyName(scope Scope, robotName string) string {
	if scope == ScopeShared {
		return "ot2_shared_rsa"
	}
	return fmt.Sprintf("ot2_%s_rsa", robot.Slug(robotName))
}

// DirLookup finds a previously generated key in the key directory.
type DirLookup struct {
	Dir   string
	Scope Scope
}

func (d DirLookup) Path(target Target) string {
	dir := d.Dir
	if dir == "" {
		dir = DefaultKeyDir()
	}
	return filepath.Join(dir, KeyName(d.Scope, target.RobotName))
}

func (d DirLookup) Provision(ctx context.Context, target Target) (string, error) {
	path := d.Path(target)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s does not exist", ErrNoKey, path)
	}
	slog.Info("using ssh key from key directory", "path", path)
	return path, nil
}

// Chain returns the first key any of its provisioners produces.
type Chain []Provisioner

func (c Chain) Provision(ctx context.Context, target Target) (string, error) {
	var errs []error
	for _, p := range c {
		path, err := p.Provision(ctx, target)
		if err == nil {
			return path, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNoKey
	}
	return "", errors.Join(errs...)
}

// Static always returns the configured path.
type Static string

func (s Static) Provision(ctx context.Context, target Target) (string, error) {
	if s == "" {
		return "", ErrNoKey
	}
	return string(s), nil
}
