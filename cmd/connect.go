package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ot2-calibration/internal/calibration"
	"ot2-calibration/internal/config"
	"ot2-calibration/internal/keys"
	"ot2-calibration/internal/remote"
	"ot2-calibration/internal/robot"
	"ot2-calibration/internal/storage"
)

// TemplateStore reads templates from S3 when a template bucket is
// configured and from the local offsets directory otherwise.
func TemplateStore(ctx context.Context, cfg config.Config) (*calibration.Store, error) {
	if cfg.TemplateBucket != "" {
		s3p, err := storage.NewS3Provider(ctx, cfg.S3())
		if err != nil {
			return nil, fmt.Errorf("error creating template storage: %w", err)
		}
		return calibration.NewStore(s3p, cfg.TemplateBucket, cfg.TemplatePrefix, cfg.TemplateNames()), nil
	}
	return calibration.NewStore(storage.NewLocalProvider(""), cfg.OffsetsDir, cfg.TemplatePrefix, cfg.TemplateNames()), nil
}

// SnapshotStorage returns where pulled calibration snapshots are written.
func SnapshotStorage(ctx context.Context, cfg config.Config) (storage.Provider, string, error) {
	if cfg.PullBucket != "" {
		s3p, err := storage.NewS3Provider(ctx, cfg.S3())
		if err != nil {
			return nil, "", fmt.Errorf("error creating snapshot storage: %w", err)
		}
		return s3p, cfg.PullBucket, nil
	}
	return storage.NewLocalProvider(""), cfg.PullDir, nil
}

func KeyProvisioner(cfg config.Config) keys.Provisioner {
	if cfg.SSHKey != "" {
		return keys.Static(cfg.SSHKey)
	}

	scope, _ := keys.ParseScope(cfg.SSHKeyScope)
	chain := keys.Chain{keys.DirLookup{Dir: cfg.SSHKeyDir, Scope: scope}}
	if argv := cfg.KeyHelperArgv(); cfg.EnsureSSHKey && len(argv) > 0 {
		chain = append(chain, keys.HelperCommand{
			Argv:       argv,
			Scope:      scope,
			KeyDir:     cfg.SSHKeyDir,
			ApiVersion: cfg.ApiVersion,
		})
	}
	return chain
}

// SSHKeyPath returns the private key to use for target. An empty path means
// the ssh agent and default identities are tried instead.
func SSHKeyPath(ctx context.Context, cfg config.Config, target robot.Target) (string, error) {
	path, err := KeyProvisioner(cfg).Provision(ctx, keys.Target{
		Host:      target.Host,
		RobotName: target.Name(),
		User:      cfg.SSHUser,
		Port:      cfg.SSHPort,
		ApiPort:   cfg.ApiPort,
	})
	if err == nil {
		return path, nil
	}

	var installErr *keys.KeyInstallError
	if errors.As(err, &installErr) || cfg.SSHKey != "" {
		return "", err
	}
	if cfg.EnsureSSHKey && len(cfg.KeyHelperArgv()) > 0 {
		return "", err
	}
	slog.Warn("no provisioned ssh key found, falling back to ssh agent and default identities", "error", err)
	return "", nil
}

// Connect provisions a key for target and verifies ssh access to it.
func Connect(ctx context.Context, cfg config.Config, target robot.Target) (*remote.SSHTransport, error) {
	keyPath, err := SSHKeyPath(ctx, cfg, target)
	if err != nil {
		return nil, err
	}

	transport := remote.NewSSHTransport(remote.SSHConfig{
		Host:           target.Host,
		Port:           cfg.SSHPort,
		User:           cfg.SSHUser,
		KeyPath:        keyPath,
		KnownHostsPath: cfg.KnownHosts,
		ConnectTimeout: cfg.SSHConnectTimeout,
	})
	if err := transport.Preflight(ctx); err != nil {
		transport.Close()
		return nil, err
	}
	return transport, nil
}

func Resolver(cfg config.Config) *robot.Resolver {
	return &robot.Resolver{
		Client:     cfg.RobotClient(),
		Candidates: cfg.CandidateHosts,
		PickFirst:  cfg.PickFirst,
	}
}
