package robot

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"ot2-calibration/pkg/api"
)

const DefaultCandidateHost = "opentrons.local"

type Target struct {
	Host   string
	Health api.Health
}

// Name is the robot's own name, falling back to the host.
func (t Target) Name() string {
	if name := strings.TrimSpace(t.Health.Name); name != "" {
		return name
	}
	return t.Host
}

// Resolver picks the robot to talk to. An explicit host is only verified;
// otherwise every candidate is probed concurrently.
type Resolver struct {
	Client     ClientConfig
	Candidates []string
	PickFirst  bool
}

func (r *Resolver) probe(ctx context.Context, host string) (Target, error) {
	health, err := NewClient(host, r.Client).Health(ctx)
	if err != nil {
		return Target{}, err
	}
	return Target{Host: host, Health: health}, nil
}

func (r *Resolver) Resolve(ctx context.Context, explicit string) (Target, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		target, err := r.probe(ctx, explicit)
		if err != nil {
			return Target{}, &UnreachableError{Hosts: []string{explicit}, Err: err}
		}
		slog.Info("robot reachable", "host", explicit, "name", target.Name())
		return target, nil
	}

	candidates := r.Candidates
	if len(candidates) == 0 {
		candidates = []string{DefaultCandidateHost}
	}

	results := make([]*Target, len(candidates))
	errs := make([]error, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, host := range candidates {
		g.Go(func() error {
			target, err := r.probe(gctx, host)
			if err != nil {
				slog.Debug("candidate unreachable", "host", host, "error", err)
				errs[i] = err
				return nil
			}
			results[i] = &target
			return nil
		})
	}
	_ = g.Wait()

	var found []Target
	for _, res := range results {
		if res != nil {
			found = append(found, *res)
		}
	}

	switch {
	case len(found) == 0:
		return Target{}, &UnreachableError{Hosts: candidates, Err: errors.Join(errs...)}
	case len(found) > 1 && !r.PickFirst:
		hosts := make([]string, len(found))
		for i, t := range found {
			hosts[i] = t.Host
		}
		return Target{}, &AmbiguousHostError{Hosts: hosts}
	}

	slog.Info("resolved robot", "host", found[0].Host, "name", found[0].Name(), "reachable", len(found))
	return found[0], nil
}
