package supervisor

import (
	"context"
	"os/exec"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/logfollow"
	"github.com/ethpandaops/truss/internal/procgroup"
)

// runLogDiscovery implements §4.4: poll for containers carrying this run's
// id label, skip proxy sidecars, remap app-variant names back to the
// user's original service name, and start one engine `logs --follow`
// subprocess per newly seen container.
func (s *Supervisor) runLogDiscovery(ctx context.Context, follower *logfollow.Follower, runID domain.RunID, project string, appAliases map[string]string) {
	ticker := time.NewTicker(constants.ContainerPollInterval)
	defer ticker.Stop()

	seen := map[string]bool{}

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.discoverLogContainers(ctx, follower, runID, appAliases, seen)
		}
	}
}

func (s *Supervisor) discoverLogContainers(ctx context.Context, follower *logfollow.Follower, runID domain.RunID, appAliases map[string]string, seen map[string]bool) {
	ids, err := s.engine.CollectContainerIDs(ctx, map[string]string{
		constants.LabelRunID: string(runID),
	}, domain.ScopeRunning)
	if err != nil {
		s.log.WithError(err).Debug("log discovery: list containers failed")

		return
	}

	infos, err := s.engine.Inspect(ctx, ids)
	if err != nil {
		s.log.WithError(err).Debug("log discovery: inspect failed")

		return
	}

	for _, info := range infos {
		if seen[info.ID] {
			continue
		}

		seen[info.ID] = true

		name := info.ServiceName
		if name == "" || isProxyContainer(info) {
			continue
		}

		if original, ok := appAliases[name]; ok {
			name = original
		}

		s.startLogReader(follower, info.ID, name)
	}
}

// isProxyContainer reports whether a container is a proxy sidecar rather
// than an application container. The proxy label is the only reliable
// signal: a non-egress proxy keeps the user's original service name (the
// app container is the one renamed to "<name>-app"), so name alone cannot
// distinguish them.
func isProxyContainer(info domain.ContainerInfo) bool {
	if info.Labels[constants.LabelProxy] != "" {
		return true
	}

	return info.ServiceName == constants.EgressService
}

func (s *Supervisor) startLogReader(follower *logfollow.Follower, containerID, service string) {
	args := s.engine.LogsCommand(containerID, s.cfg.LogTimestamps)

	//nolint:gosec // args come from the engine adapter's own command builder
	cmd := exec.Command(args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.log.WithError(err).WithField("service", service).Warn("failed to attach log reader stdout")

		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.log.WithError(err).WithField("service", service).Warn("failed to attach log reader stderr")

		return
	}

	group, err := procgroup.Start("logs-"+service, cmd)
	if err != nil {
		s.log.WithError(err).WithField("service", service).Warn("failed to start log reader")

		return
	}

	s.track(group)

	follower.Follow(service, stdout, s.stop)
	follower.Follow(service, stderr, s.stop)
}
