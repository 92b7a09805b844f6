package engineadapter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/ethpandaops/truss/internal/domain"
	"github.com/sirupsen/logrus"
)

// candidateBinaries are probed, in order, when nothing else resolves the
// engine. Each must accept `<bin> compose version`.
var candidateBinaries = []string{"docker", "podman"}

// Detect chooses an engine per §4.1: explicit override and flag must agree
// if both present; otherwise probe candidates in PATH. Detection never
// falls through silently — every branch either resolves an engine or
// returns a distinct error.
func Detect(ctx context.Context, log logrus.FieldLogger, opts DetectOptions) (Engine, error) {
	var resolvedKind domain.EngineKind

	if len(opts.OverrideCmd) > 0 {
		if isLegacyComposeCmd(opts.OverrideCmd) {
			return nil, fmt.Errorf("compose command override must use \"podman compose\" or \"docker compose\", not the legacy standalone binary %q", opts.OverrideCmd[0])
		}

		resolvedKind = kindFromBinary(opts.OverrideCmd[0])
	}

	if opts.FlagEngine != "" {
		flagKind := domain.EngineKind(opts.FlagEngine)
		if resolvedKind != "" && resolvedKind != flagKind {
			return nil, &ErrDetectConflict{Override: strings.Join(opts.OverrideCmd, " "), Flag: opts.FlagEngine}
		}

		resolvedKind = flagKind
	}

	if resolvedKind != "" {
		return build(resolvedKind, opts)
	}

	for _, bin := range candidateBinaries {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := exec.CommandContext(probeCtx, bin, "compose", "version").Run()
		cancel()

		if err == nil {
			log.WithField("engine", bin).Debug("detected container engine")

			return build(kindFromBinary(bin), opts)
		}
	}

	return nil, ErrNoEngine
}

func kindFromBinary(bin string) domain.EngineKind {
	base := bin
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}

	if strings.Contains(base, "podman") {
		return domain.EnginePodman
	}

	return domain.EngineDocker
}

// isLegacyComposeCmd rejects the standalone `docker-compose`/`podman-compose`
// binaries: only the integrated `docker compose`/`podman compose`
// subcommand form is supported, matching
// original_source/src/infra/compose.rs's is_legacy_compose_cmd.
func isLegacyComposeCmd(cmd []string) bool {
	if len(cmd) == 0 {
		return false
	}

	return strings.Contains(cmd[0], "podman-compose") || strings.Contains(cmd[0], "docker-compose")
}

func build(kind domain.EngineKind, opts DetectOptions) (Engine, error) {
	switch kind {
	case domain.EngineDocker:
		return newDockerEngine(opts.OverrideCmd)
	case domain.EnginePodman:
		return newPodmanEngine(opts.Connection, opts.OverrideCmd), nil
	default:
		return nil, fmt.Errorf("unknown engine kind %q", kind)
	}
}
