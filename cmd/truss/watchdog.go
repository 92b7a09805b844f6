package main

import (
	"context"
	"strconv"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/supervisor"
	"github.com/sirupsen/logrus"
)

// runWatchdogMode is reached only via the internal `--watchdog <parent-pid>
// <run-id> <project> <derived-compose> [connection]` invocation a podman
// supervisor re-execs itself with. The run id is part of the argument
// contract (for operator visibility in `ps`) but cleanup itself only needs
// project and derived-compose path.
func runWatchdogMode(log logrus.FieldLogger, args []string) int {
	if len(args) < 4 {
		return constants.ExitUsage
	}

	parentPID, err := strconv.Atoi(args[0])
	if err != nil {
		return constants.ExitUsage
	}

	project := args[2]
	derivedPath := args[3]

	var connection string
	if len(args) > 4 {
		connection = args[4]
	}

	ctx := context.Background()

	engine, err := engineadapter.Detect(ctx, log, engineadapter.DetectOptions{
		FlagEngine: string(domain.EnginePodman),
		Connection: connection,
	})
	if err != nil {
		log.WithError(err).Error("watchdog: failed to build engine adapter")

		return constants.ExitFatal
	}

	if err := supervisor.RunWatchdog(ctx, log, engine, parentPID, project, derivedPath); err != nil {
		log.WithError(err).Error("watchdog: cleanup failed")

		return constants.ExitFatal
	}

	return constants.ExitSuccess
}
