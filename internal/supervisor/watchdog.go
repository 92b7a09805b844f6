package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/procgroup"
	"github.com/sirupsen/logrus"
)

// spawnWatchdog re-execs this binary in internal watchdog mode, in its
// own process group, so it survives a SIGKILL of the supervisor itself
// and still tears the project down.
func (s *Supervisor) spawnWatchdog(runID domain.RunID, project, derivedPath string) (*procgroup.Group, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}

	args := []string{"--watchdog", strconv.Itoa(os.Getpid()), string(runID), project, derivedPath}
	if s.cfg.Connection != "" {
		args = append(args, s.cfg.Connection)
	}

	//nolint:gosec // self is os.Executable(), args are internally constructed
	cmd := exec.Command(self, args...)

	return procgroup.Start("watchdog", cmd)
}

// RunWatchdog is the entry point for a process launched with --watchdog.
// It polls the parent pid until it is gone, then drives engine cleanup
// exactly once, per §4.3's "guarantees cleanup even against SIGKILL"
// requirement. Only reached when the engine reports SupportsWatchdog().
func RunWatchdog(ctx context.Context, log logrus.FieldLogger, engine engineadapter.Engine, parentPID int, project, derivedPath string) error {
	ticker := time.NewTicker(constants.WatchdogPollPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if !processAlive(parentPID) {
			break
		}
	}

	log.WithField("project", project).Info("watchdog: parent gone, running cleanup")

	return engine.CleanupProject(ctx, engine.ComposeArgs(), derivedPath, project, nil)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}
