package session

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/hub"
	"github.com/ethpandaops/truss/internal/logfollow"
	"github.com/ethpandaops/truss/internal/procgroup"
	"github.com/ethpandaops/truss/internal/runconfig"
	"github.com/ethpandaops/truss/internal/sseserver"
	"github.com/sirupsen/logrus"
)

// Logs resurrects a log hub and fan-out server for an already-running
// run, starts one reader per non-proxy container, and blocks until stop
// is closed.
func Logs(ctx context.Context, log logrus.FieldLogger, engine engineadapter.Engine, runID string, cfg runconfig.Config, stop <-chan struct{}) error {
	infos, err := containersForRun(ctx, engine, runID)
	if err != nil {
		return err
	}

	aliases := aliasMap(infos)
	services := serviceList(infos, aliases)

	logHub := hub.NewLogHub(constants.LogHistorySize)

	srv, err := sseserver.New(log, logHub, hub.NewEdgeHub(), hub.NewCallHub(constants.CallHistorySize), services)
	if err != nil {
		return fmt.Errorf("start fan-out server: %w", err)
	}

	go srv.Serve(stop)
	log.WithField("addr", srv.Addr()).Info("fan-out server listening")

	follower := logfollow.New(log, logHub, logfollow.Options{
		Color:      cfg.LogColor,
		Timestamps: cfg.LogTimestamps,
		EmitStdout: true,
	})

	var wg sync.WaitGroup

	for _, info := range infos {
		if isProxyContainer(info) || info.ServiceName == "" {
			continue
		}

		name := info.ServiceName
		if original, ok := aliases[name]; ok {
			name = original
		}

		startLogReader(log, engine, follower, info.ID, name, cfg.LogTimestamps, stop, &wg)
	}

	<-stop

	follower.Wait()
	wg.Wait()

	return nil
}

func startLogReader(log logrus.FieldLogger, engine engineadapter.Engine, follower *logfollow.Follower, containerID, service string, timestamps bool, stop <-chan struct{}, wg *sync.WaitGroup) {
	args := engine.LogsCommand(containerID, timestamps)

	//nolint:gosec // args come from the engine adapter's own command builder
	cmd := exec.Command(args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.WithError(err).WithField("service", service).Warn("failed to attach log reader stdout")

		return
	}

	group, err := procgroup.Start("logs-"+service, cmd)
	if err != nil {
		log.WithError(err).WithField("service", service).Warn("failed to start log reader")

		return
	}

	wg.Add(1)

	go func() {
		defer wg.Done()
		<-stop
		_ = group.Stop(constants.LogWorkerStopGrace)
	}()

	follower.Follow(service, stdout, stop)
}
