package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/hub"
	"github.com/ethpandaops/truss/internal/resolver"
	"github.com/ethpandaops/truss/internal/sseserver"
	"github.com/ethpandaops/truss/internal/traffic"
	"github.com/sirupsen/logrus"
)

// Traffic resurrects a traffic hub and fan-out server for an already
// running run, additionally echoing one JSON line per HTTP call to
// stdout, and blocks until stop is closed.
func Traffic(ctx context.Context, log logrus.FieldLogger, engine engineadapter.Engine, runID string, stop <-chan struct{}) error {
	infos, err := containersForRun(ctx, engine, runID)
	if err != nil {
		return err
	}

	aliases := aliasMap(infos)
	services := serviceList(infos, aliases)

	sink := hub.NewTrafficSink(constants.CallHistorySize)
	stdoutSink := &jsonEchoSink{inner: sink}

	srv, err := sseserver.New(log, hub.NewLogHub(constants.LogHistorySize), sink.Edges, sink.Calls, services)
	if err != nil {
		return fmt.Errorf("start fan-out server: %w", err)
	}

	go srv.Serve(stop)
	log.WithField("addr", srv.Addr()).Info("fan-out server listening")

	snap, err := resolver.FromEngine(ctx, engine, domain.RunID(runID), aliases)
	if err != nil {
		return fmt.Errorf("build resolver snapshot: %w", err)
	}

	runDir := runDirFromLabels(infos)

	follower := traffic.New(log, engine, stdoutSink, snap, runDir)
	follower.Run(ctx, domain.RunID(runID), stop)

	return nil
}

func runDirFromLabels(infos []domain.ContainerInfo) string {
	derivedFile := firstLabel(infos, constants.LabelDerivedFile)
	if derivedFile == "" {
		return ""
	}

	return filepath.Dir(derivedFile)
}

// jsonEchoSink forwards every observation to inner and, for HTTP
// observations only, also writes one JSON line to stdout per §4.8.
type jsonEchoSink struct {
	inner domain.ObservationSink
}

func (s *jsonEchoSink) Observe(obs domain.Observation) {
	s.inner.Observe(obs)

	if obs.Kind != domain.ObservationHTTP || obs.HTTP == nil {
		return
	}

	line, err := json.Marshal(obs.HTTP)
	if err != nil {
		return
	}

	fmt.Fprintln(os.Stdout, string(line))
}
