package traffic

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/procgroup"
	"github.com/sirupsen/logrus"
)

// Follower discovers proxy containers for a run, reads their access logs
// and tap trace files, and promotes what it finds into a sink. It is
// active only when the run has at least one proxy service.
type Follower struct {
	log      logrus.FieldLogger
	engine   engineadapter.Engine
	sink     domain.ObservationSink
	resolver domain.Resolver
	runDir   string

	mu   sync.Mutex
	seen map[string]*procgroup.Group

	wg sync.WaitGroup
}

// New creates a Follower that promotes observations from every proxy
// container of runID into sink, resolving peers through resolver. runDir
// is the run's persisted-state directory, used to locate each service's
// tap/<service> drop zone.
func New(log logrus.FieldLogger, engine engineadapter.Engine, sink domain.ObservationSink, resolver domain.Resolver, runDir string) *Follower {
	return &Follower{
		log:      log.WithField("component", "traffic"),
		engine:   engine,
		sink:     sink,
		resolver: resolver,
		runDir:   runDir,
		seen:     make(map[string]*procgroup.Group),
	}
}

// Run polls for proxy containers carrying runID's label every
// constants.ContainerPollInterval, spawning a reader for each newly seen
// container, until stop is closed. It then waits for every spawned reader
// to finish before returning.
func (f *Follower) Run(ctx context.Context, runID domain.RunID, stop <-chan struct{}) {
	ticker := time.NewTicker(constants.ContainerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			f.stopAll()
			f.wg.Wait()

			return
		case <-ticker.C:
			f.discover(ctx, runID, stop)
		}
	}
}

func (f *Follower) discover(ctx context.Context, runID domain.RunID, stop <-chan struct{}) {
	ids, err := f.engine.CollectContainerIDs(ctx, map[string]string{
		constants.LabelRunID: string(runID),
		constants.LabelProxy: "true",
	}, domain.ScopeRunning)
	if err != nil {
		f.log.WithError(err).Debug("collect proxy containers")

		return
	}

	infos, err := f.engine.Inspect(ctx, ids)
	if err != nil {
		f.log.WithError(err).Debug("inspect proxy containers")

		return
	}

	for _, info := range infos {
		f.mu.Lock()
		_, known := f.seen[info.ID]
		f.mu.Unlock()

		if known {
			continue
		}

		f.mu.Lock()
		f.seen[info.ID] = nil
		f.mu.Unlock()

		service := info.ServiceName
		isEgress := service == constants.EgressService
		tapDir := filepath.Join(f.runDir, constants.TapDirName, service)

		f.startContainer(info.ID, service, isEgress, tapDir, stop)
	}
}

func (f *Follower) startContainer(id, service string, isEgress bool, tapDir string, stop <-chan struct{}) {
	hasTap := dirExists(tapDir)

	args := f.engine.LogsCommand(id, false)
	if len(args) == 0 {
		f.log.WithField("service", service).Warn("no logs command for proxy container")

		return
	}

	cmd := exec.Command(args[0], args[1:]...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		f.log.WithError(err).WithField("service", service).Warn("attach stdout for traffic reader")

		return
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		f.log.WithError(err).WithField("service", service).Warn("attach stderr for traffic reader")

		return
	}

	group, err := procgroup.Start(service, cmd)
	if err != nil {
		f.log.WithError(err).WithField("service", service).Warn("spawn traffic reader")

		return
	}

	f.mu.Lock()
	f.seen[id] = group
	f.mu.Unlock()

	f.wg.Add(2)

	go func() {
		defer f.wg.Done()

		f.readAccessStream(stdout, service, isEgress, hasTap)
	}()

	go func() {
		defer f.wg.Done()

		f.readAccessStream(stderr, service, isEgress, hasTap)
	}()

	if hasTap {
		f.wg.Add(1)

		go func() {
			defer f.wg.Done()

			f.pollTapDir(tapDir, service, isEgress, stop)
		}()
	}
}

func (f *Follower) readAccessStream(r io.Reader, service string, isEgress, hasTap bool) {
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			f.handleAccessLine(strings.TrimRight(line, "\r\n"), service, isEgress, hasTap)
		}

		if err != nil {
			return
		}
	}
}

func (f *Follower) handleAccessLine(line, service string, isEgress, hasTap bool) {
	rec, ok := ParseAccessLogLine([]byte(line))
	if !ok {
		return
	}

	if rec.IsHTTPEnvelope() && hasTap {
		// The tap file carries the richer version of this same request.
		return
	}

	obs, ok := PromoteAccessRecord(rec, nowMs(), service, isEgress, f.resolver)
	if !ok {
		return
	}

	f.sink.Observe(obs)
}

func (f *Follower) pollTapDir(dir, service string, isEgress bool, stop <-chan struct{}) {
	ticker := time.NewTicker(constants.ContainerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.drainTapDir(dir, service, isEgress)
		}
	}
}

func (f *Follower) drainTapDir(dir, service string, isEgress bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		trace, ok, err := ParseTapTrace(data)
		if err != nil {
			f.log.WithError(err).WithField("service", service).Debug("parse tap trace")
		}

		if ok {
			http := PromoteTapTrace(trace, nowMs(), service, isEgress, f.resolver)
			f.sink.Observe(domain.Observation{Kind: domain.ObservationHTTP, HTTP: &http})
		}

		_ = os.Remove(path)
	}
}

func (f *Follower) stopAll() {
	f.mu.Lock()
	groups := make([]*procgroup.Group, 0, len(f.seen))

	for _, g := range f.seen {
		if g != nil {
			groups = append(groups, g)
		}
	}
	f.mu.Unlock()

	for _, g := range groups {
		_ = g.Stop(constants.LogWorkerStopGrace)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
