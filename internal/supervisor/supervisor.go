// Package supervisor owns one run end to end: derivation, the engine
// subprocess, the optional log/traffic followers and fan-out server, and
// cleanup, per §4.3 and the state machine in §4.10.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/truss/internal/compose"
	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/derive"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/hub"
	"github.com/ethpandaops/truss/internal/logfollow"
	"github.com/ethpandaops/truss/internal/procgroup"
	"github.com/ethpandaops/truss/internal/resolver"
	"github.com/ethpandaops/truss/internal/runconfig"
	"github.com/ethpandaops/truss/internal/sseserver"
	"github.com/ethpandaops/truss/internal/traffic"
	executil "github.com/ethpandaops/truss/pkg/exec"
	"github.com/ethpandaops/truss/pkg/ui"
	"github.com/sirupsen/logrus"
)

// State is the supervisor's position in the §4.10 state machine.
type State int

const (
	StateInitializing State = iota
	StateDerived
	StateRunning
	StateFollowing
	StateCleaningUp
	StateTerminated
)

// Options configures one supervisor invocation.
type Options struct {
	Subcommand  string
	RawArgs     []string // subcommand arguments as given, before planning
	ComposeFile string
	Project     string // empty to derive one from the run id
	Traffic     bool
	Egress      bool
	Verbose     bool
}

// Supervisor drives one run.
type Supervisor struct {
	log    logrus.FieldLogger
	engine engineadapter.Engine
	cfg    runconfig.Config
	opts   Options

	state atomic.Int32

	stop     chan struct{}
	stopOnce sync.Once
	signaled atomic.Bool
	exitCode atomic.Int32

	registryMu sync.Mutex
	children   []*procgroup.Group
}

// New builds a Supervisor bound to engine and the resolved run config.
func New(log logrus.FieldLogger, engine engineadapter.Engine, cfg runconfig.Config, opts Options) *Supervisor {
	return &Supervisor{
		log:    log.WithField("component", "supervisor"),
		engine: engine,
		cfg:    cfg,
		opts:   opts,
		stop:   make(chan struct{}),
	}
}

// Stop flips the stop flag, idempotently. signaled marks whether this
// stop originated from an OS signal, which affects the final exit code.
func (s *Supervisor) Stop(signaled bool) {
	if signaled {
		s.signaled.Store(true)
	}

	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Supervisor) setState(st State) {
	s.state.Store(int32(st))
}

// State reports the supervisor's current position in the state machine.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// ExitCode reports the code the caller should exit the process with,
// valid only after Run returns.
func (s *Supervisor) ExitCode() int {
	return int(s.exitCode.Load())
}

// Run executes the full run lifecycle and blocks until cleanup has
// completed (either the engine subprocess exited normally, the stop flag
// was flipped, or a fatal error occurred).
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateInitializing)

	runID := domain.NewRunID()
	project := s.opts.Project
	if project == "" {
		project = domain.ProjectName(constants.ProjectPrefix, runID)
	}

	sourceDir := filepath.Dir(s.opts.ComposeFile)

	composeDriver := compose.NewDriver(s.log, s.engine.ComposeArgs())

	canonical, err := composeDriver.Canonicalize(ctx, s.opts.ComposeFile)
	if err != nil {
		s.exitCode.Store(constants.ExitFatal)

		return fmt.Errorf("canonicalize compose document: %w", err)
	}

	result, err := s.deriveWithRetry(canonical, runID, project, sourceDir)
	if err != nil {
		s.exitCode.Store(constants.ExitFatal)

		return err
	}

	s.setState(StateDerived)

	subPlan := PlanSubcommand(s.opts.Subcommand, s.opts.RawArgs, s.cfg)
	followPlan := PlanFollow(subPlan, s.opts.Traffic, s.cfg.LogUI)

	if followPlan.Warning != "" {
		s.log.Warn(followPlan.Warning)
	}

	staleDerivedPath := filepath.Join(sourceDir, constants.RunDirName, project, constants.DerivedFile)
	if err := s.cleanupStaleRun(ctx, project, staleDerivedPath); err != nil {
		s.log.WithError(err).Warn("stale-run cleanup failed")
	}

	var watchdog *procgroup.Group
	if s.engine.SupportsWatchdog() {
		watchdog, err = s.spawnWatchdog(runID, project, result.DerivedPath)
		if err != nil {
			s.log.WithError(err).Warn("failed to spawn watchdog")
		}
	}

	if subPlan.NoCache {
		if err := s.runStandaloneBuild(ctx, result.DerivedPath, project); err != nil {
			s.exitCode.Store(constants.ExitFatal)

			return fmt.Errorf("build --no-cache: %w", err)
		}
	}

	composeArgs := s.engine.ComposeArgs()
	engineArgs := append(append([]string{}, composeArgs[1:]...), "-p", project, "-f", result.DerivedPath)
	engineArgs = append(engineArgs, subPlan.Args...)

	//nolint:gosec // composeArgs/project/derivedPath are internally constructed
	cmd := exec.CommandContext(ctx, composeArgs[0], engineArgs...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	engineProc, err := procgroup.Start("engine", cmd)
	if err != nil {
		s.exitCode.Store(constants.ExitFatal)

		return fmt.Errorf("spawn engine subprocess: %w", err)
	}

	s.setState(StateRunning)

	var sinks runSinks
	if followPlan.FollowLogs || followPlan.FollowTraffic {
		sinks = s.startFollowers(ctx, runID, project, result, followPlan)
	}

	waitErr := s.waitForEngine(engineProc)

	if followPlan.FollowLogs || followPlan.FollowTraffic {
		s.setState(StateFollowing)
		sinks.wait()
	}

	s.setState(StateCleaningUp)

	if followPlan.CleanupOnExit {
		s.cleanup(ctx, composeArgs, result, project)
	}

	if watchdog != nil {
		_ = watchdog.Stop(constants.WatchdogStopGrace)
	}

	s.setState(StateTerminated)

	if s.signaled.Load() {
		s.exitCode.Store(constants.ExitSignal)

		return nil
	}

	if waitErr != nil {
		s.exitCode.Store(exitCodeFromError(waitErr))

		return nil
	}

	s.exitCode.Store(constants.ExitSuccess)

	return nil
}

// deriveWithRetry implements §7's derivation retry policy: when traffic
// was requested, one retry with traffic (and egress) disabled is allowed
// before the error becomes fatal.
func (s *Supervisor) deriveWithRetry(canonical []byte, runID domain.RunID, project, sourceDir string) (*derive.Result, error) {
	opts := derive.Options{
		RunID:           runID,
		Project:         project,
		StartedAt:       time.Now().UTC(),
		SourceDir:       sourceDir,
		SourceFile:      s.opts.ComposeFile,
		Tool:            strings.TrimPrefix(constants.RunDirName, "."),
		Traffic:         s.opts.Traffic,
		Egress:          s.opts.Traffic && s.opts.Egress,
		ProxyImage:      s.cfg.ProxyImage,
		DisableGrouping: s.engine.Kind() == domain.EnginePodman,
	}

	result, err := derive.Derive(canonical, opts)
	if err == nil {
		return result, nil
	}

	if !opts.Traffic {
		return nil, fmt.Errorf("derive compose document: %w", err)
	}

	s.log.WithError(err).Warn("derivation failed with traffic enabled, retrying with traffic disabled")

	opts.Traffic = false
	opts.Egress = false

	result, retryErr := derive.Derive(canonical, opts)
	if retryErr != nil {
		return nil, fmt.Errorf("derive compose document (retry without traffic): %w", retryErr)
	}

	s.opts.Traffic = false

	return result, nil
}

// cleanupStaleRun implements §4.3's "previous run left containers behind"
// check: all-scope non-empty but running-scope empty.
func (s *Supervisor) cleanupStaleRun(ctx context.Context, project, derivedPath string) error {
	labels := map[string]string{constants.LabelProject: project}

	running, err := s.engine.CollectContainerIDs(ctx, labels, domain.ScopeRunning)
	if err != nil {
		return err
	}

	if len(running) > 0 {
		return nil
	}

	all, err := s.engine.CollectContainerIDs(ctx, labels, domain.ScopeAll)
	if err != nil {
		return err
	}

	if len(all) == 0 {
		return nil
	}

	s.log.WithField("project", project).Info("removing stale containers from a previous run")

	return s.engine.CleanupProject(ctx, s.engine.ComposeArgs(), derivedPath, project, nil)
}

func (s *Supervisor) runStandaloneBuild(ctx context.Context, derivedFile, project string) error {
	composeArgs := s.engine.ComposeArgs()
	args := append(append([]string{}, composeArgs[1:]...), "-p", project, "-f", derivedFile, "build", "--no-cache")

	//nolint:gosec // composeArgs/derivedFile/project are internally constructed
	cmd := exec.CommandContext(ctx, composeArgs[0], args...)

	if s.opts.Verbose {
		return executil.RunCmd(cmd, true)
	}

	spinner := ui.NewSpinner("building images (--no-cache)")

	if err := executil.RunCmd(cmd, false); err != nil {
		spinner.Fail("build --no-cache failed")

		return err
	}

	spinner.Success("images built")

	return nil
}

func (s *Supervisor) waitForEngine(proc *procgroup.Group) error {
	select {
	case <-proc.Done():
		return proc.Wait()
	case <-s.stop:
		_ = proc.Stop(constants.EngineStopGrace)

		return proc.Wait()
	}
}

type runSinks struct {
	logFollower *logfollow.Follower
	trafficFlr  *traffic.Follower
	sseServer   *sseserver.Server
	cmdsDone    chan struct{}
}

func (rs runSinks) wait() {
	if rs.logFollower != nil {
		rs.logFollower.Wait()
	}

	if rs.cmdsDone != nil {
		<-rs.cmdsDone
	}
}

// startFollowers wires up the log hub, traffic hub, resolver, followers,
// and fan-out server for an attached `up` run.
func (s *Supervisor) startFollowers(ctx context.Context, runID domain.RunID, project string, result *derive.Result, plan FollowPlan) runSinks {
	logHub := hub.NewLogHub(constants.LogHistorySize)
	sink := hub.NewTrafficSink(constants.CallHistorySize)

	srv, err := sseserver.New(s.log, logHub, sink.Edges, sink.Calls, result.Services)
	if err != nil {
		s.log.WithError(err).Warn("failed to start fan-out server")
	} else {
		go srv.Serve(s.stop)
		s.log.WithField("addr", srv.Addr()).Info("fan-out server listening")
	}

	rs := runSinks{sseServer: srv}

	if plan.FollowLogs {
		follower := logfollow.New(s.log, logHub, logfollow.Options{
			Color:      s.cfg.LogColor,
			Timestamps: s.cfg.LogTimestamps,
			EmitStdout: !s.engine.EmitStdoutForLogs(),
		})
		rs.logFollower = follower

		go s.runLogDiscovery(ctx, follower, runID, project, result.AppAliasMap)
	}

	if plan.FollowTraffic {
		snap, err := resolver.FromEngine(ctx, s.engine, runID, result.AppAliasMap)
		if err != nil {
			s.log.WithError(err).Warn("failed to build resolver snapshot for traffic follower")
		} else {
			trafficFollower := traffic.New(s.log, s.engine, sink, snap, result.RunDir)
			rs.trafficFlr = trafficFollower

			go trafficFollower.Run(ctx, runID, s.stop)
		}
	}

	return rs
}

// cleanup runs exactly once per run: terminates tracked children, tears
// down the engine project, and removes the derived run directory unless
// the run should retain it for a later session `down`.
func (s *Supervisor) cleanup(ctx context.Context, composeArgs []string, result *derive.Result, project string) {
	s.registryMu.Lock()
	children := append([]*procgroup.Group{}, s.children...)
	s.registryMu.Unlock()

	var wg sync.WaitGroup

	for _, c := range children {
		wg.Add(1)

		go func(c *procgroup.Group) {
			defer wg.Done()

			_ = c.Stop(constants.LogWorkerStopGrace)
		}(c)
	}

	wg.Wait()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), constants.EngineStopGrace+5*time.Second)
	defer cancel()

	if err := s.engine.CleanupProject(cleanupCtx, composeArgs, result.DerivedPath, project, nil); err != nil {
		s.log.WithError(err).Warn("engine cleanup failed")
	}

	if err := os.RemoveAll(result.RunDir); err != nil {
		s.log.WithError(err).Warn("failed to remove derived run directory")
	}
}

func (s *Supervisor) track(g *procgroup.Group) {
	s.registryMu.Lock()
	s.children = append(s.children, g)
	s.registryMu.Unlock()
}

func exitCodeFromError(err error) int {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}

	return constants.ExitFatal
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}

	*target = ee

	return true
}
