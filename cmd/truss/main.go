// Command truss wraps a local container-composition tool to give a
// single-command "run, observe, tear down" experience for a compose
// document, transparently interposing observability proxies in front of
// every eligible service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/runconfig"
	"github.com/ethpandaops/truss/internal/supervisor"
	"github.com/ethpandaops/truss/pkg/ui"
	"github.com/ethpandaops/truss/pkg/version"
	"github.com/sirupsen/logrus"
)

// Build-time variables set via ldflags.
var (
	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

func init() {
	version.Version = buildVersion
	version.Commit = buildCommit
	version.Date = buildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 1 && (args[0] == "--version" || args[0] == "-V") {
		fmt.Println(version.JSON())

		return constants.ExitSuccess
	}

	if len(args) > 0 && args[0] == "--watchdog" {
		log := logrus.New()
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		return runWatchdogMode(log, args[1:])
	}

	flags, remainder, err := parseGlobalFlags(args)
	if err != nil {
		ui.Error(err.Error())

		return constants.ExitUsage
	}

	// Internal diagnostics are hidden unless --debug is passed; ui.Error/
	// Warning/Success/Info write directly to stdout regardless, so operators
	// still see what truss is doing without the debug firehose.
	logWriter := ui.NewConditionalWriter(os.Stdout, flags.Debug)
	log := logrus.New()
	log.SetOutput(logWriter)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if flags.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if len(remainder) == 0 {
		ui.Error("usage: truss [flags] <compose-subcommand> [args...]")

		return constants.ExitUsage
	}

	subcommand, rest := remainder[0], remainder[1:]

	ui.PrintCompactBanner(version.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if subcommand == "session" {
		sessionCmd := newSessionCommand(log, flags)
		sessionCmd.SetArgs(rest)

		if err := sessionCmd.ExecuteContext(ctx); err != nil {
			ui.Error(err.Error())

			return constants.ExitFatal
		}

		return constants.ExitSuccess
	}

	return runCompose(ctx, log, flags, subcommand, rest)
}

// runCompose resolves the engine and run configuration, then hands the
// wrapped subcommand and its arguments to a Supervisor for the rest of the
// run's lifecycle.
func runCompose(ctx context.Context, log logrus.FieldLogger, flags globalFlags, subcommand string, rest []string) int {
	ui.Section(fmt.Sprintf("truss %s", subcommand))

	composeFileHint := flags.ComposeFile
	if composeFileHint == "" {
		composeFileHint = os.Getenv(constants.EnvComposeFile)
	}

	dir := "."
	if composeFileHint != "" {
		dir = filepath.Dir(composeFileHint)
	}

	overrides := runconfig.FlagOverrides{Engine: flags.Engine}
	if flags.ComposeFile != "" {
		overrides.ComposeFile = &flags.ComposeFile
	}

	cfg := runconfig.Load(dir, overrides)

	composeFile := cfg.ComposeFile
	if flags.ComposeFile == "" {
		if list := runconfig.ComposeFileList(cfg.ComposeFile); len(list) > 0 {
			composeFile = list[0]
		}
	}

	if composeFile == "" {
		ui.Error("compose file is required: pass -f/--file or set " + constants.EnvComposeFile)

		return constants.ExitUsage
	}

	engine, err := engineadapter.Detect(ctx, log, engineadapter.DetectOptions{
		OverrideCmd: cfg.ComposeCmd,
		FlagEngine:  flags.Engine,
		Connection:  cfg.Connection,
	})
	if err != nil {
		ui.Error(err.Error())

		return constants.ExitFatal
	}

	traffic := false
	if flags.TrafficSet {
		traffic = flags.Traffic
	}

	sup := supervisor.New(log, engine, cfg, supervisor.Options{
		Subcommand:  subcommand,
		RawArgs:     rest,
		ComposeFile: composeFile,
		Project:     cfg.ProjectName,
		Traffic:     traffic,
		Egress:      cfg.Egress,
		Verbose:     true,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		sup.Stop(true)
	}()

	if err := sup.Run(ctx); err != nil {
		log.WithError(err).Error("run failed")
	}

	return sup.ExitCode()
}
