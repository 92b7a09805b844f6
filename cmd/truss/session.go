package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/internal/runconfig"
	"github.com/ethpandaops/truss/internal/session"
	"github.com/ethpandaops/truss/pkg/ui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// newSessionCommand builds the `session` namespace: list/logs/traffic/down
// over runs that may belong to some other, long-exited process. It is kept
// as its own cobra subtree (rather than reusing the bare `down` name the
// attached compose subcommand pass-through also accepts) precisely because
// the attached and detached forms of `down` take different arguments and
// mean different things.
func newSessionCommand(log logrus.FieldLogger, flags globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and control runs started by another invocation",
	}

	cmd.AddCommand(newSessionListCommand(log, flags))
	cmd.AddCommand(newSessionLogsCommand(log, flags))
	cmd.AddCommand(newSessionTrafficCommand(log, flags))
	cmd.AddCommand(newSessionDownCommand(log, flags))

	return cmd
}

func buildSessionEngine(ctx context.Context, log logrus.FieldLogger, flags globalFlags) (engineadapter.Engine, runconfig.Config, error) {
	cfg := runconfig.Load(".", runconfig.FlagOverrides{Engine: flags.Engine})

	engine, err := engineadapter.Detect(ctx, log, engineadapter.DetectOptions{
		FlagEngine: flags.Engine,
		Connection: cfg.Connection,
	})
	if err != nil {
		return nil, cfg, fmt.Errorf("detect engine: %w", err)
	}

	return engine, cfg, nil
}

func newSessionListCommand(log logrus.FieldLogger, flags globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every run with at least one container",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildSessionEngine(cmd.Context(), log, flags)
			if err != nil {
				return err
			}

			summaries, err := session.List(cmd.Context(), engine)
			if err != nil {
				return err
			}

			if len(summaries) == 0 {
				ui.Info("no runs found")

				return nil
			}

			session.PrintRuns(summaries)

			return nil
		},
	}
}

func newSessionLogsCommand(log logrus.FieldLogger, flags globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run>",
		Short: "Stream logs for an existing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cfg, err := buildSessionEngine(cmd.Context(), log, flags)
			if err != nil {
				return err
			}

			stop := stopOnSignal()

			return session.Logs(cmd.Context(), log, engine, args[0], cfg, stop)
		},
	}
}

func newSessionTrafficCommand(log logrus.FieldLogger, flags globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "traffic <run>",
		Short: "Stream traffic observations for an existing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildSessionEngine(cmd.Context(), log, flags)
			if err != nil {
				return err
			}

			stop := stopOnSignal()

			return session.Traffic(cmd.Context(), log, engine, args[0], stop)
		},
	}
}

func newSessionDownCommand(log logrus.FieldLogger, flags globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "down <run>",
		Short: "Tear down an existing run and remove its persisted state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := buildSessionEngine(cmd.Context(), log, flags)
			if err != nil {
				return err
			}

			if err := session.Down(cmd.Context(), engine, args[0]); err != nil {
				return err
			}

			ui.Success(fmt.Sprintf("run %s torn down", args[0]))

			return nil
		},
	}
}

// stopOnSignal returns a channel closed the first time SIGINT or SIGTERM
// arrives; later signals are ignored, matching the attached run's one-shot
// semantics.
func stopOnSignal() <-chan struct{} {
	stop := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		close(stop)
	}()

	return stop
}
