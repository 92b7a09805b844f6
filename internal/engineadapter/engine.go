// Package engineadapter provides a uniform façade over the two supported
// container runtimes (Docker, Podman): list containers by label, inspect a
// container, stream logs, and tear down a project. Docker operations talk
// to the daemon directly through the Docker SDK; Podman has no first-party
// Go client in this stack so its operations shell out to the podman CLI.
package engineadapter

import (
	"context"
	"fmt"

	"github.com/ethpandaops/truss/internal/domain"
)

// Engine is the uniform interface the supervisor, followers, and session
// commands drive. Per-kind asymmetries (who follows logs in a goroutine,
// who needs a watchdog) are exposed as capability predicates rather than
// requiring callers to branch on Kind.
type Engine interface {
	Kind() domain.EngineKind

	// ComposeArgs returns the argument vector for invoking this engine's
	// compose subcommand. When a TRUSS_COMPOSE_CMD override was
	// configured it is returned verbatim for every invocation; otherwise
	// it derives the default integrated form (e.g. []string{"docker",
	// "compose"}), honoring any connection override.
	ComposeArgs() []string

	// CollectContainerIDs returns container IDs matching an AND of label
	// equalities. Scope selects running-only vs all.
	CollectContainerIDs(ctx context.Context, labels map[string]string, scope domain.Scope) ([]string, error)

	// CollectContainerIDsByLabelKey returns container IDs carrying key
	// with any value. Used by session `list` to discover every run
	// without already knowing a run id.
	CollectContainerIDsByLabelKey(ctx context.Context, key string, scope domain.Scope) ([]string, error)

	// Inspect returns per-container id, service-name label, and addresses.
	Inspect(ctx context.Context, ids []string) ([]domain.ContainerInfo, error)

	// ResolveServiceName resolves the original service label, falling back
	// to parsing the container name when the label is absent.
	ResolveServiceName(ctx context.Context, project, id string) (string, error)

	// LogsCommand returns an argument vector that, spawned as a
	// subprocess, streams that container's logs in follow mode.
	LogsCommand(id string, timestamps bool) []string

	// CleanupProject issues a compose down, removes any residual grouping
	// constructs the engine creates (pods, for Podman), and force-removes
	// stragglers carrying the project label. Containers are matched by that
	// label only, not by name prefix.
	CleanupProject(ctx context.Context, composeArgs []string, derivedFile, project string, extraArgs []string) error

	// FollowsInThread reports whether per-container log/traffic readers
	// for this engine should be driven from a goroutine inside this
	// process (true) or are expected to already stream via inherited
	// stdio (false, not applicable to either supported engine today, kept
	// for parity with the capability-predicate shape).
	FollowsInThread() bool

	// SupportsWatchdog reports whether a watchdog child process should be
	// spawned to guarantee cleanup against SIGKILL of the supervisor.
	SupportsWatchdog() bool

	// ManualLogFollow reports whether `up` itself does not stream logs and
	// a separate `logs --follow` subprocess per container is required.
	ManualLogFollow() bool

	// EmitStdoutForLogs reports whether the engine's own `up` invocation
	// writes service logs to stdout (and so should be suppressed when the
	// log follower is also active, to avoid duplicate lines).
	EmitStdoutForLogs() bool
}

// DetectOptions configures engine detection.
type DetectOptions struct {
	// OverrideCmd is the TRUSS_COMPOSE_CMD environment override, already
	// split into argv form (e.g. []string{"podman", "compose"}).
	OverrideCmd []string
	// FlagEngine is an explicit --engine podman|docker flag value, empty
	// if not passed.
	FlagEngine string
	// Connection is the remote engine endpoint override, used only when
	// the resolved engine is podman.
	Connection string
}

// ErrDetectConflict is returned when an override environment variable and
// an explicit --engine flag name different engines.
type ErrDetectConflict struct {
	Override string
	Flag     string
}

func (e *ErrDetectConflict) Error() string {
	return fmt.Sprintf("compose command override %q conflicts with --engine %q", e.Override, e.Flag)
}

// ErrNoEngine is returned when no candidate engine binary is found in PATH.
var ErrNoEngine = fmt.Errorf("no container engine found in PATH (tried docker, podman)")
