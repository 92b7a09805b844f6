package engineadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
)

// podmanEngine shells out to the podman CLI for every operation: this
// stack carries no first-party Podman Go client, and the original
// implementation shells out too.
type podmanEngine struct {
	connection string
	composeCmd []string
}

func newPodmanEngine(connection string, composeCmd []string) Engine {
	return &podmanEngine{connection: connection, composeCmd: composeCmd}
}

func (e *podmanEngine) Kind() domain.EngineKind { return domain.EnginePodman }

func (e *podmanEngine) baseArgs() []string {
	args := []string{"podman"}
	if e.connection != "" {
		args = append(args, "--connection", e.connection)
	}

	return args
}

// ComposeArgs returns the override compose command verbatim when one was
// configured (§6's TRUSS_COMPOSE_CMD); otherwise it derives `podman
// [--connection c] compose` from the connection override alone.
func (e *podmanEngine) ComposeArgs() []string {
	if len(e.composeCmd) > 0 {
		return e.composeCmd
	}

	return append(e.baseArgs(), "compose")
}

func (e *podmanEngine) run(ctx context.Context, args ...string) (string, error) {
	full := append(e.baseArgs(), args...)

	//nolint:gosec // args are internally constructed from resolved labels/ids, not raw user input
	cmd := exec.CommandContext(ctx, full[0], full[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w (%s)", strings.Join(full, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

func (e *podmanEngine) CollectContainerIDs(ctx context.Context, labels map[string]string, scope domain.Scope) ([]string, error) {
	args := []string{"ps", "-q", "--no-trunc"}
	if scope == domain.ScopeAll {
		args = append(args, "--all")
	}

	for k, v := range labels {
		args = append(args, "--filter", fmt.Sprintf("label=%s=%s", k, v))
	}

	out, err := e.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("podman ps: %w", err)
	}

	var ids []string

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}

	return ids, nil
}

func (e *podmanEngine) CollectContainerIDsByLabelKey(ctx context.Context, key string, scope domain.Scope) ([]string, error) {
	args := []string{"ps", "-q", "--no-trunc", "--filter", "label=" + key}
	if scope == domain.ScopeAll {
		args = append(args, "--all")
	}

	out, err := e.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("podman ps: %w", err)
	}

	var ids []string

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			ids = append(ids, line)
		}
	}

	return ids, nil
}

func (e *podmanEngine) Inspect(ctx context.Context, ids []string) ([]domain.ContainerInfo, error) {
	infos := make([]domain.ContainerInfo, 0, len(ids))

	for _, id := range ids {
		info := domain.ContainerInfo{ID: id}

		if svc, err := e.run(ctx, "inspect", "--format",
			fmt.Sprintf("{{ index .Config.Labels \"%s\" }}", constants.LabelService), id); err == nil {
			info.ServiceName = strings.TrimSpace(svc)
		}

		if ip4, err := e.run(ctx, "inspect", "--format", "{{ .NetworkSettings.IPAddress }}", id); err == nil {
			if trimmed := strings.TrimSpace(ip4); trimmed != "" {
				info.IPv4 = append(info.IPv4, trimmed)
			}
		}

		if raw, err := e.run(ctx, "inspect", "--format", "{{ json .Config.Labels }}", id); err == nil {
			var labels map[string]string
			if json.Unmarshal([]byte(strings.TrimSpace(raw)), &labels) == nil {
				info.Labels = labels
			}
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func (e *podmanEngine) ResolveServiceName(ctx context.Context, project, id string) (string, error) {
	if out, err := e.run(ctx, "inspect", "--format",
		fmt.Sprintf("{{ index .Config.Labels \"%s\" }}", constants.LabelService), id); err == nil {
		if name := strings.TrimSpace(out); name != "" {
			return name, nil
		}
	}

	out, err := e.run(ctx, "inspect", "--format", "{{ .Name }}", id)
	if err != nil {
		return "", fmt.Errorf("resolve service name for %s: %w", id, err)
	}

	return stripServiceSuffix(strings.TrimSpace(out), project), nil
}

func (e *podmanEngine) LogsCommand(id string, timestamps bool) []string {
	args := append(e.baseArgs(), "logs", "--follow")
	if timestamps {
		args = append(args, "--timestamps")
	}

	return append(args, id)
}

func (e *podmanEngine) CleanupProject(ctx context.Context, composeArgs []string, derivedFile, project string, extraArgs []string) error {
	args := append(append([]string{}, composeArgs[1:]...), "-p", project, "-f", derivedFile, "down", "--remove-orphans")
	args = append(args, extraArgs...)

	if _, err := e.run(ctx, args...); err != nil {
		return fmt.Errorf("compose down: %w", err)
	}

	// Remove the pod Podman implicitly groups a compose project's
	// containers into; this is a no-op failure mode (pod may already be
	// gone), so errors are swallowed per the best-effort cleanup policy.
	_, _ = e.run(ctx, "pod", "rm", "-f", project)

	return e.forceRemoveStragglers(ctx, project)
}

func (e *podmanEngine) forceRemoveStragglers(ctx context.Context, project string) error {
	ids, err := e.CollectContainerIDs(ctx, map[string]string{constants.LabelProject: project}, domain.ScopeAll)
	if err != nil {
		return nil //nolint:nilerr // cleanup is best-effort, never fatal
	}

	for _, id := range ids {
		_, _ = e.run(ctx, "rm", "-f", id)
	}

	return nil
}

func (e *podmanEngine) FollowsInThread() bool   { return true }
func (e *podmanEngine) SupportsWatchdog() bool  { return true }
func (e *podmanEngine) ManualLogFollow() bool   { return true }
func (e *podmanEngine) EmitStdoutForLogs() bool { return false }
