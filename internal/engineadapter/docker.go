package engineadapter

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
)

// dockerEngine drives the Docker daemon directly through the SDK for
// container enumeration and inspection, and shells out to `docker compose`
// for the compose-level operations it does not itself wrap.
type dockerEngine struct {
	cli        *client.Client
	composeCmd []string
}

func newDockerEngine(composeCmd []string) (Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}

	if len(composeCmd) == 0 {
		composeCmd = []string{"docker", "compose"}
	}

	return &dockerEngine{cli: cli, composeCmd: composeCmd}, nil
}

func (e *dockerEngine) Kind() domain.EngineKind { return domain.EngineDocker }

func (e *dockerEngine) ComposeArgs() []string { return e.composeCmd }

func (e *dockerEngine) CollectContainerIDs(ctx context.Context, labels map[string]string, scope domain.Scope) ([]string, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     scope == domain.ScopeAll,
		Filters: args,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}

	return ids, nil
}

func (e *dockerEngine) CollectContainerIDsByLabelKey(ctx context.Context, key string, scope domain.Scope) ([]string, error) {
	args := filters.NewArgs()
	args.Add("label", key)

	containers, err := e.cli.ContainerList(ctx, container.ListOptions{
		All:     scope == domain.ScopeAll,
		Filters: args,
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}

	return ids, nil
}

func (e *dockerEngine) Inspect(ctx context.Context, ids []string) ([]domain.ContainerInfo, error) {
	infos := make([]domain.ContainerInfo, 0, len(ids))

	for _, id := range ids {
		inspected, err := e.cli.ContainerInspect(ctx, id)
		if err != nil {
			// Missing/malformed inspect results yield a zero-value entry,
			// never an error for the batch — per §4.1.
			infos = append(infos, domain.ContainerInfo{ID: id})

			continue
		}

		info := domain.ContainerInfo{ID: id}
		if inspected.Config != nil {
			info.ServiceName = inspected.Config.Labels[constants.LabelService]
			info.Labels = inspected.Config.Labels
		}

		if inspected.NetworkSettings != nil {
			for _, net := range inspected.NetworkSettings.Networks {
				if net == nil {
					continue
				}

				if net.IPAddress != "" {
					info.IPv4 = append(info.IPv4, net.IPAddress)
				}

				if net.GlobalIPv6Address != "" {
					info.IPv6 = append(info.IPv6, net.GlobalIPv6Address)
				}
			}
		}

		infos = append(infos, info)
	}

	return infos, nil
}

func (e *dockerEngine) ResolveServiceName(ctx context.Context, project, id string) (string, error) {
	inspected, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("inspect %s: %w", id, err)
	}

	if inspected.Config != nil {
		if name, ok := inspected.Config.Labels[constants.LabelService]; ok && name != "" {
			return name, nil
		}
	}

	return stripServiceSuffix(strings.TrimPrefix(inspected.Name, "/"), project), nil
}

func (e *dockerEngine) LogsCommand(id string, timestamps bool) []string {
	args := []string{"docker", "logs", "--follow"}
	if timestamps {
		args = append(args, "--timestamps")
	}

	return append(args, id)
}

func (e *dockerEngine) CleanupProject(ctx context.Context, composeArgs []string, derivedFile, project string, extraArgs []string) error {
	args := append(append([]string{}, composeArgs[1:]...), "-p", project, "-f", derivedFile, "down", "--remove-orphans")
	args = append(args, extraArgs...)

	//nolint:gosec // composeArgs/derivedFile/project are internally constructed, not user shell input
	cmd := exec.CommandContext(ctx, composeArgs[0], args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compose down: %w", err)
	}

	return e.forceRemoveStragglers(ctx, project)
}

func (e *dockerEngine) forceRemoveStragglers(ctx context.Context, project string) error {
	ids, err := e.CollectContainerIDs(ctx, map[string]string{constants.LabelProject: project}, domain.ScopeAll)
	if err != nil {
		return nil //nolint:nilerr // cleanup is best-effort, never fatal
	}

	for _, id := range ids {
		_ = e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	}

	return nil
}

func (e *dockerEngine) FollowsInThread() bool   { return true }
func (e *dockerEngine) SupportsWatchdog() bool  { return false }
func (e *dockerEngine) ManualLogFollow() bool   { return true }
func (e *dockerEngine) EmitStdoutForLogs() bool { return false }
