// Package session implements the §4.8 commands that operate on runs
// already started by a supervisor invocation in some other process:
// list, logs, traffic, and down. Every one of them rediscovers its
// target entirely from container labels, never from in-memory state,
// since the process that ran derivation is long gone.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
)

// ErrRunNotFound is returned when no container carries the given run id.
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("no containers found for run %q", e.RunID)
}

func containersForRun(ctx context.Context, engine engineadapter.Engine, runID string) ([]domain.ContainerInfo, error) {
	ids, err := engine.CollectContainerIDs(ctx, map[string]string{
		constants.LabelRunID: runID,
	}, domain.ScopeAll)
	if err != nil {
		return nil, fmt.Errorf("list containers for run %s: %w", runID, err)
	}

	if len(ids) == 0 {
		return nil, &ErrRunNotFound{RunID: runID}
	}

	infos, err := engine.Inspect(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("inspect containers for run %s: %w", runID, err)
	}

	return infos, nil
}

// aliasMap rebuilds the app-variant-to-original-name map purely from the
// service names a run's containers carry: the derivation step always
// names an app variant "<original>-app", so the suffix alone is enough to
// invert it without needing the in-memory derive.Result.
func aliasMap(infos []domain.ContainerInfo) map[string]string {
	aliases := make(map[string]string)

	for _, info := range infos {
		if strings.HasSuffix(info.ServiceName, constants.AppServiceSuffix) {
			aliases[info.ServiceName] = strings.TrimSuffix(info.ServiceName, constants.AppServiceSuffix)
		}
	}

	return aliases
}

// serviceList derives a minimal ServiceInfo list for the resurrected
// fan-out server's /api/services endpoint. Published endpoints aren't
// recoverable from labels alone, so every entry reports Exposed: false;
// the dashboard still shows which services exist.
func serviceList(infos []domain.ContainerInfo, aliases map[string]string) []domain.ServiceInfo {
	seen := make(map[string]bool)

	services := make([]domain.ServiceInfo, 0, len(infos))

	for _, info := range infos {
		if isProxyContainer(info) {
			continue
		}

		name := info.ServiceName
		if original, ok := aliases[name]; ok {
			name = original
		}

		if name == "" || seen[name] {
			continue
		}

		seen[name] = true

		services = append(services, domain.ServiceInfo{Name: name})
	}

	return services
}

func isProxyContainer(info domain.ContainerInfo) bool {
	if info.Labels[constants.LabelProxy] != "" {
		return true
	}

	return info.ServiceName == constants.EgressService
}

func firstLabel(infos []domain.ContainerInfo, key string) string {
	for _, info := range infos {
		if v := info.Labels[key]; v != "" {
			return v
		}
	}

	return ""
}
