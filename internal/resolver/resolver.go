// Package resolver builds a read-mostly IP-to-workload index snapshotted
// from a run's containers, so the traffic follower can turn a raw socket
// into the entity that owns it.
package resolver

import (
	"context"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
)

// Snapshot maps every IP address seen across a run's containers to the
// workload entity that owns it. It implements domain.Resolver.
type Snapshot struct {
	ipMap map[string]domain.Entity
}

// FromEngine inspects every running container labeled with runID and
// builds a snapshot, remapping each container's service name through
// serviceAliases (the app-variant-to-original-name map produced by
// derivation) so observed traffic appears under the user's original
// service names rather than the `<name>-app` internal ones.
func FromEngine(ctx context.Context, engine engineadapter.Engine, runID domain.RunID, serviceAliases map[string]string) (*Snapshot, error) {
	ids, err := engine.CollectContainerIDs(ctx, map[string]string{
		constants.LabelRunID: string(runID),
	}, domain.ScopeRunning)
	if err != nil {
		return nil, err
	}

	containers, err := engine.Inspect(ctx, ids)
	if err != nil {
		return nil, err
	}

	return &Snapshot{ipMap: buildIPMap(containers, serviceAliases)}, nil
}

// ResolveIP looks up the workload entity owning ip, if any.
func (s *Snapshot) ResolveIP(ip string) (domain.Entity, bool) {
	entity, ok := s.ipMap[ip]

	return entity, ok
}

func buildIPMap(containers []domain.ContainerInfo, serviceAliases map[string]string) map[string]domain.Entity {
	ipMap := make(map[string]domain.Entity)

	for _, c := range containers {
		name := c.ServiceName
		if name == "" {
			name = "unknown"
		}

		if alias, ok := serviceAliases[name]; ok {
			name = alias
		}

		instance := ""
		if len(c.ID) >= 12 {
			instance = c.ID[:12]
		} else {
			instance = c.ID
		}

		entity := domain.WorkloadEntity(name, instance)

		for _, ip := range c.IPv4 {
			ipMap[ip] = entity
		}

		for _, ip := range c.IPv6 {
			ipMap[ip] = entity
		}
	}

	return ipMap
}
