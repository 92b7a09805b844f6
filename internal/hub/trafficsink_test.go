package hub

import (
	"testing"

	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrafficSinkRoutesHTTPToEdgesAndCalls(t *testing.T) {
	sink := NewTrafficSink(10)

	obs := domain.Observation{
		Kind: domain.ObservationHTTP,
		HTTP: &domain.HTTPObservation{
			AtMs:   100,
			Peer:   domain.Peer{Src: domain.WorkloadEntity("frontend", "abc123"), Dst: domain.WorkloadEntity("api", "")},
			Method: "get",
			Path:   "/health",
			Status: 200,
		},
	}

	sink.Observe(obs)

	edges := sink.Edges.Snapshot()
	require.Len(t, edges, 1)
	assert.Equal(t, domain.EdgeHTTP, edges[0].Key.Kind)
	assert.Equal(t, "frontend", edges[0].Key.From)
	assert.Equal(t, "api", edges[0].Key.To)
	assert.Equal(t, "GET", edges[0].Key.Method)
	assert.Equal(t, "/health", edges[0].Key.Route)
	assert.EqualValues(t, 1, edges[0].Stats.Count)

	_, _, calls := sink.Calls.Register(10)
	require.Len(t, calls, 1)
	assert.Equal(t, "/health", calls[0].Observation.Path)
}

func TestTrafficSinkDefaultsEmptyMethodAndPath(t *testing.T) {
	sink := NewTrafficSink(10)

	sink.Observe(domain.Observation{
		Kind: domain.ObservationHTTP,
		HTTP: &domain.HTTPObservation{
			Peer: domain.Peer{Src: domain.UnknownEntity(), Dst: domain.WorkloadEntity("api", "")},
		},
	})

	edges := sink.Edges.Snapshot()
	require.Len(t, edges, 1)
	assert.Equal(t, "UNKNOWN", edges[0].Key.Method)
	assert.Equal(t, "/", edges[0].Key.Route)
	assert.Equal(t, "unknown", edges[0].Key.From)
}

func TestTrafficSinkRoutesFlowToEdgesOnly(t *testing.T) {
	sink := NewTrafficSink(10)

	sink.Observe(domain.Observation{
		Kind: domain.ObservationFlow,
		Flow: &domain.FlowObservation{
			AtMs: 50,
			Flow: domain.FlowKey{
				Dst:       domain.Socket{IP: "10.0.0.5", Port: 5432},
				Transport: domain.TransportTCP,
			},
			Metrics: domain.FlowMetrics{BytesIn: 64, BytesOut: 128},
			Peer:    domain.Peer{Src: domain.WorkloadEntity("web", ""), Dst: domain.WorkloadEntity("db", "")},
		},
	})

	edges := sink.Edges.Snapshot()
	require.Len(t, edges, 1)
	assert.Equal(t, domain.EdgeFlow, edges[0].Key.Kind)
	assert.Equal(t, 5432, edges[0].Key.Port)
	assert.EqualValues(t, 64, edges[0].Stats.BytesIn)

	_, _, calls := sink.Calls.Register(10)
	assert.Empty(t, calls)
}
