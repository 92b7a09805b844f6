package hub

import (
	"strings"

	"github.com/ethpandaops/truss/internal/domain"
)

// TrafficSink fans a promoted observation out to both the edge hub
// (aggregate counters keyed by entity pair) and the call hub (one entry
// per HTTP observation), mirroring the dispatch a single traffic hub does
// for flow vs HTTP observations.
type TrafficSink struct {
	Edges *EdgeHub
	Calls *CallHub
}

// NewTrafficSink creates a sink backed by fresh edge and call hubs.
func NewTrafficSink(callHistoryCap int) *TrafficSink {
	return &TrafficSink{
		Edges: NewEdgeHub(),
		Calls: NewCallHub(callHistoryCap),
	}
}

// Observe implements domain.ObservationSink, routing to emitHTTP or
// emitFlow by observation kind.
func (s *TrafficSink) Observe(obs domain.Observation) {
	switch obs.Kind {
	case domain.ObservationHTTP:
		if obs.HTTP != nil {
			s.emitHTTP(*obs.HTTP)
		}
	case domain.ObservationFlow:
		if obs.Flow != nil {
			s.emitFlow(*obs.Flow)
		}
	}
}

func (s *TrafficSink) emitHTTP(http domain.HTTPObservation) {
	method := strings.ToUpper(http.Method)
	if method == "" {
		method = "UNKNOWN"
	}

	route := http.Path
	if route == "" {
		route = "/"
	}

	key := domain.HTTPEdgeKey(entityName(http.Peer.Src), entityName(http.Peer.Dst), method, route)

	s.Edges.RecordHTTP(key, http.AtMs, http.Attrs.Visibility, http.Status, float64(http.DurationMs), http.BytesIn, http.BytesOut)
	s.Calls.Publish(http)
}

func (s *TrafficSink) emitFlow(flow domain.FlowObservation) {
	key := domain.FlowEdgeKey(entityName(flow.Peer.Src), entityName(flow.Peer.Dst), flow.Flow.Transport, flow.Flow.Dst.Port)

	s.Edges.RecordFlow(key, flow.AtMs, flow.Attrs.Visibility, flow.Metrics.BytesIn, flow.Metrics.BytesOut)
}

// entityName reduces an entity to the label used as an edge endpoint: the
// workload name, the external DNS name or IP, the host name, or "unknown".
func entityName(e domain.Entity) string {
	switch e.Kind {
	case domain.EntityWorkload:
		return e.Name
	case domain.EntityExternal:
		if e.DNS != "" {
			return e.DNS
		}

		return e.IP
	case domain.EntityHost:
		return e.Name
	default:
		return "unknown"
	}
}
