package hub

import (
	"sync"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
)

// EdgeHub accumulates per-edge traffic statistics and fans out the updated
// edge whenever an observation folds into it. Unlike LogHub/CallHub its
// history is a current-state snapshot (one entry per edge) rather than a
// bounded event ring, so new subscribers always see the whole graph as of
// registration.
type EdgeHub struct {
	mu      sync.Mutex
	edges   map[domain.EdgeKey]*domain.EdgeStats
	clients map[uint64]chan domain.TrafficEdge
	nextID  uint64
}

// NewEdgeHub creates an empty EdgeHub.
func NewEdgeHub() *EdgeHub {
	return &EdgeHub{
		edges:   make(map[domain.EdgeKey]*domain.EdgeStats),
		clients: make(map[uint64]chan domain.TrafficEdge),
	}
}

// RecordFlow folds one flow observation's byte counters into its edge.
func (h *EdgeHub) RecordFlow(key domain.EdgeKey, atMs int64, vis domain.Visibility, bytesIn, bytesOut int64) {
	h.mu.Lock()

	stats := h.statsLocked(key)
	stats.Count++
	stats.BytesIn += bytesIn
	stats.BytesOut += bytesOut
	stats.Visibility = domain.MergeVisibility(stats.Visibility, vis)
	stats.LastSeenMs = atMs

	snapshot := domain.TrafficEdge{Key: key, Stats: *stats}
	clients := h.clientsLocked()

	h.mu.Unlock()

	h.broadcast(clients, snapshot)
}

// RecordHTTP folds one HTTP observation's latency and byte counters into
// its edge.
func (h *EdgeHub) RecordHTTP(key domain.EdgeKey, atMs int64, vis domain.Visibility, status int, durationMs float64, bytesIn, bytesOut int64) {
	h.mu.Lock()

	stats := h.statsLocked(key)
	stats.Count++
	stats.BytesIn += bytesIn
	stats.BytesOut += bytesOut
	stats.Visibility = domain.MergeVisibility(stats.Visibility, vis)
	stats.LastSeenMs = atMs

	if status >= 400 {
		stats.Errors++
	}

	stats.RecordLatency(durationMs, constants.EdgeLatencySamples)

	snapshot := domain.TrafficEdge{Key: key, Stats: *stats}
	clients := h.clientsLocked()

	h.mu.Unlock()

	h.broadcast(clients, snapshot)
}

func (h *EdgeHub) statsLocked(key domain.EdgeKey) *domain.EdgeStats {
	stats, ok := h.edges[key]
	if !ok {
		stats = &domain.EdgeStats{}
		h.edges[key] = stats
	}

	return stats
}

func (h *EdgeHub) clientsLocked() []chan domain.TrafficEdge {
	clients := make([]chan domain.TrafficEdge, 0, len(h.clients))
	for _, ch := range h.clients {
		clients = append(clients, ch)
	}

	return clients
}

func (h *EdgeHub) broadcast(clients []chan domain.TrafficEdge, edge domain.TrafficEdge) {
	for _, ch := range clients {
		select {
		case ch <- edge:
		default:
		}
	}
}

// Register subscribes a new client, returning its id, its live-update
// channel, and a snapshot of every edge known so far.
func (h *EdgeHub) Register(bufferSize int) (uint64, <-chan domain.TrafficEdge, []domain.TrafficEdge) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	ch := make(chan domain.TrafficEdge, bufferSize)
	h.clients[id] = ch

	snapshot := make([]domain.TrafficEdge, 0, len(h.edges))
	for key, stats := range h.edges {
		snapshot = append(snapshot, domain.TrafficEdge{Key: key, Stats: *stats})
	}

	return id, ch, snapshot
}

// Unregister removes a subscribed client.
func (h *EdgeHub) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, id)
}

// Snapshot returns every edge known so far without registering a client.
func (h *EdgeHub) Snapshot() []domain.TrafficEdge {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := make([]domain.TrafficEdge, 0, len(h.edges))
	for key, stats := range h.edges {
		snapshot = append(snapshot, domain.TrafficEdge{Key: key, Stats: *stats})
	}

	return snapshot
}
