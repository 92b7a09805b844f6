package hub

import (
	"sync/atomic"

	"github.com/ethpandaops/truss/internal/domain"
)

// LogHub sequences and fans out aggregated log lines from every followed
// container.
type LogHub struct {
	hub *Hub[domain.LogEvent]
	seq atomic.Uint64
}

// NewLogHub creates a LogHub retaining at most historyCap lines.
func NewLogHub(historyCap int) *LogHub {
	return &LogHub{hub: New[domain.LogEvent](historyCap)}
}

// Publish assigns the next sequence number and fans the line out. An empty
// service name is recorded as "unknown".
func (h *LogHub) Publish(service, line string) {
	if service == "" {
		service = "unknown"
	}

	event := domain.LogEvent{
		Seq:     h.seq.Add(1),
		Service: service,
		Line:    line,
	}

	h.hub.Publish(event)
}

// Register subscribes a new client, returning its id, event channel, and
// the history it missed.
func (h *LogHub) Register(bufferSize int) (uint64, <-chan domain.LogEvent, []domain.LogEvent) {
	return h.hub.Register(bufferSize)
}

// Unregister removes a subscribed client.
func (h *LogHub) Unregister(id uint64) {
	h.hub.Unregister(id)
}
