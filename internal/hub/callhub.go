package hub

import (
	"sync/atomic"

	"github.com/ethpandaops/truss/internal/domain"
)

// CallHub sequences and fans out promoted HTTP observations for the
// traffic calls stream.
type CallHub struct {
	hub *Hub[domain.TrafficCall]
	seq atomic.Uint64
}

// NewCallHub creates a CallHub retaining at most historyCap calls.
func NewCallHub(historyCap int) *CallHub {
	return &CallHub{hub: New[domain.TrafficCall](historyCap)}
}

// Publish assigns the next sequence number to an HTTP observation and fans
// it out.
func (h *CallHub) Publish(obs domain.HTTPObservation) domain.TrafficCall {
	call := domain.TrafficCall{
		Seq:         h.seq.Add(1),
		Observation: obs,
	}

	h.hub.Publish(call)

	return call
}

// Register subscribes a new client, returning its id, event channel, and
// the history it missed.
func (h *CallHub) Register(bufferSize int) (uint64, <-chan domain.TrafficCall, []domain.TrafficCall) {
	return h.hub.Register(bufferSize)
}

// Unregister removes a subscribed client.
func (h *CallHub) Unregister(id uint64) {
	h.hub.Unregister(id)
}
