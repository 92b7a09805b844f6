// Package hub implements the fan-out primitive shared by the log, traffic
// call, and edge-statistics streams: a bounded history ring plus a set of
// bounded per-client channels, published to without blocking the
// publisher on a slow or stalled client.
package hub

import "sync"

// Hub fans a sequence of events of type T out to any number of
// subscribers, retaining a bounded history so a new subscriber can catch
// up on what it missed.
type Hub[T any] struct {
	mu         sync.Mutex
	history    []T
	historyCap int
	clients    map[uint64]chan T
	nextID     uint64
}

// New creates a Hub retaining at most historyCap past events.
func New[T any](historyCap int) *Hub[T] {
	return &Hub[T]{
		history:    make([]T, 0, historyCap),
		historyCap: historyCap,
		clients:    make(map[uint64]chan T),
	}
}

// Publish appends event to history, trimming the oldest entry if over
// capacity, and offers it to every registered client. A client whose
// channel is full drops the event rather than stalling the publisher.
func (h *Hub[T]) Publish(event T) {
	h.mu.Lock()

	h.history = append(h.history, event)
	if len(h.history) > h.historyCap {
		h.history = h.history[len(h.history)-h.historyCap:]
	}

	clients := make([]chan T, 0, len(h.clients))
	for _, ch := range h.clients {
		clients = append(clients, ch)
	}

	h.mu.Unlock()

	for _, ch := range clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// Register adds a new client with the given channel buffer size, returning
// its id (for Unregister), its event channel, and a snapshot of history
// taken atomically with registration so no event is duplicated or missed
// between the snapshot and the first live event.
func (h *Hub[T]) Register(bufferSize int) (id uint64, events <-chan T, history []T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id = h.nextID
	h.nextID++

	ch := make(chan T, bufferSize)
	h.clients[id] = ch

	history = append([]T(nil), h.history...)

	return id, ch, history
}

// Unregister removes a client. The caller owns draining/closing its
// channel; Hub does not close client channels itself.
func (h *Hub[T]) Unregister(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, id)
}

// Snapshot returns a copy of the current history without registering a
// client.
func (h *Hub[T]) Snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]T(nil), h.history...)
}
