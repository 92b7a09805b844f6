package hub

import (
	"testing"

	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubRegisterSeesBacklogThenLiveEvents(t *testing.T) {
	h := New[int](3)

	h.Publish(1)
	h.Publish(2)

	_, events, history := h.Register(10)
	assert.Equal(t, []int{1, 2}, history)

	h.Publish(3)

	select {
	case v := <-events:
		assert.Equal(t, 3, v)
	default:
		t.Fatal("expected live event after registration")
	}
}

func TestHubHistoryIsBoundedByCapacity(t *testing.T) {
	h := New[int](2)

	h.Publish(1)
	h.Publish(2)
	h.Publish(3)

	assert.Equal(t, []int{2, 3}, h.Snapshot())
}

func TestHubPublishDropsOnFullClientRatherThanBlocking(t *testing.T) {
	h := New[int](10)

	_, events, _ := h.Register(1)

	h.Publish(1)
	h.Publish(2) // client channel capacity is 1; this must not block

	v := <-events
	assert.Equal(t, 1, v)

	select {
	case <-events:
		t.Fatal("second event should have been dropped, not queued")
	default:
	}
}

func TestHubUnregisterStopsFutureDelivery(t *testing.T) {
	h := New[int](10)

	id, events, _ := h.Register(10)
	h.Unregister(id)

	h.Publish(1)

	select {
	case <-events:
		t.Fatal("unregistered client should not receive further events")
	default:
	}
}

func TestLogHubPublishAssignsSequenceAndDefaultsUnknownService(t *testing.T) {
	h := NewLogHub(10)

	h.Publish("", "boot complete")
	h.Publish("web", "listening on :8080")

	_, _, history := h.Register(10)
	require.Len(t, history, 2)
	assert.Equal(t, uint64(1), history[0].Seq)
	assert.Equal(t, "unknown", history[0].Service)
	assert.Equal(t, uint64(2), history[1].Seq)
	assert.Equal(t, "web", history[1].Service)
}

func TestEdgeHubAccumulatesCountersAndLatencyPercentiles(t *testing.T) {
	h := NewEdgeHub()
	key := domain.HTTPEdgeKey("web", "db", "GET", "/health")

	h.RecordHTTP(key, 100, domain.VisibilityL7Semantics, 200, 10, 128, 256)
	h.RecordHTTP(key, 200, domain.VisibilityL7Semantics, 500, 20, 64, 64)

	snapshot := h.Snapshot()
	require.Len(t, snapshot, 1)

	edge := snapshot[0]
	assert.Equal(t, uint64(2), edge.Stats.Count)
	assert.Equal(t, uint64(1), edge.Stats.Errors)
	assert.Equal(t, int64(192), edge.Stats.BytesIn)
	assert.Equal(t, int64(320), edge.Stats.BytesOut)
	assert.Equal(t, int64(200), edge.Stats.LastSeenMs)
}
