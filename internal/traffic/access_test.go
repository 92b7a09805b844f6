package traffic

import (
	"testing"

	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	entities map[string]domain.Entity
}

func (s stubResolver) ResolveIP(ip string) (domain.Entity, bool) {
	e, ok := s.entities[ip]

	return e, ok
}

func TestParseAccessLogLineDecodesHTTPEnvelope(t *testing.T) {
	line := `{"method":"GET","path":"/health","authority":"api:8080","response_code":"200","duration_ms":"12","downstream_remote_address":"10.0.0.5:54321","upstream_host":"10.0.0.6:8080","bytes_received":"0","bytes_sent":"128","request_id":"req-1","user_agent":"curl/8.0"}`

	rec, ok := ParseAccessLogLine([]byte(line))
	require.True(t, ok)
	assert.True(t, rec.IsHTTPEnvelope())
	assert.Equal(t, "GET", rec.Method)
	assert.Equal(t, "200", rec.ResponseCode)
}

func TestParseAccessLogLineRejectsNonJSON(t *testing.T) {
	_, ok := ParseAccessLogLine([]byte("[2024-01-01T00:00:00Z] connected"))
	assert.False(t, ok)
}

func TestPromoteAccessRecordBuildsHTTPObservationForNonEgress(t *testing.T) {
	resolver := stubResolver{entities: map[string]domain.Entity{
		"10.0.0.5": domain.WorkloadEntity("frontend", "abc123"),
	}}

	rec := AccessRecord{
		Method:           "GET",
		Path:             "/health",
		Authority:        "api:8080",
		ResponseCode:     "200",
		DurationMs:       "12",
		DownstreamRemote: "10.0.0.5:54321",
		UpstreamHost:     "10.0.0.6:8080",
		BytesSent:        "128",
	}

	obs, ok := PromoteAccessRecord(rec, 1000, "api", false, resolver)
	require.True(t, ok)
	require.Equal(t, domain.ObservationHTTP, obs.Kind)
	require.NotNil(t, obs.HTTP)

	assert.Equal(t, "frontend", obs.HTTP.Peer.Src.Name)
	assert.Equal(t, domain.EntityWorkload, obs.HTTP.Peer.Dst.Kind)
	assert.Equal(t, "api", obs.HTTP.Peer.Dst.Name)
	assert.Equal(t, 200, obs.HTTP.Status)
	assert.Equal(t, domain.ConfidenceExact, obs.HTTP.Attrs.Confidence)
	assert.Equal(t, domain.VisibilityL7Envelope, obs.HTTP.Attrs.Visibility)
}

func TestPromoteAccessRecordResolvesExternalEntityForEgress(t *testing.T) {
	rec := AccessRecord{
		Method:       "GET",
		Path:         "/",
		Authority:    "example.com:443",
		ResponseCode: "200",
	}

	obs, ok := PromoteAccessRecord(rec, 1000, "truss-egress-proxy", true, stubResolver{})
	require.True(t, ok)
	require.NotNil(t, obs.HTTP)

	assert.Equal(t, domain.EntityExternal, obs.HTTP.Peer.Dst.Kind)
	assert.Equal(t, "example.com", obs.HTTP.Peer.Dst.DNS)
}

func TestPromoteAccessRecordBuildsFlowObservationWhenNoHTTPEnvelope(t *testing.T) {
	rec := AccessRecord{
		DownstreamRemote: "10.0.0.5:54321",
		UpstreamHost:     "10.0.0.6:5432",
		BytesReceived:    "64",
		BytesSent:        "256",
	}

	obs, ok := PromoteAccessRecord(rec, 1000, "db", false, stubResolver{})
	require.True(t, ok)
	require.Equal(t, domain.ObservationFlow, obs.Kind)
	require.NotNil(t, obs.Flow)

	assert.Equal(t, 5432, obs.Flow.Flow.Dst.Port)
	assert.EqualValues(t, 64, obs.Flow.Metrics.BytesIn)
	assert.EqualValues(t, 256, obs.Flow.Metrics.BytesOut)
}

func TestPromoteAccessRecordRejectsEmptyRecord(t *testing.T) {
	_, ok := PromoteAccessRecord(AccessRecord{}, 1000, "db", false, stubResolver{})
	assert.False(t, ok)
}
