package traffic

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tapTraceJSON(t *testing.T, requestBody, responseBody, contentType string) string {
	t.Helper()

	reqB64 := base64.StdEncoding.EncodeToString([]byte(requestBody))
	respB64 := base64.StdEncoding.EncodeToString([]byte(responseBody))

	return `{
		"http_buffered_trace": {
			"request": {
				"headers": [
					{"key": ":method", "value": "POST"},
					{"key": ":path", "value": "/orders"},
					{"key": ":authority", "value": "api:8080"},
					{"key": "x-request-id", "value": "req-42"},
					{"key": "x-forwarded-for", "value": "10.0.0.5"}
				],
				"body": {"as_bytes": "` + reqB64 + `"}
			},
			"response": {
				"headers": [
					{"key": ":status", "value": "201"},
					{"key": "content-type", "value": "` + contentType + `"}
				],
				"body": {"as_bytes": "` + respB64 + `"}
			}
		}
	}`
}

func TestParseTapTraceDecodesRequestAndResponse(t *testing.T) {
	raw := tapTraceJSON(t, `{"item":"widget"}`, `{"id":1}`, "application/json")

	trace, ok, err := ParseTapTrace([]byte(raw))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "POST", trace.Method)
	assert.Equal(t, "/orders", trace.Path)
	assert.Equal(t, "api:8080", trace.Authority)
	assert.Equal(t, 201, trace.Status)
	assert.Equal(t, `{"item":"widget"}`, trace.RequestBody)
	assert.Equal(t, `{"id":1}`, trace.ResponseBody)
	assert.Equal(t, "req-42", trace.RequestHeaders["x-request-id"])
	assert.NotContains(t, trace.RequestHeaders, ":method")
}

func TestParseTapTraceCropsNonJSONBodyAtLimit(t *testing.T) {
	body := strings.Repeat("a", constants.NonJSONBodyPreviewLimit+500)
	raw := tapTraceJSON(t, "", body, "text/plain")

	trace, ok, err := ParseTapTrace([]byte(raw))
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, strings.HasSuffix(trace.ResponseBody, "(cropped)"))
	assert.Less(t, len(trace.ResponseBody), len(body))
}

func TestParseTapTraceReturnsNotOkWithoutHTTPBufferedTrace(t *testing.T) {
	_, ok, err := ParseTapTrace([]byte(`{"socket_buffered_trace": {}}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseTapTracePrefersDownstreamConnectionOverForwardedFor(t *testing.T) {
	raw := `{
		"http_buffered_trace": {
			"downstream_connection": {
				"remote_address": {"socket_address": {"address": "10.0.0.9", "port_value": 54321}}
			},
			"request": {
				"headers": [
					{"key": ":method", "value": "GET"},
					{"key": ":path", "value": "/health"},
					{"key": ":authority", "value": "api:8080"},
					{"key": "x-forwarded-for", "value": "10.0.0.5"}
				]
			},
			"response": {
				"headers": [{"key": ":status", "value": "200"}]
			}
		}
	}`

	trace, ok, err := ParseTapTrace([]byte(raw))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", trace.DownstreamIP)

	resolver := stubResolver{entities: map[string]domain.Entity{
		"10.0.0.9": domain.WorkloadEntity("sidecar-peer", ""),
		"10.0.0.5": domain.WorkloadEntity("frontend", ""),
	}}

	obs := PromoteTapTrace(trace, 3000, "api", false, resolver)
	assert.Equal(t, "sidecar-peer", obs.Peer.Src.Name)
}

func TestPromoteTapTraceUsesForwardedForAsSource(t *testing.T) {
	raw := tapTraceJSON(t, "", `{"id":1}`, "application/json")

	trace, ok, err := ParseTapTrace([]byte(raw))
	require.NoError(t, err)
	require.True(t, ok)

	resolver := stubResolver{entities: map[string]domain.Entity{
		"10.0.0.5": domain.WorkloadEntity("frontend", ""),
	}}

	obs := PromoteTapTrace(trace, 2000, "api", false, resolver)

	assert.Equal(t, "frontend", obs.Peer.Src.Name)
	assert.Equal(t, "api", obs.Peer.Dst.Name)
	assert.Equal(t, domain.VisibilityL7Semantics, obs.Attrs.Visibility)
	assert.Equal(t, "req-42", obs.Correlation.RequestID)
}
