package traffic

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
)

// TapTrace is the subset of an Envoy HttpBufferedTrace this tool cares
// about: the request/response pseudo-headers, ordinary headers, and
// normalized bodies.
type TapTrace struct {
	Method          string
	Path            string
	Authority       string
	Status          int
	RequestHeaders  map[string]string
	ResponseHeaders map[string]string
	RequestBody     string
	ResponseBody    string
	ContentType     string
	DownstreamIP    string
}

// ParseTapTrace decodes one Envoy tap trace file. Envoy's tap sink emits
// protobuf-JSON, whose field names vary between snake_case and camelCase
// depending on the marshaler in use, so every lookup tries both. Returns
// ok=false (no error) for a trace with neither a request nor response
// section, which happens for in-progress writes the poller catches mid-flush.
func ParseTapTrace(data []byte) (TapTrace, bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return TapTrace{}, false, fmt.Errorf("decode tap trace: %w", err)
	}

	root, ok := pickMap(doc, "http_buffered_trace", "httpBufferedTrace")
	if !ok {
		return TapTrace{}, false, nil
	}

	request, hasRequest := pickMap(root, "request")
	response, hasResponse := pickMap(root, "response")

	if !hasRequest && !hasResponse {
		return TapTrace{}, false, nil
	}

	trace := TapTrace{
		RequestHeaders:  map[string]string{},
		ResponseHeaders: map[string]string{},
	}

	if ip, ok := decodeConnectionIP(root, "downstream_connection", "downstreamConnection"); ok {
		trace.DownstreamIP = ip
	}

	if hasRequest {
		headers := decodeHeaders(request)
		trace.Method = headers[":method"]
		trace.Path = headers[":path"]
		trace.Authority = headers[":authority"]
		trace.RequestBody = normalizeBody(decodeBody(request), headers["content-type"])

		for k, v := range headers {
			if !strings.HasPrefix(k, ":") {
				trace.RequestHeaders[k] = v
			}
		}
	}

	if hasResponse {
		headers := decodeHeaders(response)
		if status, ok := pickString(headers, ":status"); ok {
			trace.Status = atoiOr(status, 0)
		}

		trace.ContentType = headers["content-type"]
		trace.ResponseBody = normalizeBody(decodeBody(response), headers["content-type"])

		for k, v := range headers {
			if !strings.HasPrefix(k, ":") {
				trace.ResponseHeaders[k] = v
			}
		}
	}

	return trace, true, nil
}

// PromoteTapTrace turns a decoded trace into a full l7-semantics HTTP
// observation. The downstream connection's remote address, when the tap
// sink recorded one, is the authoritative source; X-Forwarded-For is a
// fallback for traces that omit connection metadata.
func PromoteTapTrace(trace TapTrace, atMs int64, service string, isEgress bool, resolver domain.Resolver) domain.HTTPObservation {
	srcHint := trace.DownstreamIP

	if srcHint == "" {
		srcHint = trace.RequestHeaders["x-forwarded-for"]
		if idx := strings.IndexByte(srcHint, ','); idx >= 0 {
			srcHint = srcHint[:idx]
		}
	}

	authority := trace.Authority
	if authority == "" {
		authority = service
	}

	peer, attrs := resolvePeer(strings.TrimSpace(srcHint), authority, service, isEgress, domain.VisibilityL7Semantics, resolver)

	return domain.HTTPObservation{
		AtMs:             atMs,
		Peer:             peer,
		Method:           trace.Method,
		Path:             trace.Path,
		Status:           trace.Status,
		BytesIn:          int64(len(trace.RequestBody)),
		BytesOut:         int64(len(trace.ResponseBody)),
		RequestHeaders:   trace.RequestHeaders,
		ResponseHeaders:  trace.ResponseHeaders,
		RequestBody:      trace.RequestBody,
		ResponseBody:     trace.ResponseBody,
		ResponseBodyType: trace.ContentType,
		Correlation:      domain.Correlation{RequestID: trace.RequestHeaders["x-request-id"]},
		Attrs:            attrs,
	}
}

// decodeHeaders flattens a request/response section's header list (each
// entry a {key, value} pair, however it was cased) into a lowercase map.
func decodeHeaders(section map[string]any) map[string]string {
	out := map[string]string{}

	raw, ok := section["headers"]
	if !ok {
		return out
	}

	list, ok := raw.([]any)
	if !ok {
		return out
	}

	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		key, _ := pickAnyString(m, "key")
		value, _ := pickAnyString(m, "value")
		out[strings.ToLower(key)] = value
	}

	return out
}

// decodeBody extracts and base64-decodes a section's body bytes, trying
// both the raw-bytes and as-string tap body encodings.
func decodeBody(section map[string]any) []byte {
	body, ok := pickMap(section, "body")
	if !ok {
		return nil
	}

	if asString, ok := pickAnyString(body, "as_string", "asString"); ok {
		return []byte(asString)
	}

	if asBytes, ok := pickAnyString(body, "as_bytes", "asBytes"); ok {
		decoded, err := base64.StdEncoding.DecodeString(asBytes)
		if err == nil {
			return decoded
		}
	}

	return nil
}

// normalizeBody preserves JSON bodies verbatim and truncates everything
// else at the configured preview limit, cropping on a UTF-8 boundary and
// appending a marker.
func normalizeBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}

	if strings.Contains(contentType, "json") || json.Valid(body) {
		return string(body)
	}

	if len(body) <= constants.NonJSONBodyPreviewLimit {
		return string(body)
	}

	cut := constants.NonJSONBodyPreviewLimit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}

	return string(body[:cut]) + " (cropped)"
}

// decodeConnectionIP extracts the remote address out of a tap trace's
// connection section (downstream_connection.remote_address.socket_address.address,
// tolerant of camelCase), which the tap sink fills in with the actual
// peer socket regardless of any proxied header.
func decodeConnectionIP(root map[string]any, keys ...string) (string, bool) {
	conn, ok := pickMap(root, keys...)
	if !ok {
		return "", false
	}

	remote, ok := pickMap(conn, "remote_address", "remoteAddress")
	if !ok {
		return "", false
	}

	socket, ok := pickMap(remote, "socket_address", "socketAddress")
	if !ok {
		return "", false
	}

	return pickAnyString(socket, "address")
}

func pickMap(doc map[string]any, keys ...string) (map[string]any, bool) {
	for _, key := range keys {
		if v, ok := doc[key]; ok {
			if m, ok := v.(map[string]any); ok {
				return m, true
			}
		}
	}

	return nil, false
}

func pickString(m map[string]string, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v, true
		}
	}

	return "", false
}

func pickAnyString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}

	return "", false
}
