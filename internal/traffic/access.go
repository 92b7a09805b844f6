// Package traffic turns Envoy sidecar access-log lines and tap trace files
// into the shared observation model, resolving each side of a connection
// to a workload or external entity before handing the result to a sink.
package traffic

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/truss/internal/domain"
)

// AccessRecord is one decoded Envoy JSON access log line. Every Envoy
// access log operator renders as a string regardless of its logical type,
// so fields are kept as strings here and converted on demand.
type AccessRecord struct {
	Method           string
	Path             string
	Authority        string
	ResponseCode     string
	DurationMs       string
	DownstreamRemote string
	UpstreamHost     string
	BytesReceived    string
	BytesSent        string
	RequestID        string
	UserAgent        string
	ContentType      string
	ForwardedFor     string
}

// ParseAccessLogLine decodes one line as a flat JSON object. Lines that
// aren't valid JSON (plain-text access logs, banner output interleaved on
// the same stream) are reported as not-ok rather than an error, since a
// parse failure here is routine, not exceptional.
func ParseAccessLogLine(line []byte) (AccessRecord, bool) {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 || line[0] != '{' {
		return AccessRecord{}, false
	}

	var raw map[string]string
	if err := json.Unmarshal(line, &raw); err != nil {
		return AccessRecord{}, false
	}

	return AccessRecord{
		Method:           raw["method"],
		Path:             raw["path"],
		Authority:        raw["authority"],
		ResponseCode:     raw["response_code"],
		DurationMs:       raw["duration_ms"],
		DownstreamRemote: raw["downstream_remote_address"],
		UpstreamHost:     raw["upstream_host"],
		BytesReceived:    raw["bytes_received"],
		BytesSent:        raw["bytes_sent"],
		RequestID:        raw["request_id"],
		UserAgent:        raw["user_agent"],
		ContentType:      raw["content_type"],
		ForwardedFor:     raw["forwarded_for"],
	}, true
}

// IsHTTPEnvelope reports whether this record carries enough of an HTTP
// request line to be treated as an L7 envelope rather than a bare flow.
func (r AccessRecord) IsHTTPEnvelope() bool {
	return r.Method != "" && r.Path != "" && r.Authority != ""
}

// PromoteAccessRecord turns a decoded access record into an observation,
// resolving both ends of the connection. HTTP envelopes (method/path/
// authority present) become an HTTPObservation at l7-envelope visibility;
// everything else becomes a FlowObservation at l4-flow visibility.
func PromoteAccessRecord(rec AccessRecord, atMs int64, service string, isEgress bool, resolver domain.Resolver) (domain.Observation, bool) {
	srcIP, _ := splitHostPort(rec.DownstreamRemote)
	dstIP, dstPort := splitHostPort(rec.UpstreamHost)

	if rec.IsHTTPEnvelope() {
		peer, attrs := resolvePeer(srcIP, rec.Authority, service, isEgress, domain.VisibilityL7Envelope, resolver)

		headers := map[string]string{}
		if rec.UserAgent != "" {
			headers["user-agent"] = rec.UserAgent
		}

		if rec.ContentType != "" {
			headers["content-type"] = rec.ContentType
		}

		if rec.ForwardedFor != "" {
			headers["x-forwarded-for"] = rec.ForwardedFor
		}

		http := domain.HTTPObservation{
			AtMs:           atMs,
			Peer:           peer,
			Method:         rec.Method,
			Path:           rec.Path,
			Status:         atoiOr(rec.ResponseCode, 0),
			DurationMs:     int64(atoiOr(rec.DurationMs, 0)),
			BytesIn:        int64(atoiOr(rec.BytesReceived, 0)),
			BytesOut:       int64(atoiOr(rec.BytesSent, 0)),
			RequestHeaders: headers,
			Correlation:    domain.Correlation{RequestID: rec.RequestID},
			Attrs:          attrs,
		}

		return domain.Observation{Kind: domain.ObservationHTTP, HTTP: &http}, true
	}

	if rec.DownstreamRemote == "" && rec.UpstreamHost == "" {
		return domain.Observation{}, false
	}

	peer, attrs := resolvePeer(srcIP, dstIP, service, isEgress, domain.VisibilityL4Flow, resolver)

	flow := domain.FlowObservation{
		AtMs: atMs,
		Flow: domain.FlowKey{
			Src:       domain.Socket{IP: srcIP},
			Dst:       domain.Socket{IP: dstIP, Port: dstPort},
			Transport: domain.TransportTCP,
		},
		Metrics: domain.FlowMetrics{
			BytesIn:  int64(atoiOr(rec.BytesReceived, 0)),
			BytesOut: int64(atoiOr(rec.BytesSent, 0)),
		},
		Peer:  peer,
		Attrs: attrs,
	}

	return domain.Observation{Kind: domain.ObservationFlow, Flow: &flow}, true
}

// resolvePeer applies the destination-resolution rule: a non-egress
// proxy's destination is always its own service name; an egress proxy's
// destination is parsed from the authority (DNS name if not an IP,
// otherwise an external IP). The source is whatever the resolver knows
// about the downstream remote address, defaulting to unknown.
func resolvePeer(srcIP, authorityOrIP, service string, isEgress bool, vis domain.Visibility, resolver domain.Resolver) (domain.Peer, domain.Attributes) {
	src := domain.UnknownEntity()

	srcResolved := false

	if srcIP != "" && resolver != nil {
		if entity, ok := resolver.ResolveIP(srcIP); ok {
			src = entity
			srcResolved = true
		}
	}

	var dst domain.Entity

	if isEgress {
		host := authorityHost(authorityOrIP)
		if net.ParseIP(host) != nil {
			dst = domain.ExternalEntity(host, "")
		} else {
			dst = domain.ExternalEntity("", host)
		}
	} else {
		dst = domain.WorkloadEntity(service, "")
	}

	attrs := domain.Attributes{
		Visibility: vis,
		Confidence: domain.ResolveConfidence(srcResolved, true),
	}

	return domain.Peer{Src: src, Dst: dst}, attrs
}

// authorityHost strips a trailing :port from an authority/host value,
// leaving IPv6 brackets and bare hostnames untouched.
func authorityHost(value string) string {
	host, _, err := net.SplitHostPort(value)
	if err != nil {
		return value
	}

	return host
}

// splitHostPort splits "ip:port" (including bracketed IPv6) into its
// parts, tolerating a bare IP/host with no port.
func splitHostPort(value string) (string, int) {
	if value == "" {
		return "", 0
	}

	host, portStr, err := net.SplitHostPort(value)
	if err != nil {
		return value, 0
	}

	port, _ := strconv.Atoi(portStr)

	return host, port
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}

	return n
}

// nowMs is the observation timestamp source, split out so tests can avoid
// depending on wall-clock ordering.
func nowMs() int64 {
	return time.Now().UnixMilli()
}
