package derive

import (
	"strconv"
	"strings"
)

// PortMapping is one parsed entry of a service's `ports:` list.
type PortMapping struct {
	HostIP        string
	HostPort      string
	ContainerPort string
	Protocol      string // "tcp" or "udp", empty if unspecified
}

// knownHTTPPorts is the closed, deliberately small heuristic list a
// container port is checked against when no per-service override label is
// present. Carried verbatim from the original implementation; see
// DESIGN.md's Open Question resolution.
var knownHTTPPorts = map[string]bool{
	"80": true, "443": true, "3000": true, "3001": true, "3002": true,
	"5173": true, "8000": true, "8080": true, "8100": true, "9000": true,
	"10000": true, "15672": true,
}

// IsKnownHTTPPort reports whether a parsed container port number is on the
// closed known-HTTP-ports list.
func IsKnownHTTPPort(containerPort string) bool {
	return knownHTTPPorts[containerPort]
}

// ParsePortShort parses the compose short form
// `[host-ip:][host-port:]container-port[/proto]`, with IPv6 bracket
// awareness and `${VAR:-default}`/`${VAR-default}` recognition for numeric
// defaults so the container port can still be extracted from an
// unresolved environment expression.
func ParsePortShort(spec string) (PortMapping, bool) {
	rest := spec
	protocol := ""

	if idx := strings.LastIndexByte(rest, '/'); idx >= 0 && looksLikeProtocol(rest[idx+1:]) {
		protocol = rest[idx+1:]
		rest = rest[:idx]
	}

	parts := splitHostAware(rest)

	switch len(parts) {
	case 1:
		return PortMapping{ContainerPort: resolveDefault(parts[0]), Protocol: protocol}, true
	case 2:
		return PortMapping{
			HostPort:      resolveDefault(parts[0]),
			ContainerPort: resolveDefault(parts[1]),
			Protocol:      protocol,
		}, true
	case 3:
		return PortMapping{
			HostIP:        parts[0],
			HostPort:      resolveDefault(parts[1]),
			ContainerPort: resolveDefault(parts[2]),
			Protocol:      protocol,
		}, true
	default:
		return PortMapping{}, false
	}
}

func looksLikeProtocol(s string) bool {
	return s == "tcp" || s == "udp"
}

// splitHostAware splits a port spec on ':' while treating a bracketed
// IPv6 literal (`[::1]`) and a `${VAR:-default}` environment expression as
// one atomic field each, since both can themselves contain ':'.
func splitHostAware(s string) []string {
	var fields []string

	for len(s) > 0 {
		var end int

		switch {
		case s[0] == '[':
			end = strings.IndexByte(s, ']')
		case strings.HasPrefix(s, "${"):
			end = strings.IndexByte(s, '}')
		default:
			end = -1
		}

		if end >= 0 {
			field := s[:end+1]
			rest := strings.TrimPrefix(s[end+1:], ":")
			fields = append(fields, field)
			s = rest

			continue
		}

		idx := strings.IndexByte(s, ':')
		if idx < 0 {
			fields = append(fields, s)

			break
		}

		fields = append(fields, s[:idx])
		s = s[idx+1:]
	}

	return fields
}

// resolveDefault extracts the numeric default out of `${VAR:-N}` /
// `${VAR-N}`, returning the literal unchanged if it is not one of those
// forms.
func resolveDefault(token string) string {
	if !strings.HasPrefix(token, "${") || !strings.HasSuffix(token, "}") {
		return token
	}

	inner := token[2 : len(token)-1]

	if idx := strings.Index(inner, ":-"); idx >= 0 {
		return inner[idx+2:]
	}

	if idx := strings.IndexByte(inner, '-'); idx >= 0 {
		return inner[idx+1:]
	}

	return token
}

// ContainerPortNumber extracts the bare numeric container port from a
// mapping's ContainerPort field (which may carry a bracketed IPv6 host
// portion already stripped by ParsePortShort, but could still include a
// stray non-numeric suffix from a malformed spec).
func ContainerPortNumber(mapping PortMapping) (int, bool) {
	n, err := strconv.Atoi(mapping.ContainerPort)
	if err != nil {
		return 0, false
	}

	return n, true
}
