package derive

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/ethpandaops/truss/internal/constants"
)

// httpListenerTemplate renders one HTTP connection-manager listener: route
// to the app cluster, a tap sink writing full request/response traces into
// the per-service host directory, and a JSON access log written to stdout.
var httpListenerTemplate = template.Must(template.New("http-listener").Parse(`- name: listener_{{.Port}}
  address:
    socket_address: { address: 0.0.0.0, port_value: {{.Port}} }
  filter_chains:
  - filters:
    - name: envoy.filters.network.http_connection_manager
      typed_config:
        "@type": type.googleapis.com/envoy.extensions.filters.network.http_connection_manager.v3.HttpConnectionManager
        stat_prefix: ingress_http_{{.Port}}
        route_config:
          name: local_route
          virtual_hosts:
          - name: backend
            domains: ["*"]
            routes:
            - match: { prefix: "/" }
              route: { cluster: {{.Cluster}} }
        http_filters:
        - name: envoy.filters.http.tap
          typed_config:
            "@type": type.googleapis.com/envoy.extensions.filters.http.tap.v3.Tap
            common_config:
              static_config:
                match:
                  any_match: true
                output_config:
                  sinks:
                  - file_per_tap:
                      path_prefix: {{.TapDir}}/trace
        - name: envoy.filters.http.router
          typed_config:
            "@type": type.googleapis.com/envoy.extensions.filters.http.router.v3.Router
        access_log:
        - name: envoy.access_loggers.file
          typed_config:
            "@type": type.googleapis.com/envoy.extensions.access_loggers.file.v3.FileAccessLog
            path: /dev/stdout
            json_format:
              method: "%REQ(:METHOD)%"
              path: "%REQ(:PATH)%"
              authority: "%REQ(:AUTHORITY)%"
              response_code: "%RESPONSE_CODE%"
              duration_ms: "%DURATION%"
              downstream_remote_address: "%DOWNSTREAM_REMOTE_ADDRESS%"
              upstream_host: "%UPSTREAM_HOST%"
              bytes_received: "%BYTES_RECEIVED%"
              bytes_sent: "%BYTES_SENT%"
              request_id: "%REQ(X-REQUEST-ID)%"
              user_agent: "%REQ(USER-AGENT)%"
              content_type: "%REQ(CONTENT-TYPE)%"
              forwarded_for: "%REQ(X-FORWARDED-FOR)%"
`))

// tcpListenerTemplate renders one TCP proxy listener: access log only, no
// tap sink, since there is no HTTP envelope to capture.
var tcpListenerTemplate = template.Must(template.New("tcp-listener").Parse(`- name: listener_{{.Port}}
  address:
    socket_address: { address: 0.0.0.0, port_value: {{.Port}} }
  filter_chains:
  - filters:
    - name: envoy.filters.network.tcp_proxy
      typed_config:
        "@type": type.googleapis.com/envoy.extensions.filters.network.tcp_proxy.v3.TcpProxy
        stat_prefix: tcp_{{.Port}}
        cluster: {{.Cluster}}
        access_log:
        - name: envoy.access_loggers.file
          typed_config:
            "@type": type.googleapis.com/envoy.extensions.access_loggers.file.v3.FileAccessLog
            path: /dev/stdout
            json_format:
              duration_ms: "%DURATION%"
              downstream_remote_address: "%DOWNSTREAM_REMOTE_ADDRESS%"
              upstream_host: "%UPSTREAM_HOST%"
              bytes_received: "%BYTES_RECEIVED%"
              bytes_sent: "%BYTES_SENT%"
`))

// clusterTemplate renders the upstream cluster for one listener, DNS-routed
// to the app's service name.
var clusterTemplate = template.Must(template.New("cluster").Parse(`- name: {{.Cluster}}
  type: STRICT_DNS
  lb_policy: ROUND_ROBIN
  load_assignment:
    cluster_name: {{.Cluster}}
    endpoints:
    - lb_endpoints:
      - endpoint:
          address:
            socket_address: { address: {{.UpstreamHost}}, port_value: {{.UpstreamPort}} }
`))

// egressTemplate renders the single egress sidecar's dynamic-forward-proxy
// listener, attached to every discovered network.
var egressTemplate = template.Must(template.New("egress").Parse(`static_resources:
  listeners:
  - name: egress_listener
    address:
      socket_address: { address: 0.0.0.0, port_value: {{.Port}} }
    filter_chains:
    - filters:
      - name: envoy.filters.network.http_connection_manager
        typed_config:
          "@type": type.googleapis.com/envoy.extensions.filters.network.http_connection_manager.v3.HttpConnectionManager
          stat_prefix: egress
          route_config:
            name: egress_route
            virtual_hosts:
            - name: egress
              domains: ["*"]
              routes:
              - match: { prefix: "/" }
                route:
                  cluster: dynamic_forward_proxy_cluster
                  timeout: 0s
          http_filters:
          - name: envoy.filters.http.dynamic_forward_proxy
            typed_config:
              "@type": type.googleapis.com/envoy.extensions.filters.http.dynamic_forward_proxy.v3.FilterConfig
              dns_cache_config:
                name: dynamic_forward_proxy_cache_config
                dns_lookup_family: V4_ONLY
          - name: envoy.filters.http.router
            typed_config:
              "@type": type.googleapis.com/envoy.extensions.filters.http.router.v3.Router
          access_log:
          - name: envoy.access_loggers.file
            typed_config:
              "@type": type.googleapis.com/envoy.extensions.access_loggers.file.v3.FileAccessLog
              path: /dev/stdout
              json_format:
                method: "%REQ(:METHOD)%"
                path: "%REQ(:PATH)%"
                authority: "%REQ(:AUTHORITY)%"
                response_code: "%RESPONSE_CODE%"
                duration_ms: "%DURATION%"
                downstream_remote_address: "%DOWNSTREAM_REMOTE_ADDRESS%"
                upstream_host: "%UPSTREAM_HOST%"
                bytes_received: "%BYTES_RECEIVED%"
                bytes_sent: "%BYTES_SENT%"
                request_id: "%REQ(X-REQUEST-ID)%"
  clusters:
  - name: dynamic_forward_proxy_cluster
    lb_policy: CLUSTER_PROVIDED
    cluster_type:
      name: envoy.clusters.dynamic_forward_proxy
      typed_config:
        "@type": type.googleapis.com/envoy.extensions.clusters.dynamic_forward_proxy.v3.ClusterConfig
        dns_cache_config:
          name: dynamic_forward_proxy_cache_config
          dns_lookup_family: V4_ONLY
admin:
  address:
    socket_address: { address: 127.0.0.1, port_value: 9901 }
`))

type listenerData struct {
	Port         int
	Cluster      string
	TapDir       string
	UpstreamHost string
	UpstreamPort int
}

// writeProxyConfig renders the full static_resources document for one
// proxy service: one listener (+ cluster) per published port, HTTP or TCP
// as selected by protocol.
func writeProxyConfig(ports []proxyPort, tapDir string) (string, error) {
	var listeners, clusters bytes.Buffer

	for _, p := range ports {
		data := listenerData{
			Port:         p.PublishedPort,
			Cluster:      p.ClusterName,
			TapDir:       tapDir,
			UpstreamHost: p.UpstreamHost,
			UpstreamPort: p.ContainerPort,
		}

		tmpl := tcpListenerTemplate
		if p.HTTP {
			tmpl = httpListenerTemplate
		}

		if err := tmpl.Execute(&listeners, data); err != nil {
			return "", fmt.Errorf("render listener for port %d: %w", p.PublishedPort, err)
		}

		if err := clusterTemplate.Execute(&clusters, data); err != nil {
			return "", fmt.Errorf("render cluster for port %d: %w", p.PublishedPort, err)
		}
	}

	var out bytes.Buffer
	out.WriteString("static_resources:\n  listeners:\n")
	indentInto(&out, listeners.String(), "  ")
	out.WriteString("  clusters:\n")
	indentInto(&out, clusters.String(), "  ")
	out.WriteString("admin:\n  address:\n    socket_address: { address: 127.0.0.1, port_value: 9901 }\n")

	return out.String(), nil
}

func indentInto(out *bytes.Buffer, block, prefix string) {
	for _, line := range splitLines(block) {
		if line == "" {
			out.WriteString("\n")

			continue
		}

		out.WriteString(prefix)
		out.WriteString(line)
		out.WriteString("\n")
	}
}

func splitLines(s string) []string {
	var lines []string

	start := 0

	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}

	if start < len(s) {
		lines = append(lines, s[start:])
	}

	return lines
}

// writeEgressConfig renders the egress sidecar's static_resources document.
func writeEgressConfig(tapDir string) (string, error) {
	var out bytes.Buffer

	data := struct {
		Port   int
		TapDir string
	}{Port: constants.EgressListenPort, TapDir: tapDir}

	if err := egressTemplate.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render egress config: %w", err)
	}

	return out.String(), nil
}

// proxyPort describes one published port of a proxy service, as computed
// during derivation for config generation.
type proxyPort struct {
	PublishedPort int
	ContainerPort int
	UpstreamHost  string
	ClusterName   string
	HTTP          bool
}
