// Package derive rewrites a canonical compose document into the derived
// document that interposes proxy sidecars, stamps run-identifying labels,
// and normalizes paths, per §4.2.
package derive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"gopkg.in/yaml.v3"
)

// Options configures one derivation pass.
type Options struct {
	RunID      domain.RunID
	Project    string
	StartedAt  time.Time
	SourceDir  string // directory containing the original compose file
	SourceFile string // absolute path to the original compose file
	Tool       string // tool name ("truss"); the run directory is "."+Tool
	Traffic    bool
	Egress     bool
	ProxyImage string

	// DisableGrouping, when true, injects the engine's opt-out for
	// implicit grouping constructs (step 3), e.g. Podman's pod grouping.
DisableGrouping bool
}

// Result is what the supervisor needs after a successful derivation.
type Result struct {
	DerivedPath      string
	RunDir           string
	ProxiedServices  []string          // original names now fronted by a proxy
	AppAliasMap      map[string]string // app-variant name -> original service name
	EgressServiceName string
	Services         []domain.ServiceInfo
}

// Derive runs the nine-step algorithm from §4.2 against a canonical
// document (as produced by compose.Driver.Canonicalize) and writes the
// derived document to disk.
func Derive(canonical []byte, opts Options) (*Result, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(canonical, &doc); err != nil {
		return nil, fmt.Errorf("parse canonical compose document: %w", err)
	}

	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("canonical compose document is empty")
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("canonical compose document root is not a mapping")
	}

	// Step 1: set the top-level name to the project name.
	setMapValue(root, "name", scalarString(opts.Project))

	servicesNode := mapValue(root, "services")
	if servicesNode == nil || servicesNode.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("canonical compose document has no services block")
	}

	// Step 2: rewrite relative paths to absolute, for every service and
	// top-level configs/secrets.
	for i := 1; i < len(servicesNode.Content); i += 2 {
		rewriteServicePaths(servicesNode.Content[i], opts.SourceDir)
	}

	rewriteTopLevelFileRefs(root, opts.SourceDir)

	// Step 3: disable implicit grouping constructs if required.
	if opts.DisableGrouping {
		injectGroupingOptOut(root)
	}

	result := &Result{
		AppAliasMap: map[string]string{},
	}

	runDir := filepath.Join(opts.SourceDir, "."+opts.Tool, opts.Project)
	result.RunDir = runDir

	// Step 4: traffic disabled — label stamping and path normalization only.
	if !opts.Traffic {
		stampAllLabels(servicesNode, opts)
		result.Services = collectServiceInfo(servicesNode, nil)

		if err := writeDerivedDocument(&doc, runDir); err != nil {
			return nil, err
		}

		result.DerivedPath = filepath.Join(runDir, constants.DerivedFile)

		return result, nil
	}

	envoyDir := filepath.Join(runDir, constants.EnvoyDirName)
	tapDir := filepath.Join(runDir, constants.TapDirName)

	discoveredNetworks := map[string]bool{}
	aliasForApp := map[string]string{} // original name -> app name, for depends_on rewriting

	// Step 5: per-service proxy interposition.
	serviceNames := mappingKeys(servicesNode)

	for _, name := range serviceNames {
		svc := mapValue(servicesNode, name)
		collectNetworks(svc, discoveredNetworks)

		if skipProxying(svc) {
			continue
		}

		ports := extractPorts(svc)
		if len(ports) == 0 {
			continue
		}

		protocolOverride := readProxyLabel(svc)
		if protocolOverride == "off" {
			continue
		}

		appName := name + constants.AppServiceSuffix
		aliasForApp[name] = appName
		result.AppAliasMap[appName] = name
		result.ProxiedServices = append(result.ProxiedServices, name)

		proxyPorts, err := buildProxyPorts(ports, appName, protocolOverride)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}

		serviceTapDir := filepath.Join(tapDir, name)

		proxyCfg, err := writeProxyConfig(proxyPorts, "/tap")
		if err != nil {
			return nil, fmt.Errorf("service %s: render proxy config: %w", name, err)
		}

		result.Services = append(result.Services, buildServiceInfo(name, ports))

		containerName := mapValue(svc, "container_name")

		appNode := renameAndShrinkToApp(svc, appName, ports)
		setMapValue(servicesNode, appName, appNode)

		proxyNode := buildProxyServiceNode(svc, appName, opts, proxyPorts, serviceTapDir, envoyDir, containerName)
		setMapValue(servicesNode, name, proxyNode)

		_ = os.MkdirAll(serviceTapDir, 0o755)

		if err := writeFile(filepath.Join(envoyDir, name+".yaml"), proxyCfg); err != nil {
			return nil, fmt.Errorf("service %s: %w", name, err)
		}
	}

	// Step 5 (egress injection of proxy env vars) and step 6 (egress
	// service) happen together since both need the full service-name set.
	if opts.Egress {
		injectEgressEnv(servicesNode, serviceNames, aliasForApp)

		egressTapDir := filepath.Join(tapDir, constants.EgressService)
		_ = os.MkdirAll(egressTapDir, 0o755)

		egressCfg, err := writeEgressConfig("/tap")
		if err != nil {
			return nil, fmt.Errorf("egress: %w", err)
		}

		if err := writeFile(filepath.Join(envoyDir, "egress.yaml"), egressCfg); err != nil {
			return nil, fmt.Errorf("egress: %w", err)
		}

		egressNode := buildEgressServiceNode(opts, discoveredNetworks, egressTapDir, envoyDir)
		setMapValue(servicesNode, constants.EgressService, egressNode)
		result.EgressServiceName = constants.EgressService
	}

	// Step 7: rewrite depends_on entries naming a now-proxied service with
	// condition service_healthy to the app variant.
	rewriteDependsOn(servicesNode, aliasForApp)

	// Step 8: stamp the fixed label set on every service.
	stampAllLabels(servicesNode, opts)

	if err := writeDerivedDocument(&doc, runDir); err != nil {
		return nil, err
	}

	result.DerivedPath = filepath.Join(runDir, constants.DerivedFile)

	return result, nil
}

// skipProxying reports whether a service is excluded from proxy
// interposition outright by its network mode, per §4.2 step 5.
func skipProxying(svc *yaml.Node) bool {
	mode := mapValue(svc, "network_mode")

	return mode != nil && (mode.Value == "host" || mode.Value == "none")
}

// proxyLabelKey is the override label a service's own `labels:` block may
// carry to pick its proxy protocol, or "off" to opt the whole service out
// of proxy interposition entirely.
const proxyLabelKey = constants.LabelProxy

// readProxyLabel reads the truss.proxy override from a service's labels
// block, which may be a mapping or a `KEY=VALUE` sequence. Returns "" if
// absent.
func readProxyLabel(svc *yaml.Node) string {
	labels := mapValue(svc, "labels")
	if labels == nil {
		return ""
	}

	switch labels.Kind {
	case yaml.MappingNode:
		if v := mapValue(labels, proxyLabelKey); v != nil {
			return strings.ToLower(v.Value)
		}
	case yaml.SequenceNode:
		prefix := proxyLabelKey + "="

		for _, entry := range labels.Content {
			if strings.HasPrefix(entry.Value, prefix) {
				return strings.ToLower(strings.TrimPrefix(entry.Value, prefix))
			}
		}
	}

	return ""
}

func mappingKeys(node *yaml.Node) []string {
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}

	return keys
}

func collectNetworks(svc *yaml.Node, into map[string]bool) {
	nets := mapValue(svc, "networks")
	if nets == nil {
		return
	}

	switch nets.Kind {
	case yaml.SequenceNode:
		for _, n := range nets.Content {
			into[n.Value] = true
		}
	case yaml.MappingNode:
		for i := 0; i < len(nets.Content); i += 2 {
			into[nets.Content[i].Value] = true
		}
	}
}

// buildServiceInfo computes the §4.8 /api/services entry for a proxied
// service using its first published port.
func buildServiceInfo(name string, ports []PortMapping) domain.ServiceInfo {
	info := domain.ServiceInfo{Name: name, Exposed: true}

	for _, p := range ports {
		hostPort := p.HostPort
		if hostPort == "" {
			hostPort = p.ContainerPort
		}

		info.Endpoints = append(info.Endpoints, fmt.Sprintf("http://localhost:%s", hostPort))
	}

	if len(info.Endpoints) > 0 {
		info.Endpoint = info.Endpoints[0]
	}

	return info
}

func collectServiceInfo(servicesNode *yaml.Node, proxied map[string]bool) []domain.ServiceInfo {
	var infos []domain.ServiceInfo

	for i := 0; i < len(servicesNode.Content); i += 2 {
		name := servicesNode.Content[i].Value
		svc := servicesNode.Content[i+1]
		ports := extractPorts(svc)

		if len(ports) == 0 {
			continue
		}

		infos = append(infos, buildServiceInfo(name, ports))
	}

	return infos
}

// extractPorts reads a service's `ports:` list, parsing each short-form
// entry. Long-form mapping entries (published/target keys) are parsed
// directly here rather than routed through ParsePortShort.
func extractPorts(svc *yaml.Node) []PortMapping {
	portsNode := mapValue(svc, "ports")
	if portsNode == nil || portsNode.Kind != yaml.SequenceNode {
		return nil
	}

	var mappings []PortMapping

	for _, item := range portsNode.Content {
		switch item.Kind {
		case yaml.ScalarNode:
			if m, ok := ParsePortShort(item.Value); ok {
				mappings = append(mappings, m)
			}
		case yaml.MappingNode:
			m := PortMapping{}
			if target := mapValue(item, "target"); target != nil {
				m.ContainerPort = target.Value
			}

			if published := mapValue(item, "published"); published != nil {
				m.HostPort = published.Value
			}

			if proto := mapValue(item, "protocol"); proto != nil {
				m.Protocol = proto.Value
			}

			if host := mapValue(item, "host_ip"); host != nil {
				m.HostIP = host.Value
			}

			if m.ContainerPort != "" {
				mappings = append(mappings, m)
			}
		}
	}

	return mappings
}

// resolveProtocol resolves the proxy protocol for one port given the
// service's single truss.proxy override (already read once per service,
// not per port): http/true force HTTP, tcp forces TCP, auto (or no
// override, or an unrecognised value) falls back to the closed
// known-HTTP-ports heuristic. "off" is handled by the caller before any
// port is considered, per §4.2 step 5.
func resolveProtocol(override, containerPort string) bool {
	switch override {
	case "http", "true":
		return true
	case "tcp":
		return false
	default:
		return IsKnownHTTPPort(containerPort)
	}
}

func buildProxyPorts(ports []PortMapping, appName, protocolOverride string) ([]proxyPort, error) {
	proxyPorts := make([]proxyPort, 0, len(ports))

	for _, p := range ports {
		containerPort, ok := ContainerPortNumber(p)
		if !ok {
			return nil, fmt.Errorf("invalid container port %q", p.ContainerPort)
		}

		published := containerPort
		if p.HostPort != "" {
			if n, err := strconv.Atoi(p.HostPort); err == nil {
				published = n
			}
		}

		proxyPorts = append(proxyPorts, proxyPort{
			PublishedPort: published,
			ContainerPort: containerPort,
			UpstreamHost:  appName,
			ClusterName:   fmt.Sprintf("%s_%d", appName, containerPort),
			HTTP:          resolveProtocol(protocolOverride, p.ContainerPort),
		})
	}

	return proxyPorts, nil
}

// renameAndShrinkToApp builds the `<name>-app` variant: every field of the
// original service node is retained except `ports`/`container_name`, which
// move to the proxy, and an `expose` entry is added per port so the proxy
// can still reach the app by DNS.
func renameAndShrinkToApp(svc *yaml.Node, appName string, ports []PortMapping) *yaml.Node {
	appNode := cloneMapping(svc)

	deleteMapValue(appNode, "ports")
	deleteMapValue(appNode, "container_name")

	exposeNode := mapValue(appNode, "expose")
	if exposeNode == nil {
		exposeNode = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		setMapValue(appNode, "expose", exposeNode)
	}

	for _, p := range ports {
		exposeNode.Content = append(exposeNode.Content, scalarString(p.ContainerPort))
	}

	return appNode
}

func cloneMapping(node *yaml.Node) *yaml.Node {
	clone := *node
	clone.Content = append([]*yaml.Node(nil), node.Content...)

	return &clone
}

// cloneNode deep-copies a node and its descendants so it can be attached
// to a second place in the document tree (e.g. a field moved from the app
// service onto its proxy) without the two trees sharing mutable state.
func cloneNode(node *yaml.Node) *yaml.Node {
	if node == nil {
		return nil
	}

	clone := *node
	if len(node.Content) > 0 {
		clone.Content = make([]*yaml.Node, len(node.Content))
		for i, child := range node.Content {
			clone.Content[i] = cloneNode(child)
		}
	}

	return &clone
}

// buildProxyServiceNode constructs the new proxy service: the published
// ports, and (per §4.2 step 5) the `container_name`, `networks`, and
// `restart` the original service carried, plus a `depends_on` entry on the
// app variant so compose starts the app before its proxy. Carrying
// `networks` across is required for the proxy's Envoy cluster config to
// resolve the app's DNS name at all when the service is not on the
// default network.
func buildProxyServiceNode(original *yaml.Node, appName string, opts Options, ports []proxyPort, tapDir, envoyDir string, containerName *yaml.Node) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	name := strings.TrimSuffix(appName, constants.AppServiceSuffix)

	setMapValue(node, "image", scalarString(proxyImage(opts.ProxyImage)))

	if restart := mapValue(original, "restart"); restart != nil {
		setMapValue(node, "restart", cloneNode(restart))
	}

	if networks := mapValue(original, "networks"); networks != nil {
		setMapValue(node, "networks", cloneNode(networks))
	}

	dependsOn := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	setMapValue(dependsOn, appName, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	setMapValue(node, "depends_on", dependsOn)

	portsSeq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, p := range ports {
		portsSeq.Content = append(portsSeq.Content, scalarString(fmt.Sprintf("%d:%d", p.PublishedPort, p.PublishedPort)))
	}

	setMapValue(node, "ports", portsSeq)

	if containerName != nil {
		setMapValue(node, "container_name", cloneNode(containerName))
	}

	volumesSeq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	volumesSeq.Content = append(volumesSeq.Content,
		scalarString(fmt.Sprintf("%s:/etc/envoy/envoy.yaml:ro", filepath.Join(envoyDir, name+".yaml"))),
		scalarString(fmt.Sprintf("%s:/tap", tapDir)),
	)
	setMapValue(node, "volumes", volumesSeq)

	setMapValue(node, "command", scalarString("-c /etc/envoy/envoy.yaml"))

	return node
}

func buildEgressServiceNode(opts Options, networks map[string]bool, tapDir, envoyDir string) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	setMapValue(node, "image", scalarString(proxyImage(opts.ProxyImage)))

	volumesSeq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	volumesSeq.Content = append(volumesSeq.Content,
		scalarString(fmt.Sprintf("%s:/etc/envoy/envoy.yaml:ro", filepath.Join(envoyDir, "egress.yaml"))),
		scalarString(fmt.Sprintf("%s:/tap", tapDir)),
	)
	setMapValue(node, "volumes", volumesSeq)
	setMapValue(node, "command", scalarString("-c /etc/envoy/envoy.yaml"))

	if len(networks) > 0 {
		netSeq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for name := range networks {
			netSeq.Content = append(netSeq.Content, scalarString(name))
		}

		setMapValue(node, "networks", netSeq)
	}

	labels := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	setMapValue(labels, constants.LabelEgress, scalarString("true"))
	setMapValue(node, "labels", labels)

	return node
}

func proxyImage(override string) string {
	if override != "" {
		return override
	}

	return constants.DefaultProxyImage
}

// injectEgressEnv injects HTTP_PROXY/HTTPS_PROXY/NO_PROXY into every
// service's environment, merging NO_PROXY with every discovered service
// name plus loopback.
func injectEgressEnv(servicesNode *yaml.Node, serviceNames []string, aliasForApp map[string]string) {
	noProxy := []string{"localhost", "127.0.0.1"}
	noProxy = append(noProxy, serviceNames...)

	proxyURL := fmt.Sprintf("http://%s:%d", constants.EgressService, constants.EgressListenPort)
	noProxyValue := strings.Join(noProxy, ",")

	for i := 0; i < len(servicesNode.Content); i += 2 {
		name := servicesNode.Content[i].Value
		if name == constants.EgressService {
			continue
		}

		svc := servicesNode.Content[i+1]
		setEnvVar(svc, "HTTP_PROXY", proxyURL)
		setEnvVar(svc, "HTTPS_PROXY", proxyURL)
		setEnvVar(svc, "NO_PROXY", noProxyValue)
	}
}

func setEnvVar(svc *yaml.Node, key, value string) {
	env := mapValue(svc, "environment")
	if env == nil {
		env = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMapValue(svc, "environment", env)
	}

	switch env.Kind {
	case yaml.MappingNode:
		setMapValue(env, key, scalarString(value))
	case yaml.SequenceNode:
		env.Content = append(env.Content, scalarString(key+"="+value))
	}
}

// rewriteDependsOn rewrites any `depends_on` entry whose key is a proxied
// service and whose condition is service_healthy to name the app variant,
// per §4.2 step 7.
func rewriteDependsOn(servicesNode *yaml.Node, aliasForApp map[string]string) {
	for i := 1; i < len(servicesNode.Content); i += 2 {
		deps := mapValue(servicesNode.Content[i], "depends_on")
		if deps == nil || deps.Kind != yaml.MappingNode {
			continue
		}

		for j := 0; j < len(deps.Content); j += 2 {
			depName := deps.Content[j]
			depVal := deps.Content[j+1]

			appName, isProxied := aliasForApp[depName.Value]
			if !isProxied || depVal.Kind != yaml.MappingNode {
				continue
			}

			cond := mapValue(depVal, "condition")
			if cond != nil && cond.Value == "service_healthy" {
				depName.Value = appName
			}
		}
	}
}

// stampAllLabels applies the fixed label set from §3 to every service.
func stampAllLabels(servicesNode *yaml.Node, opts Options) {
	startedAt := opts.StartedAt.UTC().Format(constants.StartedAtLayout)

	for i := 0; i < len(servicesNode.Content); i += 2 {
		name := servicesNode.Content[i].Value
		svc := servicesNode.Content[i+1]

		labels := mapValue(svc, "labels")
		if labels == nil {
			labels = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			setMapValue(svc, "labels", labels)
		}

		if labels.Kind == yaml.SequenceNode {
			asMap := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			for _, item := range labels.Content {
				k, v, _ := strings.Cut(item.Value, "=")
				setMapValue(asMap, k, scalarString(v))
			}

			labels = asMap
			setMapValue(svc, "labels", labels)
		}

		setMapValue(labels, constants.LabelRunID, scalarString(string(opts.RunID)))
		setMapValue(labels, constants.LabelService, scalarString(name))
		setMapValue(labels, constants.LabelComposeFile, scalarString(opts.SourceFile))
		setMapValue(labels, constants.LabelDerivedFile, scalarString(filepath.Join(opts.SourceDir, "."+opts.Tool, opts.Project, constants.DerivedFile)))
		setMapValue(labels, constants.LabelStartedAt, scalarString(startedAt))
		setMapValue(labels, constants.LabelProject, scalarString(opts.Project))

		if isProxyNode(svc) {
			setMapValue(labels, constants.LabelProxy, scalarString("true"))
		}
	}
}

// isProxyNode reports whether a service node is one of the proxy sidecars
// this package injected, identified by the shape buildProxyServiceNode and
// buildEgressServiceNode give them.
func isProxyNode(svc *yaml.Node) bool {
	return mapValue(svc, "command") != nil && mapValue(svc, "image") != nil && mapValue(svc, "volumes") != nil
}

func injectGroupingOptOut(root *yaml.Node) {
	xNode := mapValue(root, "x-podman")
	if xNode == nil {
		xNode = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		setMapValue(root, "x-podman", xNode)
	}

	setMapValue(xNode, "in_pod", scalarString("false"))
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func writeDerivedDocument(doc *yaml.Node, runDir string) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize derived document: %w", err)
	}

	path := filepath.Join(runDir, constants.DerivedFile)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write derived document: %w", err)
	}

	return nil
}
