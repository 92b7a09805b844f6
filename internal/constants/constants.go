// Package constants defines shared constants for labels, directory layout,
// and protocol defaults used across the truss application.
package constants

import "time"

// Label keys stamped on every container created for a run. These are the
// only durable link between on-disk run artifacts and live containers.
const (
	LabelRunID         = "truss.run-id"
	LabelService       = "truss.service"
	LabelComposeFile   = "truss.compose-file"
	LabelDerivedFile   = "truss.derived-file"
	LabelStartedAt     = "truss.started-at"
	LabelProject       = "truss.project"
	LabelProxy         = "truss.proxy"
	LabelEgress        = "truss.egress"
)

// StartedAtLayout is the calendar-time format used for the started-at label
// value: absolute UTC, sortable, filename-safe.
const StartedAtLayout = "2006-01-02T15:04:05Z"

// Project and directory naming.
const (
	ProjectPrefix  = "truss-"
	RunDirName     = ".truss"
	DerivedFile    = "compose.derived.yaml"
	EnvoyDirName   = "envoy"
	TapDirName     = "tap"
	EgressService  = "truss-egress-proxy"
	EgressProxyTag = "egress"
)

// AppServiceSuffix is appended to a proxied service's original name to form
// the app variant name (the proxy takes the original name).
const AppServiceSuffix = "-app"

// EgressListenPort is the well-known Envoy/Istio dynamic-forward-proxy
// sidecar port.
const EgressListenPort = 15001

// Hub sizing.
const (
	LogHistorySize      = 2000
	CallHistorySize     = 2000
	EdgeLatencySamples  = 256
	ClientChannelBuffer = 1000
)

// Timing.
const (
	ContainerPollInterval = 250 * time.Millisecond
	AcceptIdleSleep       = 100 * time.Millisecond
	EnginePollInterval    = 100 * time.Millisecond
	SSEPingInterval       = 1 * time.Second

	EngineStopGrace    = 10 * time.Second
	LogWorkerStopGrace = 5 * time.Second
	WatchdogStopGrace  = 1 * time.Second
	WatchdogPollPeriod = 1 * time.Second
)

// NonJSONBodyPreviewLimit bounds the size of a normalized non-JSON body.
const NonJSONBodyPreviewLimit = 4096

// LogColorPalette is the fixed round-robin ANSI color palette for
// per-service log line prefixes.
var LogColorPalette = []int{31, 32, 33, 34, 35, 36, 91, 92, 93, 94, 95, 96}

// Environment variable names (§6).
const (
	EnvComposeCmd    = "TRUSS_COMPOSE_CMD"
	EnvConnection    = "TRUSS_CONNECTION"
	EnvProjectName   = "TRUSS_PROJECT_NAME"
	EnvComposeFile   = "TRUSS_COMPOSE_FILE"
	EnvDefaultBuild  = "TRUSS_DEFAULT_BUILD"
	EnvRemoveOrphans = "TRUSS_REMOVE_ORPHANS"
	EnvLogUI         = "TRUSS_LOG_UI"
	EnvLogColor      = "TRUSS_LOG_COLOR"
	EnvLogTimestamps = "TRUSS_LOG_TIMESTAMPS"
	EnvEgress        = "TRUSS_EGRESS"
	EnvProxyImage    = "TRUSS_ENVOY_IMAGE"
)

// DefaultProxyImage is used when no override is configured.
const DefaultProxyImage = "envoyproxy/envoy:v1.31-latest"

// Exit codes (§6).
const (
	ExitSuccess = 0
	ExitFatal   = 1
	ExitUsage   = 2
	ExitSignal  = 130
)
