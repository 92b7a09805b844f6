// Package runconfig resolves the engine/traffic/logging toggles a run
// needs from .env, the process environment, and CLI flags, in that
// precedence order (flags always win).
package runconfig

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/joho/godotenv"
)

// Config is the resolved set of toggles a supervisor invocation needs.
type Config struct {
	ComposeCmd    []string // TRUSS_COMPOSE_CMD override, split into argv, empty if unset
	Connection    string
	ProjectName   string
	ComposeFile   string
	DefaultBuild  bool
	RemoveOrphans bool
	LogUI         bool
	LogColor      bool
	LogTimestamps bool
	Egress        bool
	ProxyImage    string
}

// FlagOverrides carries the subset of resolved values a caller got from
// explicit CLI flags. A nil pointer field means "flag not passed";
// present fields always win over .env/environment.
type FlagOverrides struct {
	Engine      string
	Connection  *string
	ComposeFile *string
	ProjectName *string
}

// Load resolves a Config by reading an optional .env file from dir (if
// present), then the process environment, then applying overrides.
// Unlike the process environment, a missing .env file is not an error —
// it is the common case for a first run.
func Load(dir string, overrides FlagOverrides) Config {
	envFile := filepath.Join(dir, ".env")
	if fileVars, err := godotenv.Read(envFile); err == nil {
		for k, v := range fileVars {
			if _, already := os.LookupEnv(k); !already {
				os.Setenv(k, v)
			}
		}
	}

	stdoutIsTerminal := false
	if info, err := os.Stdout.Stat(); err == nil {
		stdoutIsTerminal = info.Mode()&os.ModeCharDevice != 0
	}

	cfg := Config{
		DefaultBuild:  boolEnv(constants.EnvDefaultBuild, true),
		RemoveOrphans: boolEnv(constants.EnvRemoveOrphans, true),
		LogUI:         boolEnv(constants.EnvLogUI, true),
		LogColor:      boolEnv(constants.EnvLogColor, stdoutIsTerminal),
		LogTimestamps: boolEnv(constants.EnvLogTimestamps, false),
		Egress:        boolEnv(constants.EnvEgress, false),
		ProxyImage:    envOr(constants.EnvProxyImage, constants.DefaultProxyImage),
		ComposeFile:   os.Getenv(constants.EnvComposeFile),
		ProjectName:   os.Getenv(constants.EnvProjectName),
		Connection:    os.Getenv(constants.EnvConnection),
	}

	if raw := os.Getenv(constants.EnvComposeCmd); raw != "" {
		cfg.ComposeCmd = strings.Fields(raw)
	}

	if overrides.Connection != nil {
		cfg.Connection = *overrides.Connection
	}

	if overrides.ComposeFile != nil {
		cfg.ComposeFile = *overrides.ComposeFile
	}

	if overrides.ProjectName != nil {
		cfg.ProjectName = *overrides.ProjectName
	}

	return cfg
}

// ComposeFileList splits an env-style compose file list on the
// platform-native path-list separator (':' on unix, ';' on windows).
func ComposeFileList(value string) []string {
	if value == "" {
		return nil
	}

	return strings.Split(value, string(os.PathListSeparator))
}

func boolEnv(key string, fallback bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}

	return parseBool(raw, fallback)
}

// parseBool implements §6's truthy/falsey vocabulary: 1|true|yes is
// truthy, 0|false|no is falsey, anything else keeps the fallback.
func parseBool(raw string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

// ParseBoolFlagValue supports the --traffic=<bool> spelling, accepting
// anything strconv.ParseBool accepts plus the §6 yes/no vocabulary.
func ParseBoolFlagValue(raw string) (bool, error) {
	if v, err := strconv.ParseBool(raw); err == nil {
		return v, nil
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, strconv.ErrSyntax
	}
}
