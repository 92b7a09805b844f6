package main

import (
	"fmt"
	"strings"

	"github.com/ethpandaops/truss/internal/runconfig"
)

// globalFlags is the subset of §6's command-line surface truss itself
// recognises, before the wrapped compose subcommand begins.
type globalFlags struct {
	Engine      string
	Traffic     bool
	TrafficSet  bool
	ComposeFile string
	Debug       bool
}

// parseGlobalFlags consumes recognised flags off the front of args and
// returns them alongside the first unrecognised token onward: the
// compose subcommand and its own arguments, untouched. Flags are only
// recognised before the subcommand, matching the wrapped tool's own
// convention.
func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	i := 0

	for i < len(args) {
		arg := args[i]

		switch {
		case arg == "--engine":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("--engine requires a value")
			}

			flags.Engine = args[i+1]
			i += 2
		case strings.HasPrefix(arg, "--engine="):
			flags.Engine = strings.TrimPrefix(arg, "--engine=")
			i++
		case arg == "--traffic", arg == "--comms":
			flags.Traffic, flags.TrafficSet = true, true
			i++
		case arg == "--no-traffic":
			flags.Traffic, flags.TrafficSet = false, true
			i++
		case strings.HasPrefix(arg, "--traffic="), strings.HasPrefix(arg, "--comms="):
			raw := strings.TrimPrefix(strings.TrimPrefix(arg, "--traffic="), "--comms=")

			v, err := runconfig.ParseBoolFlagValue(raw)
			if err != nil {
				return flags, nil, fmt.Errorf("invalid value for %s", arg)
			}

			flags.Traffic, flags.TrafficSet = v, true
			i++
		case arg == "-f", arg == "--file":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("%s requires a value", arg)
			}

			flags.ComposeFile = args[i+1]
			i += 2
		case strings.HasPrefix(arg, "--file="):
			flags.ComposeFile = strings.TrimPrefix(arg, "--file=")
			i++
		case strings.HasPrefix(arg, "-f="):
			flags.ComposeFile = strings.TrimPrefix(arg, "-f=")
			i++
		case arg == "--debug":
			flags.Debug = true
			i++
		default:
			return flags, args[i:], nil
		}
	}

	return flags, nil, nil
}
