package supervisor

import "github.com/ethpandaops/truss/internal/runconfig"

// SubcommandPlan is the compose argv the supervisor will actually spawn,
// plus the remembered flags that drive the rest of the run (§4.3).
type SubcommandPlan struct {
	Subcommand    string
	Args          []string // full argv including the subcommand itself
	Detach        bool
	NoCache       bool
	NoStart       bool
	ForceRecreate bool
}

// PlanSubcommand strips `--no-cache`/`--force-recreate`/`--no-recreate`/
// `--no-start` out of the user's raw subcommand arguments (remembering
// them for the supervisor's own decisions) and injects the engine-level
// defaults `up` and `down` need.
func PlanSubcommand(subcommand string, rawArgs []string, cfg runconfig.Config) SubcommandPlan {
	plan := SubcommandPlan{Subcommand: subcommand}

	var noRecreate bool

	cleaned := make([]string, 0, len(rawArgs))

	for _, a := range rawArgs {
		switch a {
		case "--no-cache":
			plan.NoCache = true

			continue
		case "--force-recreate":
			plan.ForceRecreate = true

			continue
		case "--no-recreate":
			noRecreate = true
		case "--no-start":
			plan.NoStart = true
		case "-d", "--detach":
			plan.Detach = true
		}

		cleaned = append(cleaned, a)
	}

	final := append([]string{subcommand}, cleaned...)

	switch subcommand {
	case "up":
		if cfg.DefaultBuild && !hasFlag(cleaned, "--no-build") {
			final = append(final, "--build")
		}

		if cfg.RemoveOrphans && !hasFlag(cleaned, "--remove-orphans") {
			final = append(final, "--remove-orphans")
		}

		if !noRecreate && !hasFlag(cleaned, "--force-recreate") {
			final = append(final, "--force-recreate")
			plan.ForceRecreate = true
		}
	case "down":
		if !hasFlag(cleaned, "--remove-orphans") {
			final = append(final, "--remove-orphans")
		}
	}

	plan.Args = final

	return plan
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}

	return false
}

// FollowPlan is the supervisor's decision on which followers to run and
// how the run should be cleaned up, per §4.3's follow-plan bullets.
type FollowPlan struct {
	FollowLogs    bool
	FollowTraffic bool
	CleanupOnExit bool
	RetainRunDir  bool
	Warning       string
}

// PlanFollow decides the follow plan. trafficRequested is whether the
// caller asked for traffic observability (already reconciled with
// whether any proxy exists by the caller); logUIDefault is the resolved
// TRUSS_LOG_UI toggle.
func PlanFollow(subPlan SubcommandPlan, trafficRequested, logUIDefault bool) FollowPlan {
	if subPlan.Subcommand != "up" {
		return FollowPlan{}
	}

	if subPlan.NoStart {
		return FollowPlan{Warning: "skipping log and traffic followers: --no-start was passed"}
	}

	followLogs := !subPlan.Detach && (logUIDefault || trafficRequested)
	followTraffic := trafficRequested && !subPlan.Detach

	return FollowPlan{
		FollowLogs:    followLogs,
		FollowTraffic: followTraffic,
		CleanupOnExit: !subPlan.Detach || followLogs || followTraffic,
		RetainRunDir:  subPlan.Detach,
	}
}
