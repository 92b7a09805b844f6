package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/ethpandaops/truss/internal/engineadapter"
	"github.com/ethpandaops/truss/pkg/ui"
)

// RunSummary is one row of `session list`'s output.
type RunSummary struct {
	RunID       string
	Project     string
	StartedAt   time.Time
	ComposeFile string
}

// List discovers every run with at least one container, running or not,
// grouped by run id, sorted by start time descending.
func List(ctx context.Context, engine engineadapter.Engine) ([]RunSummary, error) {
	ids, err := engine.CollectContainerIDsByLabelKey(ctx, constants.LabelRunID, domain.ScopeAll)
	if err != nil {
		return nil, fmt.Errorf("list labeled containers: %w", err)
	}

	if len(ids) == 0 {
		return nil, nil
	}

	infos, err := engine.Inspect(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("inspect labeled containers: %w", err)
	}

	byRun := make(map[string]RunSummary)

	for _, info := range infos {
		runID := info.Labels[constants.LabelRunID]
		if runID == "" {
			continue
		}

		if _, ok := byRun[runID]; ok {
			continue
		}

		startedAt, _ := time.Parse(constants.StartedAtLayout, info.Labels[constants.LabelStartedAt])

		byRun[runID] = RunSummary{
			RunID:       runID,
			Project:     info.Labels[constants.LabelProject],
			StartedAt:   startedAt,
			ComposeFile: info.Labels[constants.LabelComposeFile],
		}
	}

	summaries := make([]RunSummary, 0, len(byRun))
	for _, s := range byRun {
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})

	return summaries, nil
}

// PrintRuns renders summaries as a content-sized table.
func PrintRuns(summaries []RunSummary) {
	rows := make([][]string, 0, len(summaries))

	for _, s := range summaries {
		started := "unknown"
		duration := "-"

		if !s.StartedAt.IsZero() {
			started = s.StartedAt.Format(time.RFC3339)
			duration = time.Since(s.StartedAt).Round(time.Second).String()
		}

		rows = append(rows, []string{s.RunID, started, duration, s.ComposeFile})
	}

	ui.Table([]string{"RUN ID", "STARTED", "DURATION", "COMPOSE FILE"}, rows)
}
