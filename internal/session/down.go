package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/engineadapter"
)

// Down tears a run down: resolves its project and derived compose path
// from container labels, drives cleanup through the engine, and removes
// the run's persisted-state directory.
func Down(ctx context.Context, engine engineadapter.Engine, runID string) error {
	infos, err := containersForRun(ctx, engine, runID)
	if err != nil {
		return err
	}

	project := firstLabel(infos, constants.LabelProject)
	if project == "" {
		return fmt.Errorf("run %s has no %s label on any container", runID, constants.LabelProject)
	}

	derivedFile := firstLabel(infos, constants.LabelDerivedFile)
	if derivedFile == "" {
		return fmt.Errorf("run %s has no %s label on any container", runID, constants.LabelDerivedFile)
	}

	if err := engine.CleanupProject(ctx, engine.ComposeArgs(), derivedFile, project, nil); err != nil {
		return fmt.Errorf("cleanup project %s: %w", project, err)
	}

	if derivedFile != "" {
		if err := os.RemoveAll(filepath.Dir(derivedFile)); err != nil {
			return fmt.Errorf("remove run directory: %w", err)
		}
	}

	return nil
}
