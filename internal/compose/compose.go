// Package compose drives the selected engine's `compose config` subcommand
// to resolve a user's compose document into the canonical, fully-merged
// representation the derivation engine transforms. This is the sole
// source of truth for derivation: it lets the engine's own interpretation
// of includes, profiles, anchors, and environment interpolation stand.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Driver invokes `<engine> compose config` against a user's document.
type Driver struct {
	log         logrus.FieldLogger
	composeArgs []string // e.g. []string{"docker", "compose"}
}

// NewDriver builds a Driver bound to the given engine's compose argv.
func NewDriver(log logrus.FieldLogger, composeArgs []string) *Driver {
	return &Driver{log: log, composeArgs: composeArgs}
}

// Canonicalize resolves composeFile to its canonical document text via
// `compose config`, run with its working directory set to the file's
// parent so relative includes resolve correctly.
func (d *Driver) Canonicalize(ctx context.Context, composeFile string) ([]byte, error) {
	absFile, err := filepath.Abs(composeFile)
	if err != nil {
		return nil, fmt.Errorf("resolve compose file path: %w", err)
	}

	if _, err := os.Stat(absFile); err != nil {
		return nil, fmt.Errorf("compose file not found: %w", err)
	}

	args := append(append([]string{}, d.composeArgs[1:]...), "-f", absFile, "config")

	//nolint:gosec // composeArgs/absFile are internally resolved, not raw user shell input
	cmd := exec.CommandContext(ctx, d.composeArgs[0], args...)
	cmd.Dir = filepath.Dir(absFile)

	// COMPOSE_PROJECT_NAME is stripped so a stale environment value does
	// not set the project name of the canonical document, matching
	// pkg/compose/compose.go's env-override convention.
	cmd.Env = filterEnv(os.Environ(), "COMPOSE_PROJECT_NAME")
	cmd.Env = append(cmd.Env, "DOCKER_BUILDKIT=1")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.log.WithField("args", args).Debug("resolving canonical compose document")

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("compose config failed: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

func filterEnv(env []string, drop string) []string {
	prefix := drop + "="
	out := make([]string, 0, len(env))

	for _, kv := range env {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			continue
		}

		out = append(out, kv)
	}

	return out
}
