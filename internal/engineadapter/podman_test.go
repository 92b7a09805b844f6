package engineadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPodmanComposeArgsUsesOverrideVerbatim(t *testing.T) {
	e := newPodmanEngine("", []string{"podman", "compose", "-f", "alt.yaml"})
	assert.Equal(t, []string{"podman", "compose", "-f", "alt.yaml"}, e.ComposeArgs())
}

func TestPodmanComposeArgsDerivesDefaultWithConnection(t *testing.T) {
	e := newPodmanEngine("remote1", nil)
	assert.Equal(t, []string{"podman", "--connection", "remote1", "compose"}, e.ComposeArgs())
}

func TestPodmanComposeArgsDerivesDefaultWithoutConnection(t *testing.T) {
	e := newPodmanEngine("", nil)
	assert.Equal(t, []string{"podman", "compose"}, e.ComposeArgs())
}
