package engineadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLegacyComposeCmdRejectsStandaloneBinaries(t *testing.T) {
	cases := []struct {
		name string
		cmd  []string
		want bool
	}{
		{"docker-compose", []string{"docker-compose"}, true},
		{"podman-compose", []string{"podman-compose", "-f", "x.yaml"}, true},
		{"absolute path to legacy binary", []string{"/usr/local/bin/docker-compose"}, true},
		{"integrated docker compose", []string{"docker", "compose"}, false},
		{"integrated podman compose", []string{"podman", "compose"}, false},
		{"empty", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isLegacyComposeCmd(tc.cmd))
		})
	}
}

func TestKindFromBinary(t *testing.T) {
	assert.Equal(t, "docker", string(kindFromBinary("docker")))
	assert.Equal(t, "podman", string(kindFromBinary("podman")))
	assert.Equal(t, "podman", string(kindFromBinary("/usr/bin/podman")))
}
