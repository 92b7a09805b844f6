package derive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortShort(t *testing.T) {
	cases := []struct {
		spec     string
		wantHost string
		wantCtr  string
		wantIP   string
		wantProt string
	}{
		{spec: "8080", wantCtr: "8080"},
		{spec: "8080/tcp", wantCtr: "8080", wantProt: "tcp"},
		{spec: "127.0.0.1:3000:80", wantIP: "127.0.0.1", wantHost: "3000", wantCtr: "80"},
		{spec: "0.0.0.0:3000:8080/udp", wantIP: "0.0.0.0", wantHost: "3000", wantCtr: "8080", wantProt: "udp"},
		{spec: "${HOST_PORT:-8080}:${PORT:-3000}", wantHost: "8080", wantCtr: "3000"},
		{spec: "${PORT:-3000}", wantCtr: "3000"},
		{spec: "${PORT-3000}", wantCtr: "3000"},
		{spec: "[::1]:3000:80", wantIP: "[::1]", wantHost: "3000", wantCtr: "80"},
		{spec: "[::1]:${HOST_PORT:-3000}:${PORT:-80}", wantIP: "[::1]", wantHost: "3000", wantCtr: "80"},
	}

	for _, tc := range cases {
		t.Run(tc.spec, func(t *testing.T) {
			mapping, ok := ParsePortShort(tc.spec)
			require.True(t, ok)
			assert.Equal(t, tc.wantIP, mapping.HostIP)
			assert.Equal(t, tc.wantHost, mapping.HostPort)
			assert.Equal(t, tc.wantCtr, mapping.ContainerPort)
			assert.Equal(t, tc.wantProt, mapping.Protocol)
		})
	}
}

func TestIsKnownHTTPPort(t *testing.T) {
	assert.True(t, IsKnownHTTPPort("8080"))
	assert.True(t, IsKnownHTTPPort("15672"))
	assert.False(t, IsKnownHTTPPort("5432"))
}
