package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGlobalFlagsStopsAtFirstUnrecognisedToken(t *testing.T) {
	flags, remainder, err := parseGlobalFlags([]string{"--engine", "podman", "up", "-d", "--build"})
	require.NoError(t, err)

	assert.Equal(t, "podman", flags.Engine)
	assert.Equal(t, []string{"up", "-d", "--build"}, remainder)
}

func TestParseGlobalFlagsTrafficToggles(t *testing.T) {
	cases := []struct {
		name        string
		args        []string
		wantSet     bool
		wantTraffic bool
	}{
		{"unset by default", []string{"up"}, false, false},
		{"bare flag", []string{"--traffic", "up"}, true, true},
		{"alias", []string{"--comms", "up"}, true, true},
		{"explicit false", []string{"--no-traffic", "up"}, true, false},
		{"equals form true", []string{"--traffic=true", "up"}, true, true},
		{"equals form false", []string{"--traffic=false", "up"}, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags, _, err := parseGlobalFlags(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.wantSet, flags.TrafficSet)
			assert.Equal(t, tc.wantTraffic, flags.Traffic)
		})
	}
}

func TestParseGlobalFlagsComposeFileForms(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"short flag with space", []string{"-f", "docker-compose.yml", "up"}, "docker-compose.yml"},
		{"short flag with equals", []string{"-f=docker-compose.yml", "up"}, "docker-compose.yml"},
		{"long flag with space", []string{"--file", "docker-compose.yml", "up"}, "docker-compose.yml"},
		{"long flag with equals", []string{"--file=docker-compose.yml", "up"}, "docker-compose.yml"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flags, remainder, err := parseGlobalFlags(tc.args)
			require.NoError(t, err)
			assert.Equal(t, tc.want, flags.ComposeFile)
			assert.Equal(t, []string{"up"}, remainder)
		})
	}
}

func TestParseGlobalFlagsDebug(t *testing.T) {
	flags, remainder, err := parseGlobalFlags([]string{"--debug", "down"})
	require.NoError(t, err)
	assert.True(t, flags.Debug)
	assert.Equal(t, []string{"down"}, remainder)
}

func TestParseGlobalFlagsMissingValueIsUsageError(t *testing.T) {
	_, _, err := parseGlobalFlags([]string{"--engine"})
	assert.Error(t, err)

	_, _, err = parseGlobalFlags([]string{"-f"})
	assert.Error(t, err)
}

func TestParseGlobalFlagsInvalidTrafficValue(t *testing.T) {
	_, _, err := parseGlobalFlags([]string{"--traffic=maybe"})
	assert.Error(t, err)
}

func TestParseGlobalFlagsNoSubcommand(t *testing.T) {
	flags, remainder, err := parseGlobalFlags([]string{"--engine", "docker"})
	require.NoError(t, err)
	assert.Equal(t, "docker", flags.Engine)
	assert.Nil(t, remainder)
}
