package runconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()

	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)

		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}
}

func TestLoadDefaultsWhenNothingSet(t *testing.T) {
	clearEnv(t, constants.EnvDefaultBuild, constants.EnvEgress, constants.EnvProxyImage, constants.EnvComposeCmd)

	cfg := Load(t.TempDir(), FlagOverrides{})

	assert.True(t, cfg.DefaultBuild)
	assert.False(t, cfg.Egress)
	assert.Equal(t, constants.DefaultProxyImage, cfg.ProxyImage)
	assert.Nil(t, cfg.ComposeCmd)
}

func TestLoadReadsDotEnvWithoutOverridingProcessEnv(t *testing.T) {
	clearEnv(t, constants.EnvEgress, constants.EnvProjectName, constants.EnvConnection)
	os.Setenv(constants.EnvConnection, "from-env")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRUSS_EGRESS=true\nTRUSS_PROJECT_NAME=fromfile\nTRUSS_CONNECTION=fromfile\n"), 0o644))

	cfg := Load(dir, FlagOverrides{})
	assert.True(t, cfg.Egress)
	assert.Equal(t, "fromfile", cfg.ProjectName)
	assert.Equal(t, "from-env", cfg.Connection)
}

func TestLoadFlagOverridesWinOverEnv(t *testing.T) {
	clearEnv(t, constants.EnvProjectName, constants.EnvConnection)
	os.Setenv(constants.EnvProjectName, "from-env")

	override := "from-flag"
	cfg := Load(t.TempDir(), FlagOverrides{ProjectName: &override})

	assert.Equal(t, "from-flag", cfg.ProjectName)
}

func TestParseBoolAcceptsSpecVocabulary(t *testing.T) {
	assert.True(t, parseBool("yes", false))
	assert.True(t, parseBool("1", false))
	assert.False(t, parseBool("no", true))
	assert.False(t, parseBool("0", true))
	assert.True(t, parseBool("garbage", true))
}

func TestComposeFileListSplitsOnPlatformSeparator(t *testing.T) {
	list := ComposeFileList("a.yaml" + string(os.PathListSeparator) + "b.yaml")
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, list)
}
