package derive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const canonicalFixture = `
services:
  web:
    image: example/web:latest
    build:
      context: ./web
    env_file: ./web/.env
    ports:
      - "8080:8080"
    volumes:
      - ./data:/data
    depends_on:
      db:
        condition: service_healthy
  db:
    image: postgres:16
    ports:
      - "5432:5432"
`

func deriveFixture(t *testing.T, opts Options) *Result {
	t.Helper()

	tmp := t.TempDir()
	opts.SourceDir = tmp
	opts.SourceFile = filepath.Join(tmp, "compose.yaml")

	if opts.Tool == "" {
		opts.Tool = "truss"
	}

	if opts.Project == "" {
		opts.Project = "myproj"
	}

	if opts.RunID == "" {
		opts.RunID = domain.RunID("abc123")
	}

	result, err := Derive([]byte(canonicalFixture), opts)
	require.NoError(t, err)

	return result
}

func TestDeriveTrafficDisabledStampsLabelsOnly(t *testing.T) {
	result := deriveFixture(t, Options{Traffic: false, StartedAt: time.Unix(0, 0)})

	require.Empty(t, result.ProxiedServices)

	raw, err := os.ReadFile(result.DerivedPath)
	require.NoError(t, err)

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal(raw, &doc))

	root := doc.Content[0]
	services := mapValue(root, "services")
	web := mapValue(services, "web")
	labels := mapValue(web, "labels")

	require.NotNil(t, labels)
	assert.Equal(t, "myproj", mapValue(labels, constants.LabelProject).Value)
	assert.Equal(t, "web", mapValue(labels, constants.LabelService).Value)

	build := mapValue(web, "build")
	ctx := mapValue(build, "context")
	assert.True(t, filepath.IsAbs(ctx.Value))
}

func TestDeriveTrafficEnabledSplitsProxiedServices(t *testing.T) {
	result := deriveFixture(t, Options{Traffic: true, Egress: false, StartedAt: time.Unix(0, 0)})

	assert.ElementsMatch(t, []string{"web", "db"}, result.ProxiedServices)
	assert.Equal(t, "web", result.AppAliasMap["web-app"])

	raw, err := os.ReadFile(result.DerivedPath)
	require.NoError(t, err)

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal(raw, &doc))

	root := doc.Content[0]
	services := mapValue(root, "services")

	webProxy := mapValue(services, "web")
	require.NotNil(t, webProxy)
	assert.NotNil(t, mapValue(webProxy, "command"))

	webApp := mapValue(services, "web-app")
	require.NotNil(t, webApp)
	assert.Nil(t, mapValue(webApp, "ports"))
	assert.NotNil(t, mapValue(webApp, "expose"))

	deps := mapValue(webApp, "depends_on")
	dbCond := mapValue(deps, "db-app")
	require.NotNil(t, dbCond)
	assert.Equal(t, "service_healthy", mapValue(dbCond, "condition").Value)
}

func TestDeriveEgressInjectsProxyEnv(t *testing.T) {
	result := deriveFixture(t, Options{Traffic: true, Egress: true, StartedAt: time.Unix(0, 0)})

	assert.Equal(t, constants.EgressService, result.EgressServiceName)

	raw, err := os.ReadFile(result.DerivedPath)
	require.NoError(t, err)

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal(raw, &doc))

	root := doc.Content[0]
	services := mapValue(root, "services")

	egress := mapValue(services, constants.EgressService)
	require.NotNil(t, egress)

	webApp := mapValue(services, "web-app")
	env := mapValue(webApp, "environment")
	require.NotNil(t, env)
	assert.Contains(t, mapValue(env, "NO_PROXY").Value, "db")
}

const proxyOverrideFixture = `
services:
  web:
    image: example/web:latest
    container_name: web-1
    restart: unless-stopped
    networks:
      - backend
    ports:
      - "8080:8080"
    labels:
      truss.proxy: tcp
  admin:
    image: example/admin:latest
    ports:
      - "9000:9000"
    labels:
      - truss.proxy=off
networks:
  backend: {}
`

func TestDeriveHonorsProxyProtocolOverride(t *testing.T) {
	tmp := t.TempDir()

	result, err := Derive([]byte(proxyOverrideFixture), Options{
		Traffic:    true,
		StartedAt:  time.Unix(0, 0),
		SourceDir:  tmp,
		SourceFile: filepath.Join(tmp, "compose.yaml"),
		Tool:       "truss",
		Project:    "myproj",
		RunID:      domain.RunID("abc123"),
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"web"}, result.ProxiedServices)

	raw, err := os.ReadFile(result.DerivedPath)
	require.NoError(t, err)

	var doc yaml.Node
	require.NoError(t, yaml.Unmarshal(raw, &doc))

	root := doc.Content[0]
	services := mapValue(root, "services")

	admin := mapValue(services, "admin")
	require.NotNil(t, admin)
	assert.Nil(t, mapValue(admin, "command"), "off service must stay unmodified, not split into app/proxy")
	assert.NotNil(t, mapValue(admin, "ports"), "off service keeps its own published ports")

	webProxy := mapValue(services, "web")
	require.NotNil(t, webProxy)
	assert.Equal(t, "web-1", mapValue(webProxy, "container_name").Value)
	assert.Equal(t, "unless-stopped", mapValue(webProxy, "restart").Value)

	nets := mapValue(webProxy, "networks")
	require.NotNil(t, nets)
	assert.Equal(t, "backend", nets.Content[0].Value)

	deps := mapValue(webProxy, "depends_on")
	require.NotNil(t, deps)
	assert.NotNil(t, mapValue(deps, "web-app"))

	webApp := mapValue(services, "web-app")
	require.NotNil(t, webApp)
	assert.Nil(t, mapValue(webApp, "container_name"), "container_name moves to the proxy, not the app")
}

func TestDeriveIsIdempotentGivenSameInputs(t *testing.T) {
	opts := Options{Traffic: true, Egress: true, StartedAt: time.Unix(0, 0)}

	first := deriveFixture(t, opts)

	firstOut, err := os.ReadFile(first.DerivedPath)
	require.NoError(t, err)

	opts.SourceDir = filepath.Dir(filepath.Dir(first.RunDir))
	opts.SourceFile = filepath.Join(opts.SourceDir, "compose.yaml")

	second, err := Derive([]byte(canonicalFixture), Options{
		Traffic:    true,
		Egress:     true,
		StartedAt:  time.Unix(0, 0),
		SourceDir:  opts.SourceDir,
		SourceFile: opts.SourceFile,
		Tool:       "truss",
		Project:    "myproj",
		RunID:      "abc123",
	})
	require.NoError(t, err)

	secondOut, err := os.ReadFile(second.DerivedPath)
	require.NoError(t, err)

	assert.Equal(t, string(firstOut), string(secondOut))
}
