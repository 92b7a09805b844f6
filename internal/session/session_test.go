package session

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/truss/internal/constants"
	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	byKey map[string][]string
	infos map[string]domain.ContainerInfo
}

func (f *fakeEngine) Kind() domain.EngineKind { return domain.EngineDocker }
func (f *fakeEngine) ComposeArgs() []string   { return []string{"docker", "compose"} }
func (f *fakeEngine) FollowsInThread() bool   { return true }
func (f *fakeEngine) SupportsWatchdog() bool  { return false }
func (f *fakeEngine) ManualLogFollow() bool   { return true }
func (f *fakeEngine) EmitStdoutForLogs() bool { return false }

func (f *fakeEngine) CollectContainerIDs(ctx context.Context, labels map[string]string, scope domain.Scope) ([]string, error) {
	runID := labels[constants.LabelRunID]

	var ids []string

	for id, info := range f.infos {
		if info.Labels[constants.LabelRunID] == runID {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (f *fakeEngine) CollectContainerIDsByLabelKey(ctx context.Context, key string, scope domain.Scope) ([]string, error) {
	return f.byKey[key], nil
}

func (f *fakeEngine) Inspect(ctx context.Context, ids []string) ([]domain.ContainerInfo, error) {
	infos := make([]domain.ContainerInfo, 0, len(ids))

	for _, id := range ids {
		infos = append(infos, f.infos[id])
	}

	return infos, nil
}

func (f *fakeEngine) ResolveServiceName(ctx context.Context, project, id string) (string, error) {
	return "", nil
}

func (f *fakeEngine) LogsCommand(id string, timestamps bool) []string { return nil }

func (f *fakeEngine) CleanupProject(ctx context.Context, composeArgs []string, derivedFile, project string, extraArgs []string) error {
	return nil
}

func TestListGroupsByRunIDAndSortsDescending(t *testing.T) {
	older := time.Now().Add(-time.Hour).UTC().Format(constants.StartedAtLayout)
	newer := time.Now().UTC().Format(constants.StartedAtLayout)

	engine := &fakeEngine{
		byKey: map[string][]string{constants.LabelRunID: {"c1", "c2", "c3"}},
		infos: map[string]domain.ContainerInfo{
			"c1": {ID: "c1", Labels: map[string]string{constants.LabelRunID: "aaa", constants.LabelStartedAt: older, constants.LabelProject: "truss-aaa"}},
			"c2": {ID: "c2", Labels: map[string]string{constants.LabelRunID: "aaa", constants.LabelStartedAt: older, constants.LabelProject: "truss-aaa"}},
			"c3": {ID: "c3", Labels: map[string]string{constants.LabelRunID: "bbb", constants.LabelStartedAt: newer, constants.LabelProject: "truss-bbb"}},
		},
	}

	summaries, err := List(context.Background(), engine)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "bbb", summaries[0].RunID)
	assert.Equal(t, "aaa", summaries[1].RunID)
}

func TestAliasMapInvertsAppSuffix(t *testing.T) {
	infos := []domain.ContainerInfo{
		{ServiceName: "api-app"},
		{ServiceName: "api"},
		{ServiceName: "db"},
	}

	aliases := aliasMap(infos)
	assert.Equal(t, map[string]string{"api-app": "api"}, aliases)
}

func TestServiceListSkipsProxiesAndDedupes(t *testing.T) {
	infos := []domain.ContainerInfo{
		{ServiceName: "api", Labels: map[string]string{constants.LabelProxy: "true"}},
		{ServiceName: "api-app"},
		{ServiceName: "api-app"},
		{ServiceName: "db"},
	}

	aliases := aliasMap(infos)
	services := serviceList(infos, aliases)

	names := make([]string, 0, len(services))
	for _, s := range services {
		names = append(names, s.Name)
	}

	assert.ElementsMatch(t, []string{"api", "db"}, names)
}

func TestDownRequiresDerivedFileLabel(t *testing.T) {
	engine := &fakeEngine{
		byKey: map[string][]string{},
		infos: map[string]domain.ContainerInfo{
			"c1": {ID: "c1", Labels: map[string]string{constants.LabelRunID: "aaa", constants.LabelProject: "truss-aaa"}},
		},
	}
	engine.byKey[constants.LabelRunID] = []string{"c1"}

	err := Down(context.Background(), engine, "aaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), constants.LabelDerivedFile)
}

func TestDownReportsMissingRun(t *testing.T) {
	engine := &fakeEngine{byKey: map[string][]string{}, infos: map[string]domain.ContainerInfo{}}

	err := Down(context.Background(), engine, "nope")
	require.Error(t, err)

	var notFound *ErrRunNotFound

	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.RunID)
}
