package resolver

import (
	"context"
	"testing"

	"github.com/ethpandaops/truss/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	ids   []string
	infos []domain.ContainerInfo
}

func (f *fakeEngine) Kind() domain.EngineKind { return domain.EngineDocker }
func (f *fakeEngine) ComposeArgs() []string   { return nil }
func (f *fakeEngine) FollowsInThread() bool   { return true }
func (f *fakeEngine) SupportsWatchdog() bool  { return false }
func (f *fakeEngine) ManualLogFollow() bool   { return true }
func (f *fakeEngine) EmitStdoutForLogs() bool { return false }

func (f *fakeEngine) CollectContainerIDs(ctx context.Context, labels map[string]string, scope domain.Scope) ([]string, error) {
	return f.ids, nil
}

func (f *fakeEngine) CollectContainerIDsByLabelKey(ctx context.Context, key string, scope domain.Scope) ([]string, error) {
	return f.ids, nil
}

func (f *fakeEngine) Inspect(ctx context.Context, ids []string) ([]domain.ContainerInfo, error) {
	return f.infos, nil
}

func (f *fakeEngine) ResolveServiceName(ctx context.Context, project, id string) (string, error) {
	return "", nil
}

func (f *fakeEngine) LogsCommand(id string, timestamps bool) []string { return nil }

func (f *fakeEngine) CleanupProject(ctx context.Context, composeArgs []string, derivedFile, project string, extraArgs []string) error {
	return nil
}

func TestFromEngineIndexesEveryIPToItsWorkload(t *testing.T) {
	engine := &fakeEngine{
		ids: []string{"c1", "c2"},
		infos: []domain.ContainerInfo{
			{ID: "abcdefabcdef1234", ServiceName: "web-app", IPv4: []string{"10.0.0.5"}},
			{ID: "112233445566", ServiceName: "db", IPv4: []string{"10.0.0.6"}, IPv6: []string{"fd00::6"}},
		},
	}

	aliases := map[string]string{"web-app": "web"}

	snap, err := FromEngine(context.Background(), engine, domain.RunID("abc123"), aliases)
	require.NoError(t, err)

	entity, ok := snap.ResolveIP("10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, "web", entity.Name)
	assert.Equal(t, "abcdefabcdef", entity.Instance)

	entity, ok = snap.ResolveIP("fd00::6")
	require.True(t, ok)
	assert.Equal(t, "db", entity.Name)

	_, ok = snap.ResolveIP("10.0.0.99")
	assert.False(t, ok)
}

func TestFromEngineDefaultsUnlabeledServiceToUnknown(t *testing.T) {
	engine := &fakeEngine{
		ids:   []string{"c1"},
		infos: []domain.ContainerInfo{{ID: "c1", IPv4: []string{"10.0.0.9"}}},
	}

	snap, err := FromEngine(context.Background(), engine, domain.RunID("abc123"), nil)
	require.NoError(t, err)

	entity, ok := snap.ResolveIP("10.0.0.9")
	require.True(t, ok)
	assert.Equal(t, "unknown", entity.Name)
}
