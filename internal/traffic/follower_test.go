package traffic

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethpandaops/truss/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu   sync.Mutex
	seen []domain.Observation
}

func (s *fakeSink) Observe(obs domain.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = append(s.seen, obs)
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.seen)
}

type fakeEngine struct {
	ids   []string
	infos []domain.ContainerInfo
	line  string
}

func (f *fakeEngine) Kind() domain.EngineKind { return domain.EngineDocker }
func (f *fakeEngine) ComposeArgs() []string   { return []string{"docker", "compose"} }
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
	return "api", nil
}

func (f *fakeEngine) LogsCommand(id string, timestamps bool) []string {
	return []string{"sh", "-c", "printf '%s\\n' " + shQuote(f.line)}
}

func (f *fakeEngine) CleanupProject(ctx context.Context, composeArgs []string, derivedFile, project string, extraArgs []string) error {
	return nil
}

func shQuote(s string) string {
	return "'" + s + "'"
}

func TestFollowerPromotesAccessLogLineFromDiscoveredContainer(t *testing.T) {
	line := `{"method":"GET","path":"/health","authority":"api:8080","response_code":"200","downstream_remote_address":"10.0.0.5:1","upstream_host":"10.0.0.6:8080"}`

	engine := &fakeEngine{
		ids:   []string{"c1"},
		infos: []domain.ContainerInfo{{ID: "c1", ServiceName: "api"}},
		line:  line,
	}

	sink := &fakeSink{}
	dir := t.TempDir()

	f := New(logrus.StandardLogger(), engine, sink, stubResolver{}, dir)

	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		f.Run(context.Background(), domain.RunID("abc123"), stop)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return sink.count() > 0
	}, 3*time.Second, 20*time.Millisecond)

	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("follower did not stop after stop was closed")
	}

	assert.GreaterOrEqual(t, sink.count(), 1)
}
