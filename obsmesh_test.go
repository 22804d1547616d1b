package obsmesh

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obsmesh/config"
	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/history"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/memory"
	"github.com/hupe1980/obsmesh/observation"
	"github.com/hupe1980/obsmesh/orchestrator"
)

func newTestMesh(t *testing.T, cfg *config.Config, optFns ...func(o *Options)) *Mesh {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "hello.txt", []byte("hi"), 0o644))

	base := func(o *Options) {
		o.Fs = fs
		o.Logger = logging.NoOpLogger{}
	}
	m, err := New(cfg, append([]func(o *Options){base}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewDefaults(t *testing.T) {
	m := newTestMesh(t, nil)

	assert.Equal(t, observation.PolicyStrict, m.Codec().Policy())
	assert.Same(t, observation.DefaultRegistry(), m.Registry())
	assert.IsType(t, &memory.InMemoryStore{}, m.Memory())
	assert.NotEmpty(t, m.Loop().SessionID())

	var names []string
	for _, tool := range m.Tools() {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"read", "browse", "run", "recall", "chat"}, names)
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Loop.MaxConcurrent = 0

	_, err := New(cfg, func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop.max_concurrent")
}

func TestHandleToolCallRead(t *testing.T) {
	m := newTestMesh(t, nil)

	out, err := m.HandleToolCall(context.Background(), "call_1", "read", `{"path":"hello.txt"}`)
	require.NoError(t, err)
	require.NoError(t, out.Err)
	assert.Equal(t, "call_1", out.ActionID)
	assert.Equal(t, observation.KindRead, out.Observation.Kind())
	assert.Equal(t, "call_1", out.Observation.Cause())

	p, ok := out.Observation.Payload().(observation.ReadPayload)
	require.True(t, ok)
	assert.Equal(t, "hi", p.Content)

	recorded, err := m.Loop().History().ByCause(context.Background(), m.Loop().SessionID(), "call_1")
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.True(t, recorded[0].Equal(out.Observation))
}

func TestHandleToolCallUnknownTool(t *testing.T) {
	m := newTestMesh(t, nil)

	_, err := m.HandleToolCall(context.Background(), "call_1", "screenshot", `{}`)
	assert.ErrorIs(t, err, observation.ErrUnknownKind)
}

func TestRememberAndRecall(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Memory.Backend = config.MemoryBackendVector
	m := newTestMesh(t, cfg)
	assert.IsType(t, &memory.VectorStore{}, m.Memory())

	ctx := context.Background()
	_, err := m.Remember(ctx, "the deploy key lives in vault", nil)
	require.NoError(t, err)
	_, err = m.Remember(ctx, "lunch is at noon", nil)
	require.NoError(t, err)

	out, err := m.Execute(ctx, executor.Action{
		ID:   "act-recall",
		Kind: observation.KindRecall,
		Args: map[string]any{"query": "deploy key", "limit": 1},
	})
	require.NoError(t, err)
	require.NoError(t, out.Err)

	p, ok := out.Observation.Payload().(observation.RecallPayload)
	require.True(t, ok)
	require.Len(t, p.Results, 1)
	assert.Equal(t, "the deploy key lives in vault", p.Results[0].Content)
}

func TestExecutorOverride(t *testing.T) {
	calls := 0
	custom := executor.Func(func(ctx context.Context, a executor.Action) (observation.Observation, error) {
		calls++
		return observation.Classify(observation.KindRun, observation.RunPayload{ExitCode: observation.ExitCode(0), Stdout: "stubbed"},
			func(o *observation.Options) { o.Cause = a.ID })
	})
	m := newTestMesh(t, nil, func(o *Options) {
		o.Executors = map[observation.Kind]executor.Executor{observation.KindRun: custom}
	})

	out, err := m.HandleToolCall(context.Background(), "call_run", "run", `{"command":"rm -rf /"}`)
	require.NoError(t, err)
	require.NoError(t, out.Err)
	assert.Equal(t, 1, calls)

	p, ok := out.Observation.Payload().(observation.RunPayload)
	require.True(t, ok)
	assert.Equal(t, "stubbed", p.Stdout)
}

func TestChatThroughMesh(t *testing.T) {
	m := newTestMesh(t, nil)
	require.NoError(t, m.Chat().TryPost("user", "continue please"))

	out, err := m.Execute(context.Background(), executor.Action{ID: "act-chat", Kind: observation.KindChat})
	require.NoError(t, err)
	require.NoError(t, out.Err)

	p, ok := out.Observation.Payload().(observation.ChatPayload)
	require.True(t, ok)
	assert.Equal(t, "continue please", p.Message)
	assert.Equal(t, "user", p.Sender)
}

func TestLenientCodecFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Codec.Policy = "lenient"
	m := newTestMesh(t, cfg)

	o, err := m.Codec().Deserialize([]byte(`{"observation_type":"screenshot","image":"aGk="}`))
	require.NoError(t, err)
	assert.True(t, o.IsOpaque())
}

func TestMemoryCacheFromConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Memory.CacheSize = 16
	m := newTestMesh(t, cfg)
	require.IsType(t, &memory.CachedStore{}, m.Memory())

	ctx := context.Background()
	_, err := m.Remember(ctx, "standup at nine", nil)
	require.NoError(t, err)
	out, err := m.Execute(ctx, executor.Action{Kind: observation.KindRecall, Args: map[string]any{"query": "standup"}})
	require.NoError(t, err)
	p, _ := observation.PayloadAs[observation.RecallPayload](out.Observation)
	require.Len(t, p.Results, 1)
	assert.Equal(t, 1, m.Memory().(*memory.CachedStore).Cached())
}

func TestMetricsAndHistoryOverrides(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := orchestrator.MustNewMetrics(reg)
	store := history.NewInMemoryStore()

	cfg := config.NewDefaultConfig()
	cfg.Loop.SessionID = "mesh-session"
	m := newTestMesh(t, cfg, func(o *Options) {
		o.Metrics = metrics
		o.History = store
	})

	_, err := m.HandleToolCall(context.Background(), "call_1", "read", `{"path":"hello.txt"}`)
	require.NoError(t, err)

	n, err := store.Len(context.Background(), "mesh-session")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	count, err := promtest.GatherAndCount(reg, "obsmesh_loop_actions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPostgresHistoryRequiresDSN(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.History.Backend = config.HistoryBackendPostgres

	_, err := New(cfg, func(o *Options) { o.Logger = logging.NoOpLogger{} })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.dsn is required")
}
