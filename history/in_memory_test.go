package history

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obsmesh/observation"
)

// Interface compliance (compile-time assertion)
var _ Store = (*InMemoryStore)(nil)

func chat(t *testing.T, msg, cause string) observation.Observation {
	t.Helper()
	o, err := observation.Classify(observation.KindChat, observation.ChatPayload{Message: msg}, func(o *observation.Options) { o.Cause = cause })
	require.NoError(t, err)
	return o
}

func run(t *testing.T, code int, cause string) observation.Observation {
	t.Helper()
	o, err := observation.Classify(observation.KindRun, observation.RunPayload{ExitCode: observation.ExitCode(code)}, func(o *observation.Options) { o.Cause = cause })
	require.NoError(t, err)
	return o
}

func assertLen(t *testing.T, s Store, sessionID string, want int) {
	t.Helper()
	n, err := s.Len(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, want, n)
}

func TestInMemoryStore_AppendOrderAndQueries(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Append(ctx, "s1", chat(t, "one", "a1")))
	require.NoError(t, s.Append(ctx, "s1", run(t, 0, "a2")))
	require.NoError(t, s.Append(ctx, "s1", chat(t, "two", "a2")))
	require.NoError(t, s.Append(ctx, "s2", chat(t, "other", "b1")))

	all, err := s.List(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, observation.KindChat, all[0].Kind())
	assert.Equal(t, observation.KindRun, all[1].Kind())
	assertLen(t, s, "s1", 3)
	assertLen(t, s, "s2", 1)

	byCause, err := s.ByCause(ctx, "s1", "a2")
	require.NoError(t, err)
	assert.Len(t, byCause, 2)

	byKind, err := s.ByKind(ctx, "s1", observation.KindChat)
	require.NoError(t, err)
	require.Len(t, byKind, 2)
	p, _ := observation.PayloadAs[observation.ChatPayload](byKind[1])
	assert.Equal(t, "two", p.Message)

	ids, err := s.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
}

func TestInMemoryStore_ListIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Append(ctx, "s1", chat(t, "one", "a1")))

	l, _ := s.List(ctx, "s1")
	l[0] = run(t, 1, "x")

	again, _ := s.List(ctx, "s1")
	require.Len(t, again, 1)
	assert.Equal(t, observation.KindChat, again[0].Kind())
}

func TestInMemoryStore_UnknownSessionIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	l, err := s.List(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, l)
	assertLen(t, s, "nope", 0)
}

func TestInMemoryStore_RejectsZero(t *testing.T) {
	assert.ErrorIs(t, NewInMemoryStore().Append(context.Background(), "s1", observation.Observation{}), ErrZeroObservation)
}

func TestInMemoryStore_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := observation.Classify(observation.KindChat, observation.ChatPayload{Message: fmt.Sprint(i)})
			if err != nil {
				t.Errorf("classify: %v", err)
				return
			}
			if err := s.Append(ctx, "s", o); err != nil {
				t.Errorf("append: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assertLen(t, s, "s", 50)
}

func TestExportImport(t *testing.T) {
	c, err := observation.NewCodec(observation.PolicyStrict)
	require.NoError(t, err)

	in := []observation.Observation{chat(t, "hi", "a1"), run(t, 2, "a2")}
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, c, in))
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	out, err := Import(&buf, c)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.True(t, in[i].Equal(out[i]))
	}
}

func TestImport_ReportsLine(t *testing.T) {
	c, err := observation.NewCodec(observation.PolicyStrict)
	require.NoError(t, err)

	input := "{\"observation_type\":\"chat\",\"message\":\"ok\"}\n\n{\"observation_type\":\"screenshot\"}\n"
	out, err := Import(strings.NewReader(input), c)
	require.ErrorIs(t, err, observation.ErrUnknownKind)
	assert.Contains(t, err.Error(), "line 3")
	assert.Len(t, out, 1)
}

func TestInMemoryStore_HonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewInMemoryStore()
	assert.ErrorIs(t, s.Append(ctx, "s1", chat(t, "one", "a1")), context.Canceled)
	_, err := s.List(ctx, "s1")
	assert.ErrorIs(t, err, context.Canceled)
	assertLen(t, s, "s1", 0)
}

func TestExportImport_PreservesRecallAndOpaque(t *testing.T) {
	codec, err := observation.NewCodec(observation.PolicyLenient)
	require.NoError(t, err)
	ctx := context.Background()

	recall, err := observation.Classify(observation.KindRecall, observation.RecallPayload{Results: []observation.RecallResult{
		{ID: "m1", Content: "x", Metadata: map[string]any{"rank": 1, "tags": []string{"ops"}}},
	}}, func(o *observation.Options) { o.Cause = "a1" })
	require.NoError(t, err)
	raw := []byte(`{"observation_type":"screenshot",  "zeta":1,"alpha":{"b":2,"a":1}}`)
	opaque, err := codec.Deserialize(raw)
	require.NoError(t, err)

	s := NewInMemoryStore()
	require.NoError(t, s.Append(ctx, "s1", recall))
	require.NoError(t, s.Append(ctx, "s1", opaque))
	obs, err := s.List(ctx, "s1")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, codec, obs))
	back, err := Import(&buf, codec)
	require.NoError(t, err)
	require.Len(t, back, 2)

	assert.True(t, recall.Equal(back[0]))
	require.True(t, back[1].IsOpaque())
	wire, err := codec.Serialize(back[1])
	require.NoError(t, err)
	assert.Equal(t, raw, wire)
}
