package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/observation"
)

func TestObservationBuilder(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	o := NewObservationBuilder(observation.KindRead).
		ID("obs-1").
		Cause("act-1").
		At(ts).
		Payload(map[string]any{"content": "hi"}).
		MustBuild(t)

	assert.Equal(t, observation.KindRead, o.Kind())
	assert.Equal(t, "obs-1", o.ID())
	assert.Equal(t, "act-1", o.Cause())
	assert.True(t, o.Timestamp().Equal(ts))
	assert.Equal(t, time.UTC, o.Timestamp().Location())
}

func TestObservationBuilder_Failed(t *testing.T) {
	o := NewObservationBuilder(observation.KindBrowse).Cause("a").Failed(observation.FailureTimeout, "slow").MustBuild(t)
	require.True(t, o.Failed())
	assert.Equal(t, observation.FailureTimeout, o.Failure().Reason)
}

func TestObservationBuilder_RejectsMismatch(t *testing.T) {
	_, err := NewObservationBuilder(observation.KindRun).Payload(observation.ChatPayload{Message: "x"}).Build()
	assert.ErrorIs(t, err, observation.ErrInvalidPayload)
}

func TestShortcuts(t *testing.T) {
	assert.Equal(t, observation.KindRead, Read(t, "x", "a").Kind())
	assert.Equal(t, observation.KindChat, Chat(t, "x", "a").Kind())

	p, ok := observation.PayloadAs[observation.RunPayload](Run(t, 3, "a"))
	require.True(t, ok)
	assert.Equal(t, 3, p.ExitStatus())
}

func TestSessionBuilder(t *testing.T) {
	store := NewSessionBuilder("s1").Observation(Read(t, "a", "1")).Observations(Run(t, 0, "2"), Chat(t, "c", "3")).Build(t)
	n, err := store.Len(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	runs, err := store.ByKind(context.Background(), "s1", observation.KindRun)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSleepRun(t *testing.T) {
	o, err := SleepRun().Execute(context.Background(), RunAction("r", 1))
	require.NoError(t, err)
	assert.Equal(t, "r", o.Cause())
	assert.False(t, o.Failed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, err = SleepRun().Execute(ctx, RunAction("r", 5000))
	require.NoError(t, err)
	assert.Equal(t, observation.FailureCancelled, o.Failure().Reason)
}

func TestStaticAndUnresponsive(t *testing.T) {
	want := Chat(t, "x", "a")
	got, err := Static(want, nil).Execute(context.Background(), executor.Action{})
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	release := make(chan struct{})
	close(release)
	_, err = Unresponsive(release).Execute(context.Background(), executor.Action{})
	assert.EqualError(t, err, "too late")
}
