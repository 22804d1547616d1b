package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/obsmesh/observation"
)

// Interface compliance (compile-time assertions)
var (
	_ Describer = (*FileReader)(nil)
	_ Describer = (*Browser)(nil)
	_ Describer = (*CommandRunner)(nil)
	_ Describer = (*Recaller)(nil)
	_ Describer = (*ChatChannel)(nil)
)

func TestFunc_Execute(t *testing.T) {
	f := Func(func(_ context.Context, a Action) (observation.Observation, error) {
		return observation.Classify(observation.KindChat, observation.ChatPayload{Message: "echo"}, envelope(a))
	})
	o, err := f.Execute(context.Background(), Action{ID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", o.Cause())
	assert.False(t, o.Timestamp().IsZero())
}

func TestFailureReason(t *testing.T) {
	bg := context.Background()
	assert.Equal(t, observation.FailureError, FailureReason(bg, errors.New("boom")))
	assert.Equal(t, observation.FailureTimeout, FailureReason(bg, context.DeadlineExceeded))
	assert.Equal(t, observation.FailureCancelled, FailureReason(bg, context.Canceled))

	ctx, cancel := context.WithCancel(bg)
	cancel()
	assert.Equal(t, observation.FailureCancelled, FailureReason(ctx, errors.New("wrapped elsewhere")))

	tctx, tcancel := context.WithTimeout(bg, time.Nanosecond)
	defer tcancel()
	<-tctx.Done()
	assert.Equal(t, observation.FailureTimeout, FailureReason(tctx, errors.New("io")))
}

func TestBindArgs(t *testing.T) {
	args, err := bindArgs[recallArgs](Action{Args: map[string]any{"query": "q", "limit": 3}})
	require.NoError(t, err)
	assert.Equal(t, recallArgs{Query: "q", Limit: 3}, args)

	args, err = bindArgs[recallArgs](Action{Args: map[string]any{"query": "q", "limit": float64(2)}})
	require.NoError(t, err)
	assert.Equal(t, 2, args.Limit)

	_, err = bindArgs[recallArgs](Action{})
	assert.Error(t, err)

	_, err = bindArgs[recallArgs](Action{Args: map[string]any{"query": 7}})
	assert.Error(t, err)
}

func TestCheckKind(t *testing.T) {
	assert.NoError(t, checkKind(Action{}, observation.KindRun))
	assert.NoError(t, checkKind(Action{Kind: observation.KindRun}, observation.KindRun))
	assert.ErrorIs(t, checkKind(Action{Kind: observation.KindRead}, observation.KindRun), ErrKindMismatch)
}
