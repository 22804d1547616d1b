package testutil

import (
	"context"
	"errors"
	"time"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/observation"
)

// SleepRun answers run actions after Args["delay_ms"] milliseconds with exit
// code 0 and the action id as command. Cancellation yields a failure
// observation whose reason follows the context.
func SleepRun() executor.Executor {
	return executor.Func(func(ctx context.Context, a executor.Action) (observation.Observation, error) {
		cause := func(o *observation.Options) { o.Cause = a.ID }
		delay, _ := a.Args["delay_ms"].(int)
		select {
		case <-time.After(time.Duration(delay) * time.Millisecond):
		case <-ctx.Done():
			return observation.Fail(observation.KindRun, observation.Failure{
				Reason:  executor.FailureReason(ctx, ctx.Err()),
				Message: "stopped",
			}, cause)
		}
		return observation.Classify(observation.KindRun, observation.RunPayload{
			Command:  a.ID,
			ExitCode: observation.ExitCode(0),
		}, cause)
	})
}

// RunAction builds a run action for SleepRun.
func RunAction(id string, delayMS int) executor.Action {
	return executor.Action{ID: id, Kind: observation.KindRun, Args: map[string]any{"delay_ms": delayMS}}
}

// Static returns an executor that always answers with o, or err when set.
func Static(o observation.Observation, err error) executor.Executor {
	return executor.Func(func(context.Context, executor.Action) (observation.Observation, error) {
		return o, err
	})
}

// Unresponsive returns an executor that ignores its context and only
// returns, with an error, once release is closed.
func Unresponsive(release <-chan struct{}) executor.Executor {
	return executor.Func(func(context.Context, executor.Action) (observation.Observation, error) {
		<-release
		return observation.Observation{}, errors.New("too late")
	})
}
