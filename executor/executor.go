package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/observation"
)

// ErrKindMismatch is returned when an action is routed to an executor that
// does not produce the action's kind.
var ErrKindMismatch = errors.New("action kind does not match executor")

// Action is one request to act on the world.
type Action struct {
	// ID correlates the action with its observation. Required by executors;
	// the orchestrator assigns one when empty.
	ID string
	// Kind is the observation kind the action is expected to produce.
	Kind observation.Kind
	// Args are the executor specific arguments.
	Args map[string]any
	// Timeout bounds the action; zero means the executor or loop default.
	Timeout time.Duration
}

// Executor performs actions of one kind.
type Executor interface {
	Execute(ctx context.Context, a Action) (observation.Observation, error)
}

// Describer is implemented by executors that publish an argument schema.
type Describer interface {
	Kind() observation.Kind
	Parameters() map[string]any
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, a Action) (observation.Observation, error)

// Execute calls f(ctx, a).
func (f Func) Execute(ctx context.Context, a Action) (observation.Observation, error) {
	return f(ctx, a)
}

func checkKind(a Action, want observation.Kind) error {
	if a.Kind != "" && a.Kind != want {
		return fmt.Errorf("%w: %s executor got %q", ErrKindMismatch, want, a.Kind)
	}
	return nil
}

// bindArgs validates a.Args against the schema of T and decodes them into T.
func bindArgs[T any](a Action) (T, error) {
	var args T
	if err := util.ValidateParameters(a.Args, util.CreateSchema(args)); err != nil {
		return args, err
	}
	data, err := json.Marshal(a.Args)
	if err != nil {
		return args, err
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, err
	}
	return args, nil
}

// withTimeout applies the action timeout, falling back to def. A zero result
// leaves ctx unbounded.
func withTimeout(ctx context.Context, a Action, def time.Duration) (context.Context, context.CancelFunc) {
	d := a.Timeout
	if d <= 0 {
		d = def
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// FailureReason maps an error (and the context it happened under) onto the
// failure reasons of the action-failure convention.
func FailureReason(ctx context.Context, err error) observation.FailureReason {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return observation.FailureTimeout
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return observation.FailureCancelled
	default:
		return observation.FailureError
	}
}

// envelope stamps the observation with the action id and completion time.
func envelope(a Action) func(o *observation.Options) {
	return func(o *observation.Options) {
		o.Cause = a.ID
		o.Timestamp = time.Now()
	}
}

// fail builds the failure observation of kind for a.
func fail(kind observation.Kind, a Action, reason observation.FailureReason, err error) (observation.Observation, error) {
	return observation.Fail(kind, observation.Failure{Reason: reason, Message: err.Error()}, envelope(a))
}
