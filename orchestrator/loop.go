package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/obsmesh/executor"
	"github.com/hupe1980/obsmesh/history"
	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

var (
	// ErrLoopClosed is returned when submitting to a closed loop.
	ErrLoopClosed = errors.New("loop closed")
	// ErrNoExecutor is returned when no executor is registered for a kind.
	ErrNoExecutor = errors.New("no executor for kind")
	// ErrActionNotFound is returned by Cancel for an id that is not in flight.
	ErrActionNotFound = errors.New("action not found")
	// ErrDuplicateAction is returned when an action id is already in flight.
	ErrDuplicateAction = errors.New("action id already in flight")
	// ErrUnexpectedKind is reported when an executor answers with another kind.
	ErrUnexpectedKind = errors.New("observation kind does not match action")
	// ErrCorrelationMismatch is reported when an observation names another action.
	ErrCorrelationMismatch = errors.New("observation cause does not match action")
	// ErrEmptyObservation is reported when an executor returns neither an
	// observation nor an error.
	ErrEmptyObservation = errors.New("executor returned no observation")
)

// Outcome is the single result of one action.
type Outcome struct {
	ActionID string
	Kind     observation.Kind
	// Observation is set whenever the action produced or was assigned one,
	// including failure observations.
	Observation observation.Observation
	// Err reports a taxonomy failure: the executor returned an error, an
	// observation of the wrong kind, or one correlated with another action.
	Err      error
	Duration time.Duration
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// MaxConcurrent limits actions executing at the same time.
	MaxConcurrent int
	// ActionTimeout applies to actions without their own timeout.
	ActionTimeout time.Duration
	// GracePeriod is how long an executor may take to report after its
	// deadline or cancellation before the loop answers for it.
	GracePeriod time.Duration
	// BufferSize sets the capacity of the Outcomes channel.
	BufferSize int
	// SessionID names the history session observations are appended to.
	SessionID string
	History   history.Store
	Registry  *observation.Registry
	Logger    logging.Logger
	// Metrics records action counts and latencies when set.
	Metrics *Metrics
	// Tracer starts one span per action. Defaults to the global provider.
	Tracer trace.Tracer
}

// Loop coordinates action execution. Public methods are safe for concurrent use.
type Loop struct {
	executors map[observation.Kind]executor.Executor

	actionTimeout time.Duration
	gracePeriod   time.Duration
	sessionID     string
	history       history.Store
	registry      *observation.Registry
	logger        logging.Logger
	metrics       *Metrics
	tracer        trace.Tracer

	sem      *semaphore.Weighted
	outcomes chan Outcome

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// New constructs a Loop over executors keyed by the kind they produce.
func New(executors map[observation.Kind]executor.Executor, optFns ...func(o *Options)) *Loop {
	opts := Options{
		MaxConcurrent: 10,
		ActionTimeout: 60 * time.Second,
		GracePeriod:   time.Second,
		BufferSize:    100,
		History:       history.NewInMemoryStore(),
		Registry:      observation.DefaultRegistry(),
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.BufferSize < 0 {
		opts.BufferSize = 0
	}
	if opts.SessionID == "" {
		opts.SessionID = util.NewID()
	}
	if opts.Tracer == nil {
		opts.Tracer = defaultTracer()
	}

	execs := make(map[observation.Kind]executor.Executor, len(executors))
	for k, e := range executors {
		execs[k] = e
	}

	return &Loop{
		executors:     execs,
		actionTimeout: opts.ActionTimeout,
		gracePeriod:   opts.GracePeriod,
		sessionID:     opts.SessionID,
		history:       opts.History,
		registry:      opts.Registry,
		logger:        logging.OrNoOp(opts.Logger),
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		sem:           semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		outcomes:      make(chan Outcome, opts.BufferSize),
		active:        make(map[string]context.CancelFunc),
	}
}

// SessionID returns the history session this loop appends to.
func (l *Loop) SessionID() string { return l.sessionID }

// History returns the history store.
func (l *Loop) History() history.Store { return l.history }

// Outcomes returns the channel outcomes of submitted actions and delivered
// observations arrive on, in completion order. Consumers must keep draining
// it; it is closed by Close once all in-flight actions have reported.
func (l *Loop) Outcomes() <-chan Outcome { return l.outcomes }

// Submit starts an action and returns its id, generating one when a.ID is
// empty. The action runs under ctx; cancelling ctx cancels the action.
func (l *Loop) Submit(ctx context.Context, a executor.Action) (string, error) {
	return l.submit(ctx, a, nil)
}

// Run submits actions and waits for all of their outcomes, returned in
// completion order. Outcomes of actions started by Run are not delivered on
// Outcomes(). Every action is validated before any is started.
func (l *Loop) Run(ctx context.Context, actions ...executor.Action) ([]Outcome, error) {
	for _, a := range actions {
		if err := l.check(a); err != nil {
			return nil, err
		}
	}

	reply := make(chan Outcome, len(actions))
	started := 0
	var submitErr error
	for _, a := range actions {
		if _, err := l.submit(ctx, a, reply); err != nil {
			submitErr = err
			break
		}
		started++
	}

	out := make([]Outcome, 0, started)
	for i := 0; i < started; i++ {
		out = append(out, <-reply)
	}
	return out, submitErr
}

// Cancel cancels an in-flight action. Its outcome still arrives, carrying a
// cancelled failure observation unless the executor finished first.
func (l *Loop) Cancel(actionID string) error {
	l.mu.Lock()
	cancel, ok := l.active[actionID]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
	}
	cancel()
	return nil
}

// Active returns the number of actions in flight.
func (l *Loop) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

// Deliver injects an observation that was not requested by an action, such as
// a chat message pushed by the user. It is appended to history and delivered
// on Outcomes() with its Cause as the action id.
func (l *Loop) Deliver(ctx context.Context, o observation.Observation) error {
	if o.IsZero() {
		return ErrEmptyObservation
	}
	if !o.IsOpaque() {
		if _, ok := l.registry.Lookup(o.Kind()); !ok {
			return fmt.Errorf("deliver %q: %w", o.Kind(), observation.ErrUnknownKind)
		}
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()
	defer l.wg.Done()

	l.record(ctx, o)
	select {
	case l.outcomes <- Outcome{ActionID: o.Cause(), Kind: o.Kind(), Observation: o}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting actions, waits for in-flight actions to report and
// closes the Outcomes channel. Callers must keep draining Outcomes until it is
// closed.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.wg.Wait()
	close(l.outcomes)
	return nil
}

func (l *Loop) check(a executor.Action) error {
	if _, ok := l.registry.Lookup(a.Kind); !ok {
		return fmt.Errorf("submit %q: %w", a.Kind, observation.ErrUnknownKind)
	}
	if _, ok := l.executors[a.Kind]; !ok {
		return fmt.Errorf("%w: %s", ErrNoExecutor, a.Kind)
	}
	return nil
}

func (l *Loop) submit(ctx context.Context, a executor.Action, reply chan<- Outcome) (string, error) {
	if err := l.check(a); err != nil {
		return "", err
	}
	if a.ID == "" {
		a.ID = util.NewID()
	}
	if a.Timeout <= 0 {
		a.Timeout = l.actionTimeout
	}

	actx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		return "", ErrLoopClosed
	}
	if _, dup := l.active[a.ID]; dup {
		l.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: %s", ErrDuplicateAction, a.ID)
	}
	l.active[a.ID] = cancel
	l.wg.Add(1)
	l.mu.Unlock()
	l.metrics.started()

	l.logger.Debug("orchestrator.action.submitted", "action_id", a.ID, "kind", string(a.Kind), "timeout", a.Timeout)

	go l.run(actx, cancel, a, reply)
	return a.ID, nil
}

func (l *Loop) run(ctx context.Context, cancel context.CancelFunc, a executor.Action, reply chan<- Outcome) {
	defer l.wg.Done()

	ctx, span := l.startSpan(ctx, a.ID, string(a.Kind))

	start := time.Now()
	out := l.execute(ctx, a)
	out.Duration = time.Since(start)

	cancel()
	l.mu.Lock()
	delete(l.active, a.ID)
	l.mu.Unlock()

	if out.Err == nil {
		l.record(ctx, out.Observation)
	}
	endSpan(span, out)
	l.metrics.finished(out)
	logging.LogExecution(l.logger, string(a.Kind), a.ID, out.Duration, out.Err == nil && !out.Observation.Failed(), outcomeError(out))

	if reply != nil {
		reply <- out
		return
	}
	l.outcomes <- out
}

type result struct {
	obs observation.Observation
	err error
}

func (l *Loop) execute(ctx context.Context, a executor.Action) Outcome {
	out := Outcome{ActionID: a.ID, Kind: a.Kind}

	// The timeout covers time spent queued for a slot.
	actx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()

	if err := l.sem.Acquire(actx, 1); err != nil {
		return l.synthesize(actx, out, err)
	}

	// The slot is held until the executor returns, even when abandoned.
	done := make(chan result, 1)
	go func() {
		defer l.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				l.logger.Error("orchestrator.action.panic", "action_id", a.ID, "kind", string(a.Kind), "recover", r, "stack", string(debug.Stack()))
				done <- result{err: &panicError{val: r}}
			}
		}()
		o, err := l.executors[a.Kind].Execute(actx, a)
		done <- result{obs: o, err: err}
	}()

	var r result
	select {
	case r = <-done:
	case <-actx.Done():
		grace := time.NewTimer(l.gracePeriod)
		defer grace.Stop()
		select {
		case r = <-done:
		case <-grace.C:
			l.logger.Warn("orchestrator.action.abandoned", "action_id", a.ID, "kind", string(a.Kind), "grace", l.gracePeriod)
			l.metrics.abandon(string(a.Kind))
			return l.synthesize(actx, out, actx.Err())
		}
	}

	var pe *panicError
	if errors.As(r.err, &pe) {
		return l.failure(out, observation.FailureError, pe.Error())
	}
	if r.err != nil {
		out.Err = fmt.Errorf("execute %s: %w", a.ID, r.err)
		out.Observation = r.obs
		return out
	}
	return l.accept(out, r.obs)
}

// accept checks the executor's observation against the action it answers.
func (l *Loop) accept(out Outcome, o observation.Observation) Outcome {
	switch {
	case o.IsZero():
		out.Err = ErrEmptyObservation
		return out
	case o.Cause() == "":
		o = o.WithCause(out.ActionID)
	}
	out.Observation = o

	if o.Kind() != out.Kind {
		out.Err = fmt.Errorf("%w: want %q, got %q", ErrUnexpectedKind, out.Kind, o.Kind())
		return out
	}
	if o.Cause() != out.ActionID {
		out.Err = fmt.Errorf("%w: want %q, got %q", ErrCorrelationMismatch, out.ActionID, o.Cause())
		return out
	}
	return out
}

// synthesize answers for an executor that never ran or never reported.
func (l *Loop) synthesize(ctx context.Context, out Outcome, err error) Outcome {
	return l.failure(out, executor.FailureReason(ctx, err), err.Error())
}

func (l *Loop) failure(out Outcome, reason observation.FailureReason, msg string) Outcome {
	o, err := l.registry.Fail(out.Kind, observation.Failure{Reason: reason, Message: msg}, func(o *observation.Options) {
		o.Cause = out.ActionID
		o.Timestamp = time.Now()
	})
	if err != nil {
		out.Err = err
		return out
	}
	out.Observation = o
	return out
}

// record appends o to history. The action's own context is usually done by
// now, so only its values are kept.
func (l *Loop) record(ctx context.Context, o observation.Observation) {
	if err := l.history.Append(context.WithoutCancel(ctx), l.sessionID, o); err != nil {
		l.logger.Warn("orchestrator.history.append_failed", "kind", string(o.Kind()), "cause", o.Cause(), "error", err)
	}
}

func outcomeError(out Outcome) error {
	if out.Err != nil {
		return out.Err
	}
	if f := out.Observation.Failure(); f != nil {
		return fmt.Errorf("%s: %s", f.Reason, f.Message)
	}
	return nil
}

type panicError struct {
	val any
}

func (p *panicError) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
