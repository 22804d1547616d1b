package executor

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/hupe1980/obsmesh/internal/util"
	"github.com/hupe1980/obsmesh/logging"
	"github.com/hupe1980/obsmesh/observation"
)

const (
	// DefaultCommandTimeout bounds a command when neither the action nor the
	// options set a timeout.
	DefaultCommandTimeout = 30 * time.Second
	// DefaultMaxOutputBytes caps each of stdout and stderr.
	DefaultMaxOutputBytes = 1 << 20
)

type runArgs struct {
	Command string `json:"command" description:"Shell command line to execute"`
}

// CommandRunnerOptions configures a CommandRunner.
type CommandRunnerOptions struct {
	// Shell is the interpreter prefix; the command line is appended as the
	// last argument. Defaults to sh -c.
	Shell []string
	// Dir is the working directory.
	Dir string
	// Env replaces the process environment when non-nil.
	Env []string
	// Timeout applies when the action has none.
	Timeout time.Duration
	// WaitDelay bounds how long output pipes are drained after the process
	// is killed.
	WaitDelay      time.Duration
	MaxOutputBytes int
	Logger         logging.Logger
}

// CommandRunner produces run observations by executing shell commands. A
// non-zero exit status keeps its code and carries an error Failure; a command
// that times out or is cancelled reports exit code -1 plus a Failure, keeping
// any partial output.
type CommandRunner struct {
	opts   CommandRunnerOptions
	logger logging.Logger
}

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner(optFns ...func(o *CommandRunnerOptions)) *CommandRunner {
	opts := CommandRunnerOptions{
		Shell:          []string{"sh", "-c"},
		Timeout:        DefaultCommandTimeout,
		WaitDelay:      500 * time.Millisecond,
		MaxOutputBytes: DefaultMaxOutputBytes,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &CommandRunner{opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Kind returns observation.KindRun.
func (r *CommandRunner) Kind() observation.Kind { return observation.KindRun }

// Parameters returns the argument schema.
func (r *CommandRunner) Parameters() map[string]any { return util.CreateSchema(runArgs{}) }

// Execute runs the "command" argument through the configured shell.
func (r *CommandRunner) Execute(ctx context.Context, a Action) (observation.Observation, error) {
	if err := checkKind(a, observation.KindRun); err != nil {
		return observation.Observation{}, err
	}
	args, err := bindArgs[runArgs](a)
	if err != nil {
		return fail(observation.KindRun, a, observation.FailureError, err)
	}
	if len(r.opts.Shell) == 0 {
		return fail(observation.KindRun, a, observation.FailureError, errors.New("no shell configured"))
	}

	ctx, cancel := withTimeout(ctx, a, r.opts.Timeout)
	defer cancel()

	argv := append(append([]string(nil), r.opts.Shell[1:]...), args.Command)
	cmd := exec.CommandContext(ctx, r.opts.Shell[0], argv...)
	cmd.Dir = r.opts.Dir
	if r.opts.Env != nil {
		cmd.Env = r.opts.Env
	}
	cmd.WaitDelay = r.opts.WaitDelay

	stdout := &cappedBuffer{limit: r.opts.MaxOutputBytes}
	stderr := &cappedBuffer{limit: r.opts.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	payload := observation.RunPayload{
		Command:    args.Command,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMS: elapsed.Milliseconds(),
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		payload.ExitCode = observation.ExitCode(-1)
		payload.Failure = &observation.Failure{Reason: FailureReason(ctx, ctx.Err()), Message: ctx.Err().Error()}
	case runErr == nil:
		payload.ExitCode = observation.ExitCode(0)
	case errors.As(runErr, &exitErr):
		payload.ExitCode = observation.ExitCode(exitErr.ExitCode())
		payload.Failure = &observation.Failure{Reason: observation.FailureError, Message: exitErr.Error()}
	default:
		payload.ExitCode = observation.ExitCode(-1)
		payload.Failure = &observation.Failure{Reason: observation.FailureError, Message: runErr.Error()}
	}

	r.logger.Debug("Command finished", "command", args.Command, "exit_code", *payload.ExitCode, "duration", elapsed)
	return observation.Classify(observation.KindRun, payload, envelope(a))
}

// cappedBuffer keeps the first limit bytes written and silently drops the rest
// so a chatty process never blocks on a full pipe.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
