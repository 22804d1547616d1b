package testutil

import (
	"testing"
	"time"

	"github.com/hupe1980/obsmesh/observation"
)

// ObservationBuilder provides a fluent helper for constructing observations in tests.
// Example:
//
//	o := NewObservationBuilder(observation.KindRead).Cause("act-1").Payload(observation.ReadPayload{Content: "hi"}).MustBuild(t)
//
// Chain only the parts you need.
type ObservationBuilder struct {
	kind      observation.Kind
	registry  *observation.Registry
	id        string
	cause     string
	timestamp time.Time
	payload   any
	failure   *observation.Failure
}

// NewObservationBuilder creates a builder for kind against the default registry.
func NewObservationBuilder(kind observation.Kind) *ObservationBuilder {
	return &ObservationBuilder{kind: kind, registry: observation.DefaultRegistry()}
}

// Registry switches the registry used to classify (chainable).
func (b *ObservationBuilder) Registry(r *observation.Registry) *ObservationBuilder {
	b.registry = r
	return b
}

// ID sets the observation id (chainable).
func (b *ObservationBuilder) ID(id string) *ObservationBuilder { b.id = id; return b }

// Cause sets the correlating action id (chainable).
func (b *ObservationBuilder) Cause(c string) *ObservationBuilder { b.cause = c; return b }

// At sets the timestamp (chainable).
func (b *ObservationBuilder) At(ts time.Time) *ObservationBuilder { b.timestamp = ts; return b }

// Payload sets the raw result: a typed payload, a map or JSON bytes (chainable).
func (b *ObservationBuilder) Payload(p any) *ObservationBuilder { b.payload = p; return b }

// Failed makes the builder produce a failure observation (chainable).
func (b *ObservationBuilder) Failed(reason observation.FailureReason, msg string) *ObservationBuilder {
	b.failure = &observation.Failure{Reason: reason, Message: msg}
	return b
}

// Build classifies the payload, or builds the failure when Failed was called.
func (b *ObservationBuilder) Build() (observation.Observation, error) {
	opts := func(o *observation.Options) {
		o.ID = b.id
		o.Cause = b.cause
		o.Timestamp = b.timestamp
	}
	if b.failure != nil {
		return b.registry.Fail(b.kind, *b.failure, opts)
	}
	return b.registry.Classify(b.kind, b.payload, opts)
}

// MustBuild is Build that fails the test on error.
func (b *ObservationBuilder) MustBuild(t testing.TB) observation.Observation {
	t.Helper()
	o, err := b.Build()
	if err != nil {
		t.Fatalf("build %s observation: %v", b.kind, err)
	}
	return o
}

// Read returns a text read observation caused by cause.
func Read(t testing.TB, content, cause string) observation.Observation {
	t.Helper()
	return NewObservationBuilder(observation.KindRead).Cause(cause).
		Payload(observation.ReadPayload{Content: content}).MustBuild(t)
}

// Run returns a run observation with the given exit code caused by cause.
func Run(t testing.TB, code int, cause string) observation.Observation {
	t.Helper()
	return NewObservationBuilder(observation.KindRun).Cause(cause).
		Payload(observation.RunPayload{ExitCode: observation.ExitCode(code)}).MustBuild(t)
}

// Chat returns a chat observation caused by cause.
func Chat(t testing.TB, msg, cause string) observation.Observation {
	t.Helper()
	return NewObservationBuilder(observation.KindChat).Cause(cause).
		Payload(observation.ChatPayload{Message: msg}).MustBuild(t)
}
