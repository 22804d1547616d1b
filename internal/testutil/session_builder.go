package testutil

import (
	"context"
	"testing"

	"github.com/hupe1980/obsmesh/history"
	"github.com/hupe1980/obsmesh/observation"
)

// SessionBuilder helps construct history sessions with fluent chaining for tests.
// Example:
//
//	store := NewSessionBuilder("sess-1").Observations(o1, o2).Build(t)
type SessionBuilder struct {
	id  string
	obs []observation.Observation
}

// NewSessionBuilder creates a new builder for a session with the given id.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id}
}

// Observation appends a single observation to the session (chainable).
func (b *SessionBuilder) Observation(o observation.Observation) *SessionBuilder {
	b.obs = append(b.obs, o)
	return b
}

// Observations appends multiple observations to the session (chainable).
func (b *SessionBuilder) Observations(obs ...observation.Observation) *SessionBuilder {
	b.obs = append(b.obs, obs...)
	return b
}

// Build returns an in-memory history store holding the session.
func (b *SessionBuilder) Build(t testing.TB) *history.InMemoryStore {
	t.Helper()
	s := history.NewInMemoryStore()
	for _, o := range b.obs {
		if err := s.Append(context.Background(), b.id, o); err != nil {
			t.Fatalf("append to session %s: %v", b.id, err)
		}
	}
	return s
}
