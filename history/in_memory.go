package history

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/hupe1980/obsmesh/observation"
)

// ErrZeroObservation is returned when appending an Observation that was not
// built by the observation package.
var ErrZeroObservation = errors.New("cannot append zero observation")

// InMemoryStore is a volatile Store keeping every session's log in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral runs. Returned slices are copies; observations themselves are
// immutable values and can be shared.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]observation.Observation
}

// NewInMemoryStore constructs an empty in-memory history.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]observation.Observation)}
}

// Append adds o to the session, creating the session lazily.
func (s *InMemoryStore) Append(ctx context.Context, sessionID string, o observation.Observation) error {
	if o.IsZero() {
		return ErrZeroObservation
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], o)
	return nil
}

// List returns a copy of the session's log.
func (s *InMemoryStore) List(ctx context.Context, sessionID string) ([]observation.Observation, error) {
	return s.filter(ctx, sessionID, func(observation.Observation) bool { return true })
}

// ByCause returns the observations whose Cause equals cause.
func (s *InMemoryStore) ByCause(ctx context.Context, sessionID, cause string) ([]observation.Observation, error) {
	return s.filter(ctx, sessionID, func(o observation.Observation) bool { return o.Cause() == cause })
}

// ByKind returns the observations of kind.
func (s *InMemoryStore) ByKind(ctx context.Context, sessionID string, kind observation.Kind) ([]observation.Observation, error) {
	return s.filter(ctx, sessionID, func(o observation.Observation) bool { return o.Kind() == kind })
}

// Len returns the number of observations in the session.
func (s *InMemoryStore) Len(ctx context.Context, sessionID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions[sessionID]), nil
}

// Sessions returns the sorted ids of all sessions with at least one observation.
func (s *InMemoryStore) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) filter(ctx context.Context, sessionID string, keep func(observation.Observation) bool) ([]observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]observation.Observation, 0, len(s.sessions[sessionID]))
	for _, o := range s.sessions[sessionID] {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out, nil
}
