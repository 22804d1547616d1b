package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// storedMemory is the internal representation persisted by InMemoryStore.
type storedMemory struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// InMemoryStore is a naive process-local Store. Search is a linear scan in
// insertion order with case-insensitive substring matching, assigning a
// constant score of 1.0 to every hit. An empty query matches everything.
//
// Concurrency: protected by RWMutex.
type InMemoryStore struct {
	mu       sync.RWMutex
	memories []storedMemory
	nextID   int
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Store appends a memory and returns its generated id.
func (m *InMemoryStore) Store(ctx context.Context, content string, metadata map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("mem_%d", m.nextID)
	m.nextID++
	m.memories = append(m.memories, storedMemory{ID: id, Content: content, Metadata: copyMetadata(metadata)})
	return id, nil
}

// Search returns up to limit memories containing query.
func (m *InMemoryStore) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	needle := strings.ToLower(query)

	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]Result, 0, min(limit, len(m.memories)))
	for _, stored := range m.memories {
		if len(results) >= limit {
			break
		}
		if needle == "" || strings.Contains(strings.ToLower(stored.Content), needle) {
			results = append(results, Result{
				ID:       stored.ID,
				Content:  stored.Content,
				Score:    1.0,
				Metadata: copyMetadata(stored.Metadata),
			})
		}
	}
	return results, nil
}

// Delete removes a stored memory by id.
func (m *InMemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, stored := range m.memories {
		if stored.ID == id {
			m.memories = append(m.memories[:i], m.memories[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Len returns the number of stored memories.
func (m *InMemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memories)
}
