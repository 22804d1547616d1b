package memory

import (
	"context"
	"errors"
	"maps"
)

// ErrNotFound is returned when deleting an id that is not stored.
var ErrNotFound = errors.New("memory not found")

// Result is one search hit.
type Result struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]any
}

// Searcher is the read side shared by all memory backends.
type Searcher interface {
	// Search returns at most limit hits for query. A limit <= 0 means the
	// backend default.
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// Store is a Searcher that can also be written to.
type Store interface {
	Searcher
	Store(ctx context.Context, content string, metadata map[string]any) (string, error)
	Delete(ctx context.Context, id string) error
	Len() int
}

// DefaultLimit applies when a search is issued with limit <= 0.
const DefaultLimit = 5

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
